package notification

import (
	"github.com/Pasandul2/ZORO9X-sub000/internal/notification/repository"
	"github.com/Pasandul2/ZORO9X-sub000/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
