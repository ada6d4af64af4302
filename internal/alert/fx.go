package alert

import (
	"github.com/Pasandul2/ZORO9X-sub000/internal/alert/repository"
	"github.com/Pasandul2/ZORO9X-sub000/internal/alert/service"
	"go.uber.org/fx"
)

var Module = fx.Module("alert.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
