package usage

import (
	"github.com/Pasandul2/ZORO9X-sub000/internal/usage/repository"
	"github.com/Pasandul2/ZORO9X-sub000/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
