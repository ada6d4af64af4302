package device

import (
	"github.com/Pasandul2/ZORO9X-sub000/internal/device/repository"
	"github.com/Pasandul2/ZORO9X-sub000/internal/device/service"
	"go.uber.org/fx"
)

var Module = fx.Module("device.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
