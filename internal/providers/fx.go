package providers

import (
	"github.com/Pasandul2/ZORO9X-sub000/internal/providers/email"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
)
