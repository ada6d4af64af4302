package subscription

import (
	"context"

	"github.com/Pasandul2/ZORO9X-sub000/internal/cache"
	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	"github.com/Pasandul2/ZORO9X-sub000/internal/subscription/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(provideRepository),
)

func provideRepository(lc fx.Lifecycle) (subscriptiondomain.Repository, error) {
	cached, err := cache.NewSubscriptionCache(repository.Provide(), 0)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cached.Close()
			return nil
		},
	})
	return cached, nil
}
