package main

import (
	"fmt"

	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	"github.com/Pasandul2/ZORO9X-sub000/internal/notification"
	"github.com/Pasandul2/ZORO9X-sub000/internal/observability"
	"github.com/Pasandul2/ZORO9X-sub000/internal/providers"
	"github.com/Pasandul2/ZORO9X-sub000/internal/ratelimit"
	"github.com/Pasandul2/ZORO9X-sub000/internal/scheduler"
	"github.com/Pasandul2/ZORO9X-sub000/internal/subscription"
	"github.com/Pasandul2/ZORO9X-sub000/internal/usage"
	"github.com/Pasandul2/ZORO9X-sub000/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

// Standalone reset worker for deployments that keep the API replicas free of
// background jobs. Replicas share the Redis lock, so running both is safe.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,
		providers.Module,

		// Domain services required by scheduler
		subscription.Module,
		notification.Module,
		usage.Module,
		scheduler.Module,

		// No server module!
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.NodeID, err)
	}
	return node, nil
}
