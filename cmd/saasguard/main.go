package main

import (
	"fmt"

	"github.com/Pasandul2/ZORO9X-sub000/internal/alert"
	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	"github.com/Pasandul2/ZORO9X-sub000/internal/device"
	"github.com/Pasandul2/ZORO9X-sub000/internal/migration"
	"github.com/Pasandul2/ZORO9X-sub000/internal/notification"
	"github.com/Pasandul2/ZORO9X-sub000/internal/observability"
	"github.com/Pasandul2/ZORO9X-sub000/internal/providers"
	"github.com/Pasandul2/ZORO9X-sub000/internal/ratelimit"
	"github.com/Pasandul2/ZORO9X-sub000/internal/scheduler"
	"github.com/Pasandul2/ZORO9X-sub000/internal/server"
	"github.com/Pasandul2/ZORO9X-sub000/internal/subscription"
	"github.com/Pasandul2/ZORO9X-sub000/internal/usage"
	"github.com/Pasandul2/ZORO9X-sub000/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,
		providers.Module,

		// Functional Domains
		subscription.Module,
		notification.Module,
		alert.Module,
		usage.Module,
		device.Module,
		scheduler.Module,

		server.Module,
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
