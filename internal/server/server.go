package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	alertdomain "github.com/Pasandul2/ZORO9X-sub000/internal/alert/domain"
	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	devicedomain "github.com/Pasandul2/ZORO9X-sub000/internal/device/domain"
	"github.com/Pasandul2/ZORO9X-sub000/internal/observability"
	obsmiddleware "github.com/Pasandul2/ZORO9X-sub000/internal/observability/logger"
	obstracing "github.com/Pasandul2/ZORO9X-sub000/internal/observability/tracing"
	usagedomain "github.com/Pasandul2/ZORO9X-sub000/internal/usage/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, log *zap.Logger) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(log, obsmiddleware.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	clock     clock.Clock
	alertSvc  alertdomain.Service
	deviceSvc devicedomain.Service
	usageSvc  usagedomain.Service
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	Clock     clock.Clock
	AlertSvc  alertdomain.Service
	DeviceSvc devicedomain.Service
	UsageSvc  usagedomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("http.server"),
		clock:     p.Clock,
		alertSvc:  p.AlertSvc,
		deviceSvc: p.DeviceSvc,
		usageSvc:  p.UsageSvc,
	}

	if svc.cfg.Auth.AdminJWTSecret == "" {
		svc.log.Warn("JWT_SECRET is empty, admin routes will reject every request")
	}

	svc.registerClientRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerClientRoutes() {
	api := s.engine.Group("/api/saas")

	api.POST("/devices/activate", s.ActivateDevice)
	api.POST("/validate", s.TrackUsage(usagedomain.MetricAPICalls), s.ValidateDevice)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/api/saas/admin")
	admin.Use(s.AdminAuthRequired())

	// -------- Security alerts --------
	security := admin.Group("/security")
	{
		security.GET("/alerts", s.ListSecurityAlerts)
		security.GET("/alerts/:id", s.GetSecurityAlert)
		security.POST("/alerts/:id/review", s.ReviewSecurityAlert)
		security.POST("/alerts/:id/ignore", s.IgnoreSecurityAlert)
		security.POST("/alerts/:id/resolve", s.ResolveSecurityAlert)

		// -------- Devices --------
		security.GET("/devices", s.ListPendingDevices)
		security.POST("/devices/:id/approve", s.ApproveDevice)
		security.POST("/devices/:id/reject", s.RejectDevice)
		security.GET("/subscriptions/:id/devices", s.ListSubscriptionDevices)
	}

	// -------- Usage --------
	usage := admin.Group("/usage")
	{
		usage.PUT("/limits", s.SetUsageLimit)
		usage.GET("/:client_id", s.GetClientUsage)
		usage.GET("/:client_id/:system_id/statistics", s.GetUsageStatistics)
		usage.GET("/:client_id/:system_id/cost", s.GetUsageCost)
	}
}
