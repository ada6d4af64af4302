package server

import (
	"net/http"
	"strings"

	"github.com/Pasandul2/ZORO9X-sub000/internal/observability/logger"
	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	usagedomain "github.com/Pasandul2/ZORO9X-sub000/internal/usage/domain"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	contextAdminIDKey      = "admin_id"
	contextSubscriptionKey = "subscription"
)

type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuthRequired accepts an HS256 bearer token whose role claim matches
// the configured admin role. The subject becomes the reviewer identity.
func (s *Server) AdminAuthRequired() gin.HandlerFunc {
	secret := []byte(s.cfg.Auth.AdminJWTSecret)
	role := strings.TrimSpace(s.cfg.Auth.AdminRole)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(c *gin.Context) {
		if len(secret) == 0 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		var claims adminClaims
		if _, err := parser.ParseWithClaims(parts[1], &claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}); err != nil {
			logger.FromContext(c.Request.Context()).Debug("admin token rejected", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if role != "" && claims.Role != role {
			AbortWithError(c, ErrForbidden)
			return
		}

		adminID := strings.TrimSpace(claims.Subject)
		if adminID == "" {
			adminID = "admin"
		}
		c.Set(contextAdminIDKey, adminID)
		c.Request = c.Request.WithContext(logger.WithActor(c.Request.Context(), adminID))
		c.Next()
	}
}

func adminID(c *gin.Context) string {
	if v, ok := c.Get(contextAdminIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// TrackUsage records one unit of metric for the subscription a handler
// resolved, after the handler succeeded. Recording failures never change
// the response.
func (s *Server) TrackUsage(metric string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest || len(c.Errors) > 0 {
			return
		}
		v, ok := c.Get(contextSubscriptionKey)
		if !ok {
			return
		}
		sub, ok := v.(*subscriptiondomain.Subscription)
		if !ok || sub == nil {
			return
		}

		ctx := c.Request.Context()
		if _, err := s.usageSvc.RecordUsage(ctx, usagedomain.RecordRequest{
			ClientID: sub.ClientID,
			SystemID: sub.SystemID,
			Metric:   metric,
			Quantity: decimal.NewFromInt(1),
			Metadata: map[string]any{"endpoint": c.FullPath()},
		}); err != nil {
			logger.FromContext(ctx).Warn("usage tracking failed",
				zap.String("metric", metric),
				zap.String("subscription_id", sub.ID.String()),
				zap.Error(err),
			)
		}
	}
}
