package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	obsmetrics "github.com/Pasandul2/ZORO9X-sub000/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyActivation = "saasguard:activation:%s:%s"

// ActivationLimiter throttles device activation attempts per subscription and
// source IP. Rate and burst are read from the live policy on every call.
type ActivationLimiter struct {
	bucket  *TokenBucket
	policy  *config.PolicyHolder
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

type ActivationLimiterParam struct {
	fx.In

	Bucket  *TokenBucket `optional:"true"`
	Policy  *config.PolicyHolder
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

func NewActivationLimiter(p ActivationLimiterParam) *ActivationLimiter {
	return &ActivationLimiter{
		bucket:  p.Bucket,
		policy:  p.Policy,
		log:     p.Log.Named("ratelimit.activation"),
		metrics: p.Metrics,
	}
}

func (l *ActivationLimiter) Enabled() bool {
	if l == nil || l.bucket == nil {
		return false
	}
	p := l.policy.Get()
	return p.ActivationRatePerSecond > 0 && p.ActivationBurst > 0
}

// Allow reports whether another attempt may proceed and, when not, how long
// the caller should wait. Redis failures fail open.
func (l *ActivationLimiter) Allow(ctx context.Context, subscriptionID, ip string) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}
	p := l.policy.Get()
	key := fmt.Sprintf(keyActivation, strings.TrimSpace(subscriptionID), strings.TrimSpace(ip))

	res, err := l.bucket.Allow(ctx, key, p.ActivationRatePerSecond, p.ActivationBurst)
	if err != nil {
		l.log.Warn("activation rate limit unavailable", zap.String("key", key), zap.Error(err))
		return true, 0
	}
	if !res.Allowed {
		l.metrics.RecordRateLimited("device_activation")
		return false, res.RetryAfter
	}
	return true, 0
}
