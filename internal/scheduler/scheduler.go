package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	obsmetrics "github.com/Pasandul2/ZORO9X-sub000/internal/observability/metrics"
	"github.com/Pasandul2/ZORO9X-sub000/internal/ratelimit"
	usagedomain "github.com/Pasandul2/ZORO9X-sub000/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobResetUsageLimits = "reset_usage_limits"

	lockKeyPrefix = "saasguard:scheduler:"
)

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Usage   usagedomain.Service
	Locker  *ratelimit.Locker   `optional:"true"`
	Metrics *obsmetrics.Metrics `optional:"true"`
	Config  Config              `optional:"true"`
}

// Scheduler runs periodic maintenance jobs. Several replicas may run it;
// jobs are idempotent and, with Redis configured, serialized by a lock.
type Scheduler struct {
	log     *zap.Logger
	cfg     Config
	genID   *snowflake.Node
	clock   clock.Clock
	usage   usagedomain.Service
	locker  *ratelimit.Locker
	metrics *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Usage == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:     p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:     p.Config.withDefaults(),
		genID:   p.GenID,
		clock:   p.Clock,
		usage:   p.Usage,
		locker:  p.Locker,
		metrics: p.Metrics,
	}, nil
}

// runJob executes fn under the job's lock with a timeout. A held lock or a
// timeout is not an error for the loop.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, name)
	log := s.logger(ctx).With(zap.String("job", name), zap.String("run_id", run.runID))

	err := s.locker.WithLock(ctx, lockKeyPrefix+name, s.cfg.LockTTL, func(ctx context.Context) error {
		s.logJobStart(ctx, run)
		err := fn(ctx)
		if err != nil {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
		return err
	})
	s.metrics.ObserveJob(name, s.clock.Now().Sub(run.startedAt).Seconds())

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrLockHeld):
		log.Debug("job skipped, lock held elsewhere")
		return nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		log.Warn("job timed out", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runJob(ctx, JobResetUsageLimits, s.cfg.JobTimeout, s.ResetUsageLimitsJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) ResetUsageLimitsJob(ctx context.Context) error {
	counts, err := s.usage.ResetUsageLimits(ctx)
	if run := jobRunFromContext(ctx); run != nil {
		for _, n := range counts {
			run.AddProcessed(n)
		}
	}
	return err
}
