package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	notificationdomain "github.com/Pasandul2/ZORO9X-sub000/internal/notification/domain"
	obsmetrics "github.com/Pasandul2/ZORO9X-sub000/internal/observability/metrics"
	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	usagedomain "github.com/Pasandul2/ZORO9X-sub000/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxStatisticsDays = 366

var tracer = otel.Tracer("saasguard/usage")

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Cfg           config.Config
	GenID         *snowflake.Node
	Clock         clock.Clock
	Policy        *config.PolicyHolder
	Repo          usagedomain.Repository
	Subscriptions subscriptiondomain.Repository
	Notifier      notificationdomain.Dispatcher
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	loc           *time.Location
	genID         *snowflake.Node
	clock         clock.Clock
	policy        *config.PolicyHolder
	repo          usagedomain.Repository
	subscriptions subscriptiondomain.Repository
	notifier      notificationdomain.Dispatcher
	metrics       *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("usage.service"),
		loc:           p.Cfg.Location(),
		genID:         p.GenID,
		clock:         p.Clock,
		policy:        p.Policy,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		notifier:      p.Notifier,
		metrics:       p.Metrics,
	}
}

func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageRecord, error) {
	metric := strings.TrimSpace(req.Metric)
	if err := validateOwner(req.ClientID, req.SystemID); err != nil {
		return nil, err
	}
	if metric == "" {
		return nil, usagedomain.ErrInvalidMetric
	}
	if req.Quantity.IsZero() {
		return nil, usagedomain.ErrInvalidQuantity
	}

	ctx, span := tracer.Start(ctx, "usage.RecordUsage")
	defer span.End()
	span.SetAttributes(attribute.String("metric", metric))

	record := &usagedomain.UsageRecord{
		ID:        s.genID.Generate(),
		ClientID:  req.ClientID,
		SystemID:  req.SystemID,
		Metric:    metric,
		Quantity:  req.Quantity,
		Metadata:  usagedomain.MetadataOf(req.Metadata),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertRecord(ctx, s.db, record); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.RecordUsage(metric)

	if _, err := s.CheckUsageLimit(ctx, req.ClientID, req.SystemID, metric); err != nil {
		s.log.Warn("usage limit check failed after record",
			zap.String("record_id", record.ID.String()),
			zap.String("metric", metric),
			zap.Error(err),
		)
	}
	return record, nil
}

// CheckUsageLimit recomputes current usage from the records of the active
// window and writes it back. A metric without a limit is always within it.
func (s *Service) CheckUsageLimit(ctx context.Context, clientID, systemID snowflake.ID, metric string) (usagedomain.LimitStatus, error) {
	metric = strings.TrimSpace(metric)
	if err := validateOwner(clientID, systemID); err != nil {
		return usagedomain.LimitStatus{}, err
	}
	if metric == "" {
		return usagedomain.LimitStatus{}, usagedomain.ErrInvalidMetric
	}

	ctx, span := tracer.Start(ctx, "usage.CheckUsageLimit")
	defer span.End()
	span.SetAttributes(attribute.String("metric", metric))

	limit, err := s.repo.FindLimit(ctx, s.db, clientID, systemID, metric)
	if errors.Is(err, usagedomain.ErrLimitNotFound) {
		return usagedomain.LimitStatus{WithinLimit: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		return usagedomain.LimitStatus{}, err
	}

	now := s.clock.Now()
	windowStart := usagedomain.WindowStart(limit.ResetPeriod, now, s.loc, limit.LastResetAt).UTC()
	current, err := s.repo.SumSince(ctx, s.db, clientID, systemID, metric, windowStart)
	if err != nil {
		span.RecordError(err)
		return usagedomain.LimitStatus{}, err
	}
	if err := s.repo.UpdateCurrentUsage(ctx, s.db, limit.ID, current, now); err != nil {
		span.RecordError(err)
		return usagedomain.LimitStatus{}, err
	}

	status := usagedomain.EvaluateLimit(current, limit.LimitValue)
	status.WindowStart = windowStart

	threshold := status.Threshold(s.policy.Get().ApproachingPercent)
	if threshold != usagedomain.ThresholdOK {
		s.notifyThreshold(ctx, clientID, systemID, metric, status, threshold)
	}
	return status, nil
}

// notifyThreshold tells the client owner. Failures are logged only.
func (s *Service) notifyThreshold(ctx context.Context, clientID, systemID snowflake.ID, metric string, status usagedomain.LimitStatus, threshold usagedomain.ThresholdStatus) {
	s.metrics.RecordLimitNotification(string(threshold))

	contact, err := s.subscriptions.GetContact(ctx, s.db, clientID, systemID)
	if err != nil {
		s.log.Warn("usage notification skipped",
			zap.String("client_id", clientID.String()),
			zap.String("metric", metric),
			zap.Error(err),
		)
		return
	}

	tmpl := notificationdomain.TemplateUsageLimitApproaching
	if threshold == usagedomain.ThresholdExceeded {
		tmpl = notificationdomain.TemplateUsageLimitExceeded
	}
	receipt, err := s.notifier.Notify(ctx, notificationdomain.Notification{
		Template: tmpl,
		To:       []string{contact.Email},
		Vars: map[string]string{
			"company_name":  contact.CompanyName,
			"system_name":   contact.SystemName,
			"metric":        metric,
			"current_usage": status.CurrentUsage.String(),
			"limit_value":   status.LimitValue.String(),
			"percent_used":  status.PercentUsed.String(),
			"status":        string(threshold),
		},
	})
	if err != nil {
		s.log.Error("usage notification rejected", zap.String("metric", metric), zap.Error(err))
		return
	}
	receipt.Log(s.log)
}

func (s *Service) ResetUsageLimits(ctx context.Context) (map[usagedomain.ResetPeriod]int64, error) {
	ctx, span := tracer.Start(ctx, "usage.ResetUsageLimits")
	defer span.End()

	now := s.clock.Now()
	counts := make(map[usagedomain.ResetPeriod]int64, len(usagedomain.ResetPeriods))
	for _, period := range usagedomain.ResetPeriods {
		windowStart := usagedomain.WindowStart(period, now, s.loc, nil)
		n, err := s.repo.ResetPeriod(ctx, s.db, period, windowStart, now)
		if err != nil {
			span.RecordError(err)
			s.metrics.RecordReset(obsmetrics.ResultFailure, nil)
			return counts, err
		}
		counts[period] = n
	}

	byLabel := make(map[string]int64, len(counts))
	for period, n := range counts {
		byLabel[string(period)] = n
	}
	s.metrics.RecordReset(obsmetrics.ResultSuccess, byLabel)
	s.log.Info("usage limits reset",
		zap.Int64("daily", counts[usagedomain.ResetDaily]),
		zap.Int64("weekly", counts[usagedomain.ResetWeekly]),
		zap.Int64("monthly", counts[usagedomain.ResetMonthly]),
		zap.Int64("yearly", counts[usagedomain.ResetYearly]),
	)
	return counts, nil
}

func (s *Service) SetUsageLimit(ctx context.Context, req usagedomain.SetLimitRequest) (*usagedomain.UsageLimit, error) {
	metric := strings.TrimSpace(req.Metric)
	if err := validateOwner(req.ClientID, req.SystemID); err != nil {
		return nil, err
	}
	if metric == "" {
		return nil, usagedomain.ErrInvalidMetric
	}
	if req.LimitValue.IsNegative() {
		return nil, usagedomain.ErrInvalidLimit
	}
	period := usagedomain.ResetPeriod(strings.ToLower(strings.TrimSpace(string(req.ResetPeriod))))
	if period == "" {
		period = usagedomain.ResetMonthly
	}
	if !period.Valid() {
		return nil, usagedomain.ErrInvalidResetPeriod
	}

	limit := &usagedomain.UsageLimit{
		ID:          s.genID.Generate(),
		ClientID:    req.ClientID,
		SystemID:    req.SystemID,
		Metric:      metric,
		LimitValue:  req.LimitValue,
		ResetPeriod: period,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.repo.UpsertLimit(ctx, s.db, limit); err != nil {
		return nil, err
	}
	s.log.Info("usage limit set",
		zap.String("client_id", limit.ClientID.String()),
		zap.String("system_id", limit.SystemID.String()),
		zap.String("metric", metric),
		zap.String("limit_value", limit.LimitValue.String()),
		zap.String("reset_period", string(period)),
	)
	return limit, nil
}

func (s *Service) GetUsage(ctx context.Context, query usagedomain.UsageQuery) ([]usagedomain.MetricUsage, error) {
	if query.ClientID == 0 {
		return nil, usagedomain.ErrInvalidClient
	}
	if query.Start != nil && query.End != nil && query.End.Before(*query.Start) {
		return nil, usagedomain.ErrInvalidRange
	}
	return s.repo.AggregateByMetric(ctx, s.db, query)
}

// GetUsageStatistics buckets the last days of usage by local calendar day
// and metric, newest day first.
func (s *Service) GetUsageStatistics(ctx context.Context, clientID, systemID snowflake.ID, days int) ([]usagedomain.DailyUsage, error) {
	if err := validateOwner(clientID, systemID); err != nil {
		return nil, err
	}
	if days <= 0 || days > maxStatisticsDays {
		return nil, usagedomain.ErrInvalidDays
	}

	now := s.clock.Now().In(s.loc)
	y, m, d := now.Date()
	since := time.Date(y, m, d-(days-1), 0, 0, 0, 0, s.loc)

	points, err := s.repo.ListSince(ctx, s.db, clientID, systemID, since.UTC())
	if err != nil {
		return nil, err
	}

	type bucketKey struct{ date, metric string }
	buckets := make(map[bucketKey]*usagedomain.DailyUsage)
	for _, p := range points {
		key := bucketKey{date: p.CreatedAt.In(s.loc).Format(time.DateOnly), metric: p.Metric}
		bucket, ok := buckets[key]
		if !ok {
			bucket = &usagedomain.DailyUsage{Date: key.date, Metric: key.metric, TotalQuantity: decimal.Zero}
			buckets[key] = bucket
		}
		bucket.TotalQuantity = bucket.TotalQuantity.Add(p.Quantity)
		bucket.RecordCount++
	}

	out := make([]usagedomain.DailyUsage, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, *bucket)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Metric < out[j].Metric
	})
	return out, nil
}

// CalculateUsageCost prices the usage in [Start, End] with the plan's
// per-unit prices. Metrics without a price are free.
func (s *Service) CalculateUsageCost(ctx context.Context, req usagedomain.CostRequest) (usagedomain.CostBreakdown, error) {
	if err := validateOwner(req.ClientID, req.SystemID); err != nil {
		return usagedomain.CostBreakdown{}, err
	}
	if req.Start.IsZero() || req.End.IsZero() || req.End.Before(req.Start) {
		return usagedomain.CostBreakdown{}, usagedomain.ErrInvalidRange
	}

	pricing, err := s.subscriptions.GetPricing(ctx, s.db, req.ClientID, req.SystemID)
	if err != nil {
		return usagedomain.CostBreakdown{}, err
	}
	usage, err := s.repo.AggregateByMetric(ctx, s.db, usagedomain.UsageQuery{
		ClientID: req.ClientID,
		SystemID: req.SystemID,
		Start:    &req.Start,
		End:      &req.End,
	})
	if err != nil {
		return usagedomain.CostBreakdown{}, err
	}

	result := usagedomain.CostBreakdown{TotalCost: decimal.Zero, Breakdown: make([]usagedomain.CostLine, 0, len(usage))}
	for _, u := range usage {
		price := pricing[u.Metric].PricePerUnit
		cost := u.TotalQuantity.Mul(price)
		result.Breakdown = append(result.Breakdown, usagedomain.CostLine{
			Metric:       u.Metric,
			Quantity:     u.TotalQuantity,
			PricePerUnit: price,
			Cost:         cost,
		})
		result.TotalCost = result.TotalCost.Add(cost)
	}
	return result, nil
}

func validateOwner(clientID, systemID snowflake.ID) error {
	if clientID == 0 {
		return usagedomain.ErrInvalidClient
	}
	if systemID == 0 {
		return usagedomain.ErrInvalidSystem
	}
	return nil
}
