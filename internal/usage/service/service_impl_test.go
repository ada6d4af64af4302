package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	notificationdomain "github.com/Pasandul2/ZORO9X-sub000/internal/notification/domain"
	subscriptionrepo "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/repository"
	usagedomain "github.com/Pasandul2/ZORO9X-sub000/internal/usage/domain"
	"github.com/Pasandul2/ZORO9X-sub000/internal/usage/repository"
	"github.com/Pasandul2/ZORO9X-sub000/pkg/db/dbtest"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type notifierStub struct {
	mu    sync.Mutex
	calls []notificationdomain.Notification
	err   error
}

func (n *notifierStub) Notify(ctx context.Context, req notificationdomain.Notification) (notificationdomain.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, req)
	if n.err != nil {
		return notificationdomain.Receipt{}, n.err
	}
	return notificationdomain.Receipt{Template: req.Template, Recipients: req.To, Delivered: true}, nil
}

func (n *notifierStub) last(t *testing.T) notificationdomain.Notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.calls)
	return n.calls[len(n.calls)-1]
}

func (n *notifierStub) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type usageHarness struct {
	svc      usagedomain.Service
	conn     *gorm.DB
	clock    *clock.FakeClock
	notifier *notifierStub
	seed     dbtest.Fixture
}

func newHarness(t *testing.T, start time.Time, repo usagedomain.Repository, opts dbtest.SubscriptionOptions) *usageHarness {
	t.Helper()
	conn := dbtest.Open(t)
	node := dbtest.Node(t)
	seed := dbtest.SeedSubscription(t, conn, node, opts)
	fake := clock.NewFakeClock(start)
	notifier := &notifierStub{}
	if repo == nil {
		repo = repository.Provide()
	}

	svc := NewService(ServiceParam{
		DB:            conn,
		Log:           zap.NewNop(),
		Cfg:           config.Config{UsageTimezone: "UTC"},
		GenID:         node,
		Clock:         fake,
		Policy:        config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Repo:          repo,
		Subscriptions: subscriptionrepo.Provide(),
		Notifier:      notifier,
	})
	return &usageHarness{svc: svc, conn: conn, clock: fake, notifier: notifier, seed: seed}
}

func (h *usageHarness) record(t *testing.T, metric string, quantity decimal.Decimal) *usagedomain.UsageRecord {
	t.Helper()
	rec, err := h.svc.RecordUsage(context.Background(), usagedomain.RecordRequest{
		ClientID: h.seed.ClientID,
		SystemID: h.seed.SystemID,
		Metric:   metric,
		Quantity: quantity,
	})
	require.NoError(t, err)
	return rec
}

func (h *usageHarness) setLimit(t *testing.T, metric string, value int64, period usagedomain.ResetPeriod) *usagedomain.UsageLimit {
	t.Helper()
	limit, err := h.svc.SetUsageLimit(context.Background(), usagedomain.SetLimitRequest{
		ClientID:    h.seed.ClientID,
		SystemID:    h.seed.SystemID,
		Metric:      metric,
		LimitValue:  decimal.NewFromInt(value),
		ResetPeriod: period,
	})
	require.NoError(t, err)
	return limit
}

func TestMonthlyLimitApproachingThenExceeded(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})
	ctx := context.Background()
	h.setLimit(t, "api_calls", 100, usagedomain.ResetMonthly)

	h.record(t, "api_calls", decimal.NewFromInt(80))
	status, err := h.svc.CheckUsageLimit(ctx, h.seed.ClientID, h.seed.SystemID, "api_calls")
	require.NoError(t, err)
	require.True(t, status.HasLimit)
	require.True(t, status.WithinLimit)
	require.True(t, status.CurrentUsage.Equal(decimal.NewFromInt(80)), status.CurrentUsage.String())
	require.Equal(t, "80.00", status.PercentUsed.String())
	require.True(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC).Equal(status.WindowStart))

	note := h.notifier.last(t)
	require.Equal(t, notificationdomain.TemplateUsageLimitApproaching, note.Template)
	require.Equal(t, []string{"owner@acme.test"}, note.To)
	require.Equal(t, "80.00", note.Vars["percent_used"])
	require.Equal(t, "Gym Management", note.Vars["system_name"])

	h.clock.Advance(2 * time.Hour)
	h.record(t, "api_calls", decimal.NewFromInt(25))
	status, err = h.svc.CheckUsageLimit(ctx, h.seed.ClientID, h.seed.SystemID, "api_calls")
	require.NoError(t, err)
	require.False(t, status.WithinLimit)
	require.True(t, status.CurrentUsage.Equal(decimal.NewFromInt(105)))
	require.Equal(t, "105.00", status.PercentUsed.String())

	note = h.notifier.last(t)
	require.Equal(t, notificationdomain.TemplateUsageLimitExceeded, note.Template)
	require.Equal(t, "exceeded", note.Vars["status"])

	require.EqualValues(t, 1, dbtest.CountRows(t, h.conn, "usage_limits", "current_usage = ?", 105))
}

func TestCheckUsageLimitIsMonotonicWithinWindow(t *testing.T) {
	for _, period := range usagedomain.ResetPeriods {
		t.Run(string(period), func(t *testing.T) {
			// Saturday midday so every window has started before the first record.
			h := newHarness(t, time.Date(2026, 7, 18, 12, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})
			ctx := context.Background()
			h.setLimit(t, "storage_gb", 1000, period)

			h.record(t, "storage_gb", decimal.RequireFromString("2.5"))
			first, err := h.svc.CheckUsageLimit(ctx, h.seed.ClientID, h.seed.SystemID, "storage_gb")
			require.NoError(t, err)

			h.clock.Advance(time.Minute)
			h.record(t, "storage_gb", decimal.NewFromInt(1))
			second, err := h.svc.CheckUsageLimit(ctx, h.seed.ClientID, h.seed.SystemID, "storage_gb")
			require.NoError(t, err)

			require.True(t, second.CurrentUsage.GreaterThanOrEqual(first.CurrentUsage))
			require.True(t, first.LimitValue.Equal(second.LimitValue))
			require.GreaterOrEqual(t, float64(second.PercentUsed), float64(first.PercentUsed))
			require.True(t, second.CurrentUsage.Equal(decimal.RequireFromString("3.5")), second.CurrentUsage.String())
		})
	}
}

func TestCheckUsageLimitIgnoresPreviousWindow(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 14, 23, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})
	h.setLimit(t, "api_calls", 10, usagedomain.ResetDaily)

	h.record(t, "api_calls", decimal.NewFromInt(9))
	h.clock.Advance(2 * time.Hour)
	h.record(t, "api_calls", decimal.NewFromInt(1))

	status, err := h.svc.CheckUsageLimit(context.Background(), h.seed.ClientID, h.seed.SystemID, "api_calls")
	require.NoError(t, err)
	require.True(t, status.CurrentUsage.Equal(decimal.NewFromInt(1)))
	require.Equal(t, "10.00", status.PercentUsed.String())
}

func TestCheckUsageLimitWithoutLimit(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})

	h.record(t, "api_calls", decimal.NewFromInt(1000))
	status, err := h.svc.CheckUsageLimit(context.Background(), h.seed.ClientID, h.seed.SystemID, "api_calls")
	require.NoError(t, err)
	require.False(t, status.HasLimit)
	require.True(t, status.WithinLimit)
	require.Zero(t, h.notifier.count())
}

func TestRecordUsageSurvivesNotificationFailure(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})
	h.notifier.err = notificationdomain.ErrMissingRecipient
	h.setLimit(t, "api_calls", 10, usagedomain.ResetMonthly)

	rec := h.record(t, "api_calls", decimal.NewFromInt(50))
	require.NotZero(t, rec.ID)
	require.Equal(t, 1, h.notifier.count())
	require.EqualValues(t, 1, dbtest.CountRows(t, h.conn, "usage_records", "id = ?", rec.ID))
}

type failingLimitRepo struct {
	usagedomain.Repository
}

func (failingLimitRepo) FindLimit(context.Context, *gorm.DB, snowflake.ID, snowflake.ID, string) (*usagedomain.UsageLimit, error) {
	return nil, errors.New("connection reset")
}

func TestRecordUsageSurvivesLimitCheckFailure(t *testing.T) {
	repo := failingLimitRepo{Repository: repository.Provide()}
	h := newHarness(t, time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), repo, dbtest.SubscriptionOptions{})

	rec := h.record(t, "api_calls", decimal.NewFromInt(1))
	require.EqualValues(t, 1, dbtest.CountRows(t, h.conn, "usage_records", "id = ?", rec.ID))

	_, err := h.svc.CheckUsageLimit(context.Background(), h.seed.ClientID, h.seed.SystemID, "api_calls")
	require.Error(t, err)
}

func TestRecordUsageValidation(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})
	ctx := context.Background()

	_, err := h.svc.RecordUsage(ctx, usagedomain.RecordRequest{SystemID: h.seed.SystemID, Metric: "api_calls", Quantity: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, usagedomain.ErrInvalidClient)

	_, err = h.svc.RecordUsage(ctx, usagedomain.RecordRequest{ClientID: h.seed.ClientID, SystemID: h.seed.SystemID, Metric: "  ", Quantity: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, usagedomain.ErrInvalidMetric)

	_, err = h.svc.RecordUsage(ctx, usagedomain.RecordRequest{ClientID: h.seed.ClientID, SystemID: h.seed.SystemID, Metric: "api_calls"})
	require.ErrorIs(t, err, usagedomain.ErrInvalidQuantity)
}

func TestRecordUsageStampsEngineClock(t *testing.T) {
	start := time.Date(2026, 7, 31, 23, 59, 59, 0, time.UTC)
	h := newHarness(t, start, nil, dbtest.SubscriptionOptions{})
	h.setLimit(t, "api_calls", 100, usagedomain.ResetMonthly)

	rec := h.record(t, "api_calls", decimal.NewFromInt(7))
	require.True(t, rec.CreatedAt.Equal(start))

	h.clock.Advance(2 * time.Second)
	status, err := h.svc.CheckUsageLimit(context.Background(), h.seed.ClientID, h.seed.SystemID, "api_calls")
	require.NoError(t, err)
	require.True(t, status.CurrentUsage.IsZero(), "a record stamped in July is outside the August window")
}

func TestNegativeQuantityIsSummedAsIs(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})
	h.setLimit(t, "api_calls", 100, usagedomain.ResetMonthly)

	h.record(t, "api_calls", decimal.NewFromInt(10))
	h.record(t, "api_calls", decimal.NewFromInt(-30))

	status, err := h.svc.CheckUsageLimit(context.Background(), h.seed.ClientID, h.seed.SystemID, "api_calls")
	require.NoError(t, err)
	require.True(t, status.CurrentUsage.Equal(decimal.NewFromInt(-20)))
	require.True(t, status.WithinLimit)
	require.Equal(t, "0.00", status.PercentUsed.String())
}

func TestResetUsageLimitsOncePerPeriod(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})
	ctx := context.Background()
	h.setLimit(t, "api_calls", 100, usagedomain.ResetMonthly)
	h.setLimit(t, "exports", 5, usagedomain.ResetDaily)
	h.record(t, "api_calls", decimal.NewFromInt(40))

	counts, err := h.svc.ResetUsageLimits(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[usagedomain.ResetMonthly])
	assert.EqualValues(t, 1, counts[usagedomain.ResetDaily])
	assert.EqualValues(t, 0, counts[usagedomain.ResetWeekly])
	require.EqualValues(t, 2, dbtest.CountRows(t, h.conn, "usage_limits", "current_usage = 0 AND last_reset_at IS NOT NULL"))

	counts, err = h.svc.ResetUsageLimits(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, counts[usagedomain.ResetMonthly])
	assert.EqualValues(t, 0, counts[usagedomain.ResetDaily])

	h.clock.Advance(13 * time.Hour)
	counts, err = h.svc.ResetUsageLimits(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, counts[usagedomain.ResetMonthly])
	assert.EqualValues(t, 1, counts[usagedomain.ResetDaily])

	h.clock.Set(time.Date(2026, 8, 1, 0, 30, 0, 0, time.UTC))
	counts, err = h.svc.ResetUsageLimits(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[usagedomain.ResetMonthly])
	assert.EqualValues(t, 1, counts[usagedomain.ResetDaily])
}

func TestSetUsageLimitUpserts(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})
	ctx := context.Background()

	first := h.setLimit(t, "api_calls", 100, usagedomain.ResetMonthly)
	second := h.setLimit(t, "api_calls", 500, usagedomain.ResetWeekly)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, usagedomain.ResetWeekly, second.ResetPeriod)
	require.EqualValues(t, 1, dbtest.CountRows(t, h.conn, "usage_limits", "metric = ?", "api_calls"))

	_, err := h.svc.SetUsageLimit(ctx, usagedomain.SetLimitRequest{
		ClientID:    h.seed.ClientID,
		SystemID:    h.seed.SystemID,
		Metric:      "api_calls",
		LimitValue:  decimal.NewFromInt(1),
		ResetPeriod: "hourly",
	})
	require.ErrorIs(t, err, usagedomain.ErrInvalidResetPeriod)

	_, err = h.svc.SetUsageLimit(ctx, usagedomain.SetLimitRequest{
		ClientID:   h.seed.ClientID,
		SystemID:   h.seed.SystemID,
		Metric:     "api_calls",
		LimitValue: decimal.NewFromInt(-1),
	})
	require.ErrorIs(t, err, usagedomain.ErrInvalidLimit)
}

func TestGetUsageAggregatesByMetric(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})

	h.record(t, "api_calls", decimal.NewFromInt(3))
	h.clock.Advance(time.Hour)
	h.record(t, "api_calls", decimal.NewFromInt(4))
	h.record(t, "storage_gb", decimal.RequireFromString("1.5"))

	usage, err := h.svc.GetUsage(context.Background(), usagedomain.UsageQuery{ClientID: h.seed.ClientID})
	require.NoError(t, err)
	require.Len(t, usage, 2)

	require.Equal(t, "api_calls", usage[0].Metric)
	require.True(t, usage[0].TotalQuantity.Equal(decimal.NewFromInt(7)))
	require.EqualValues(t, 2, usage[0].RecordCount)
	require.NotNil(t, usage[0].FirstUsage)
	require.NotNil(t, usage[0].LastUsage)
	require.True(t, usage[0].LastUsage.After(*usage[0].FirstUsage))
	require.Equal(t, "storage_gb", usage[1].Metric)

	start := time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC)
	usage, err = h.svc.GetUsage(context.Background(), usagedomain.UsageQuery{ClientID: h.seed.ClientID, SystemID: h.seed.SystemID, Start: &start})
	require.NoError(t, err)
	require.Len(t, usage, 2)
	require.True(t, usage[0].TotalQuantity.Equal(decimal.NewFromInt(4)))

	_, err = h.svc.GetUsage(context.Background(), usagedomain.UsageQuery{})
	require.ErrorIs(t, err, usagedomain.ErrInvalidClient)
}

func TestGetUsageStatisticsBucketsByDay(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 10, 10, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{})
	ctx := context.Background()

	h.record(t, "api_calls", decimal.NewFromInt(2))
	h.record(t, "storage_gb", decimal.RequireFromString("1.5"))
	h.clock.Advance(24 * time.Hour)
	h.record(t, "api_calls", decimal.NewFromInt(3))
	h.record(t, "api_calls", decimal.NewFromInt(1))

	stats, err := h.svc.GetUsageStatistics(ctx, h.seed.ClientID, h.seed.SystemID, 7)
	require.NoError(t, err)
	require.Len(t, stats, 3)
	require.Equal(t, "2026-07-11", stats[0].Date)
	require.Equal(t, "api_calls", stats[0].Metric)
	require.True(t, stats[0].TotalQuantity.Equal(decimal.NewFromInt(4)))
	require.EqualValues(t, 2, stats[0].RecordCount)
	require.Equal(t, "2026-07-10", stats[1].Date)
	require.Equal(t, "api_calls", stats[1].Metric)
	require.Equal(t, "storage_gb", stats[2].Metric)

	stats, err = h.svc.GetUsageStatistics(ctx, h.seed.ClientID, h.seed.SystemID, 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)

	_, err = h.svc.GetUsageStatistics(ctx, h.seed.ClientID, h.seed.SystemID, 0)
	require.ErrorIs(t, err, usagedomain.ErrInvalidDays)
}

func TestCalculateUsageCost(t *testing.T) {
	h := newHarness(t, time.Date(2026, 7, 5, 9, 0, 0, 0, time.UTC), nil, dbtest.SubscriptionOptions{
		PricingDetails: `{"api_calls":{"price_per_unit":0.01},"storage_gb":{"price_per_unit":2}}`,
	})

	h.record(t, "api_calls", decimal.NewFromInt(150))
	h.record(t, "storage_gb", decimal.NewFromInt(3))
	h.record(t, "exports", decimal.NewFromInt(9))

	cost, err := h.svc.CalculateUsageCost(context.Background(), usagedomain.CostRequest{
		ClientID: h.seed.ClientID,
		SystemID: h.seed.SystemID,
		Start:    time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 7, 31, 23, 59, 59, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, cost.Breakdown, 3)
	require.True(t, cost.TotalCost.Equal(decimal.RequireFromString("7.5")), cost.TotalCost.String())

	byMetric := map[string]usagedomain.CostLine{}
	for _, line := range cost.Breakdown {
		byMetric[line.Metric] = line
	}
	require.True(t, byMetric["api_calls"].Cost.Equal(decimal.RequireFromString("1.5")))
	require.True(t, byMetric["exports"].Cost.IsZero())

	_, err = h.svc.CalculateUsageCost(context.Background(), usagedomain.CostRequest{
		ClientID: h.seed.ClientID,
		SystemID: h.seed.SystemID,
		Start:    time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, usagedomain.ErrInvalidRange)
}
