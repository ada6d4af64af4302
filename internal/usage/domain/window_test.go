package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowStart(t *testing.T) {
	// Wednesday 2026-07-15 14:30 UTC.
	now := time.Date(2026, 7, 15, 14, 30, 0, 0, time.UTC)
	lastReset := time.Date(2026, 7, 2, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		period ResetPeriod
		last   *time.Time
		want   time.Time
	}{
		{ResetDaily, nil, time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)},
		{ResetWeekly, nil, time.Date(2026, 7, 12, 0, 0, 0, 0, time.UTC)},
		{ResetMonthly, nil, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)},
		{ResetYearly, nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ResetPeriod("hourly"), &lastReset, lastReset},
		{ResetPeriod(""), nil, time.Unix(0, 0).UTC()},
	}
	for _, tc := range cases {
		t.Run(string(tc.period), func(t *testing.T) {
			got := WindowStart(tc.period, now, time.UTC, tc.last)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestWindowStartWeeklyOnSunday(t *testing.T) {
	sunday := time.Date(2026, 7, 12, 0, 0, 1, 0, time.UTC)
	got := WindowStart(ResetWeekly, sunday, time.UTC, nil)
	assert.True(t, time.Date(2026, 7, 12, 0, 0, 0, 0, time.UTC).Equal(got))
}

func TestWindowStartUsesLocation(t *testing.T) {
	colombo := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on the 31st is already the 1st in Colombo.
	now := time.Date(2026, 7, 31, 20, 0, 0, 0, time.UTC)
	got := WindowStart(ResetMonthly, now, colombo, nil)
	assert.True(t, time.Date(2026, 8, 1, 0, 0, 0, 0, colombo).Equal(got))
}

func TestNeedsReset(t *testing.T) {
	now := time.Date(2026, 7, 15, 14, 30, 0, 0, time.UTC)
	earlierToday := time.Date(2026, 7, 15, 0, 5, 0, 0, time.UTC)
	yesterday := time.Date(2026, 7, 14, 23, 59, 0, 0, time.UTC)

	assert.True(t, NeedsReset(ResetDaily, nil, now, time.UTC))
	assert.False(t, NeedsReset(ResetDaily, &earlierToday, now, time.UTC))
	assert.True(t, NeedsReset(ResetDaily, &yesterday, now, time.UTC))
	assert.False(t, NeedsReset(ResetMonthly, &yesterday, now, time.UTC))
}

func TestEvaluateLimit(t *testing.T) {
	hundred := decimal.NewFromInt(100)

	status := EvaluateLimit(decimal.NewFromInt(80), hundred)
	require.True(t, status.WithinLimit)
	require.Equal(t, "80.00", status.PercentUsed.String())
	require.Equal(t, ThresholdApproaching, status.Threshold(80))

	status = EvaluateLimit(decimal.NewFromInt(100), hundred)
	require.False(t, status.WithinLimit, "reaching the limit is a breach")
	require.Equal(t, ThresholdExceeded, status.Threshold(80))

	status = EvaluateLimit(decimal.NewFromInt(105), hundred)
	require.False(t, status.WithinLimit)
	require.Equal(t, "105.00", status.PercentUsed.String())

	status = EvaluateLimit(decimal.NewFromInt(-5), hundred)
	require.True(t, status.WithinLimit)
	require.Equal(t, "0.00", status.PercentUsed.String())
	require.Equal(t, ThresholdOK, status.Threshold(80))

	status = EvaluateLimit(decimal.Zero, decimal.Zero)
	require.False(t, status.WithinLimit)
	require.Equal(t, "100.00", status.PercentUsed.String())

	raw, err := EvaluateLimit(decimal.NewFromInt(1), decimal.NewFromInt(3)).PercentUsed.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"33.33"`, string(raw))

	require.Equal(t, ThresholdOK, LimitStatus{WithinLimit: true}.Threshold(80))
}
