package domain

import (
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MetricAPICalls is recorded once per authenticated client API request.
const MetricAPICalls = "api_calls"

type ResetPeriod string

const (
	ResetDaily   ResetPeriod = "daily"
	ResetWeekly  ResetPeriod = "weekly"
	ResetMonthly ResetPeriod = "monthly"
	ResetYearly  ResetPeriod = "yearly"
)

// ResetPeriods lists every calendar period in reset order.
var ResetPeriods = []ResetPeriod{ResetDaily, ResetWeekly, ResetMonthly, ResetYearly}

func (p ResetPeriod) Valid() bool {
	switch p {
	case ResetDaily, ResetWeekly, ResetMonthly, ResetYearly:
		return true
	}
	return false
}

// UsageRecord is an immutable usage fact. CreatedAt is stamped by the engine
// on insert, never taken from the caller.
type UsageRecord struct {
	ID        snowflake.ID      `json:"id"`
	ClientID  snowflake.ID      `json:"client_id"`
	SystemID  snowflake.ID      `json:"system_id"`
	Metric    string            `json:"metric"`
	Quantity  decimal.Decimal   `json:"quantity"`
	Metadata  datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

type UsageLimit struct {
	ID            snowflake.ID    `json:"id"`
	ClientID      snowflake.ID    `json:"client_id"`
	SystemID      snowflake.ID    `json:"system_id"`
	Metric        string          `json:"metric"`
	LimitValue    decimal.Decimal `json:"limit_value"`
	CurrentUsage  decimal.Decimal `json:"current_usage"`
	ResetPeriod   ResetPeriod     `json:"reset_period"`
	LastResetAt   *time.Time      `json:"last_reset_at,omitempty"`
	LastUpdatedAt *time.Time      `json:"last_updated_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ThresholdStatus string

const (
	ThresholdOK          ThresholdStatus = "ok"
	ThresholdApproaching ThresholdStatus = "approaching"
	ThresholdExceeded    ThresholdStatus = "exceeded"
)

// LimitStatus is the result of a limit check. WithinLimit is strict:
// reaching the limit exactly is a breach.
type LimitStatus struct {
	HasLimit     bool            `json:"has_limit"`
	WithinLimit  bool            `json:"within_limit"`
	CurrentUsage decimal.Decimal `json:"current_usage"`
	LimitValue   decimal.Decimal `json:"limit_value"`
	PercentUsed  Percent         `json:"percent_used"`
	WindowStart  time.Time       `json:"window_start"`
}

// Percent renders with two decimals, e.g. "80.00".
type Percent float64

func (p Percent) String() string {
	return strconv.FormatFloat(float64(p), 'f', 2, 64)
}

func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(p.String())), nil
}

// EvaluateLimit computes the limit status for current against limit.
func EvaluateLimit(current, limit decimal.Decimal) LimitStatus {
	status := LimitStatus{
		HasLimit:     true,
		WithinLimit:  current.LessThan(limit),
		CurrentUsage: current,
		LimitValue:   limit,
	}
	if !limit.IsPositive() {
		status.PercentUsed = 100
		return status
	}
	percent := current.Div(limit).Mul(decimal.NewFromInt(100)).InexactFloat64()
	if percent < 0 {
		percent = 0
	}
	status.PercentUsed = Percent(percent)
	return status
}

// Threshold classifies a status against the approaching percentage.
func (s LimitStatus) Threshold(approachingPercent float64) ThresholdStatus {
	if !s.HasLimit {
		return ThresholdOK
	}
	if float64(s.PercentUsed) >= 100 {
		return ThresholdExceeded
	}
	if !s.WithinLimit || float64(s.PercentUsed) >= approachingPercent {
		return ThresholdApproaching
	}
	return ThresholdOK
}

// MetricUsage aggregates one metric over a range.
type MetricUsage struct {
	Metric        string          `json:"metric"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	RecordCount   int64           `json:"record_count"`
	FirstUsage    *time.Time      `json:"first_usage,omitempty"`
	LastUsage     *time.Time      `json:"last_usage,omitempty"`
}

// DailyUsage is one (day, metric) bucket of usage statistics.
type DailyUsage struct {
	Date          string          `json:"date"`
	Metric        string          `json:"metric"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	RecordCount   int64           `json:"record_count"`
}

type CostLine struct {
	Metric       string          `json:"metric"`
	Quantity     decimal.Decimal `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Cost         decimal.Decimal `json:"cost"`
}

type CostBreakdown struct {
	TotalCost decimal.Decimal `json:"total_cost"`
	Breakdown []CostLine      `json:"breakdown"`
}
