package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecordRequest carries no timestamp. The engine stamps created_at from its
// clock, the same clock window starts are computed from.
type RecordRequest struct {
	ClientID snowflake.ID
	SystemID snowflake.ID
	Metric   string
	Quantity decimal.Decimal
	Metadata map[string]any
}

type SetLimitRequest struct {
	ClientID    snowflake.ID    `json:"-"`
	SystemID    snowflake.ID    `json:"-"`
	Metric      string          `json:"metric"`
	LimitValue  decimal.Decimal `json:"limit_value"`
	ResetPeriod ResetPeriod     `json:"reset_period"`
}

// UsageQuery selects usage for one client. Zero SystemID means all systems;
// nil bounds are open.
type UsageQuery struct {
	ClientID snowflake.ID
	SystemID snowflake.ID
	Start    *time.Time
	End      *time.Time
}

type CostRequest struct {
	ClientID snowflake.ID
	SystemID snowflake.ID
	Start    time.Time
	End      time.Time
}

type Service interface {
	// RecordUsage stores the record and then runs the limit check. Only a
	// failed insert is returned; check failures are logged.
	RecordUsage(ctx context.Context, req RecordRequest) (*UsageRecord, error)
	CheckUsageLimit(ctx context.Context, clientID, systemID snowflake.ID, metric string) (LimitStatus, error)
	// ResetUsageLimits zeroes every limit whose last reset precedes the
	// current calendar period and returns how many rows each period reset.
	ResetUsageLimits(ctx context.Context) (map[ResetPeriod]int64, error)
	SetUsageLimit(ctx context.Context, req SetLimitRequest) (*UsageLimit, error)
	GetUsage(ctx context.Context, query UsageQuery) ([]MetricUsage, error)
	GetUsageStatistics(ctx context.Context, clientID, systemID snowflake.ID, days int) ([]DailyUsage, error)
	CalculateUsageCost(ctx context.Context, req CostRequest) (CostBreakdown, error)
}

// RecordPoint is one raw record used for bucketing.
type RecordPoint struct {
	Metric    string
	Quantity  decimal.Decimal
	CreatedAt time.Time
}

type Repository interface {
	InsertRecord(ctx context.Context, db *gorm.DB, record *UsageRecord) error
	FindLimit(ctx context.Context, db *gorm.DB, clientID, systemID snowflake.ID, metric string) (*UsageLimit, error)
	SumSince(ctx context.Context, db *gorm.DB, clientID, systemID snowflake.ID, metric string, since time.Time) (decimal.Decimal, error)
	UpdateCurrentUsage(ctx context.Context, db *gorm.DB, id snowflake.ID, current decimal.Decimal, at time.Time) error
	UpsertLimit(ctx context.Context, db *gorm.DB, limit *UsageLimit) error
	ResetPeriod(ctx context.Context, db *gorm.DB, period ResetPeriod, windowStart, at time.Time) (int64, error)
	AggregateByMetric(ctx context.Context, db *gorm.DB, query UsageQuery) ([]MetricUsage, error)
	ListSince(ctx context.Context, db *gorm.DB, clientID, systemID snowflake.ID, since time.Time) ([]RecordPoint, error)
}

var (
	ErrInvalidClient      = errors.New("invalid_client_id")
	ErrInvalidSystem      = errors.New("invalid_system_id")
	ErrInvalidMetric      = errors.New("invalid_metric")
	ErrInvalidQuantity    = errors.New("invalid_quantity")
	ErrInvalidLimit       = errors.New("invalid_limit_value")
	ErrInvalidResetPeriod = errors.New("invalid_reset_period")
	ErrInvalidDays        = errors.New("invalid_days")
	ErrInvalidRange       = errors.New("invalid_date_range")
	ErrLimitNotFound      = errors.New("usage_limit_not_found")
)

// MetadataOf converts loose metadata into the JSON column type.
func MetadataOf(values map[string]any) datatypes.JSONMap {
	if len(values) == 0 {
		return nil
	}
	return datatypes.JSONMap(values)
}
