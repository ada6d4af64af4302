package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	usagedomain "github.com/Pasandul2/ZORO9X-sub000/internal/usage/domain"
	"github.com/Pasandul2/ZORO9X-sub000/pkg/db"
	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

type limitRow struct {
	ID            snowflake.ID
	ClientID      snowflake.ID
	SystemID      snowflake.ID
	Metric        string
	LimitValue    decimal.Decimal
	CurrentUsage  decimal.Decimal
	ResetPeriod   string
	LastResetAt   *time.Time
	LastUpdatedAt *time.Time
	CreatedAt     time.Time
}

func (r limitRow) toDomain() *usagedomain.UsageLimit {
	return &usagedomain.UsageLimit{
		ID:            r.ID,
		ClientID:      r.ClientID,
		SystemID:      r.SystemID,
		Metric:        r.Metric,
		LimitValue:    r.LimitValue,
		CurrentUsage:  r.CurrentUsage,
		ResetPeriod:   usagedomain.ResetPeriod(r.ResetPeriod),
		LastResetAt:   r.LastResetAt,
		LastUpdatedAt: r.LastUpdatedAt,
		CreatedAt:     r.CreatedAt,
	}
}

func (r *repo) InsertRecord(ctx context.Context, conn *gorm.DB, record *usagedomain.UsageRecord) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO usage_records (id, client_id, system_id, metric, quantity, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ClientID,
		record.SystemID,
		record.Metric,
		record.Quantity,
		record.Metadata,
		record.CreatedAt,
	).Error
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (r *repo) FindLimit(ctx context.Context, conn *gorm.DB, clientID, systemID snowflake.ID, metric string) (*usagedomain.UsageLimit, error) {
	var rows []limitRow
	err := conn.WithContext(ctx).Raw(
		`SELECT id, client_id, system_id, metric, limit_value, current_usage, reset_period,
			last_reset_at, last_updated_at, created_at
		FROM usage_limits
		WHERE client_id = ? AND system_id = ? AND metric = ?`,
		clientID, systemID, metric,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find usage limit: %w", err)
	}
	if len(rows) == 0 {
		return nil, usagedomain.ErrLimitNotFound
	}
	return rows[0].toDomain(), nil
}

type totalRow struct {
	Total decimal.Decimal
}

func (r *repo) SumSince(ctx context.Context, conn *gorm.DB, clientID, systemID snowflake.ID, metric string, since time.Time) (decimal.Decimal, error) {
	var row totalRow
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0) AS total
		FROM usage_records
		WHERE client_id = ? AND system_id = ? AND metric = ? AND created_at >= ?`,
		clientID, systemID, metric, since.UTC(),
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum usage: %w", err)
	}
	return row.Total, nil
}

func (r *repo) UpdateCurrentUsage(ctx context.Context, conn *gorm.DB, id snowflake.ID, current decimal.Decimal, at time.Time) error {
	err := conn.WithContext(ctx).Exec(
		`UPDATE usage_limits SET current_usage = ?, last_updated_at = ? WHERE id = ?`,
		current, at, id,
	).Error
	if err != nil {
		return fmt.Errorf("update current usage: %w", err)
	}
	return nil
}

// UpsertLimit keeps current_usage and last_reset_at of an existing limit and
// replaces its value and period. limit is filled with the stored row.
func (r *repo) UpsertLimit(ctx context.Context, conn *gorm.DB, limit *usagedomain.UsageLimit) error {
	existing, err := r.FindLimit(ctx, conn, limit.ClientID, limit.SystemID, limit.Metric)
	switch {
	case errors.Is(err, usagedomain.ErrLimitNotFound):
		err = conn.WithContext(ctx).Exec(
			`INSERT INTO usage_limits (id, client_id, system_id, metric, limit_value, current_usage, reset_period, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			limit.ID,
			limit.ClientID,
			limit.SystemID,
			limit.Metric,
			limit.LimitValue,
			limit.ResetPeriod,
			limit.CreatedAt,
		).Error
		if err == nil {
			limit.CurrentUsage = decimal.Zero
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("insert usage limit: %w", err)
		}
		// Lost an insert race; update the winner's row instead.
		existing, err = r.FindLimit(ctx, conn, limit.ClientID, limit.SystemID, limit.Metric)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	}

	err = conn.WithContext(ctx).Exec(
		`UPDATE usage_limits SET limit_value = ?, reset_period = ? WHERE id = ?`,
		limit.LimitValue, limit.ResetPeriod, existing.ID,
	).Error
	if err != nil {
		return fmt.Errorf("update usage limit: %w", err)
	}
	limit.ID = existing.ID
	limit.CurrentUsage = existing.CurrentUsage
	limit.LastResetAt = existing.LastResetAt
	limit.LastUpdatedAt = existing.LastUpdatedAt
	limit.CreatedAt = existing.CreatedAt
	return nil
}

// ResetPeriod zeroes limits of one period whose last reset precedes
// windowStart. Running it twice in the same window touches nothing the
// second time.
func (r *repo) ResetPeriod(ctx context.Context, conn *gorm.DB, period usagedomain.ResetPeriod, windowStart, at time.Time) (int64, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE usage_limits SET current_usage = 0, last_reset_at = ?
		WHERE reset_period = ? AND (last_reset_at IS NULL OR last_reset_at < ?)`,
		at, period, windowStart.UTC(),
	)
	if result.Error != nil {
		return 0, fmt.Errorf("reset %s limits: %w", period, result.Error)
	}
	return result.RowsAffected, nil
}

type metricUsageRow struct {
	Metric        string
	TotalQuantity decimal.Decimal
	RecordCount   int64
	FirstUsage    db.NullTime
	LastUsage     db.NullTime
}

func (r *repo) AggregateByMetric(ctx context.Context, conn *gorm.DB, query usagedomain.UsageQuery) ([]usagedomain.MetricUsage, error) {
	stmt := conn.WithContext(ctx).Table("usage_records").
		Select(`metric, COALESCE(SUM(quantity), 0) AS total_quantity, COUNT(*) AS record_count,
			MIN(created_at) AS first_usage, MAX(created_at) AS last_usage`).
		Where("client_id = ?", query.ClientID)
	if query.SystemID != 0 {
		stmt = stmt.Where("system_id = ?", query.SystemID)
	}
	if query.Start != nil {
		stmt = stmt.Where("created_at >= ?", query.Start.UTC())
	}
	if query.End != nil {
		stmt = stmt.Where("created_at <= ?", query.End.UTC())
	}

	var rows []metricUsageRow
	if err := stmt.Group("metric").Order("metric").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}

	out := make([]usagedomain.MetricUsage, 0, len(rows))
	for _, row := range rows {
		out = append(out, usagedomain.MetricUsage{
			Metric:        row.Metric,
			TotalQuantity: row.TotalQuantity,
			RecordCount:   row.RecordCount,
			FirstUsage:    row.FirstUsage.Ptr(),
			LastUsage:     row.LastUsage.Ptr(),
		})
	}
	return out, nil
}

func (r *repo) ListSince(ctx context.Context, conn *gorm.DB, clientID, systemID snowflake.ID, since time.Time) ([]usagedomain.RecordPoint, error) {
	var rows []usagedomain.RecordPoint
	err := conn.WithContext(ctx).Raw(
		`SELECT metric, quantity, created_at
		FROM usage_records
		WHERE client_id = ? AND system_id = ? AND created_at >= ?
		ORDER BY created_at`,
		clientID, systemID, since.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return rows, nil
}
