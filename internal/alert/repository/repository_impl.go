package repository

import (
	"context"
	"time"

	alertdomain "github.com/Pasandul2/ZORO9X-sub000/internal/alert/domain"
	"github.com/Pasandul2/ZORO9X-sub000/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxListLimit = 100

type repo struct{}

func Provide() alertdomain.Repository {
	return &repo{}
}

type alertRow struct {
	ID                snowflake.ID
	SubscriptionID    snowflake.ID
	AlertType         string
	Severity          string
	Status            string
	Details           datatypes.JSON
	DeviceFingerprint *string
	IPAddress         *string
	ActionTaken       *string
	ResolutionNotes   *string
	ReviewedBy        *string
	ReviewedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// toDomain validates the stored details against the row's alert type.
func (r alertRow) toDomain() (alertdomain.Alert, error) {
	alertType := alertdomain.AlertType(r.AlertType)
	details, err := alertdomain.DecodeDetails(alertType, r.Details)
	if err != nil {
		return alertdomain.Alert{}, err
	}
	return alertdomain.Alert{
		ID:                r.ID,
		SubscriptionID:    r.SubscriptionID,
		AlertType:         alertType,
		Severity:          alertdomain.Severity(r.Severity),
		Status:            alertdomain.Status(r.Status),
		Details:           details,
		DeviceFingerprint: r.DeviceFingerprint,
		IPAddress:         r.IPAddress,
		ActionTaken:       r.ActionTaken,
		ResolutionNotes:   r.ResolutionNotes,
		ReviewedBy:        r.ReviewedBy,
		ReviewedAt:        r.ReviewedAt,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

const selectAlert = `SELECT id, subscription_id, alert_type, severity, status, details, device_fingerprint,
	ip_address, action_taken, resolution_notes, reviewed_by, reviewed_at, created_at, updated_at
	FROM security_alerts`

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, alert *alertdomain.Alert) error {
	details, err := alertdomain.EncodeDetails(alert.Details)
	if err != nil {
		return err
	}
	return conn.WithContext(ctx).Exec(
		`INSERT INTO security_alerts (
			id, subscription_id, alert_type, severity, status, details, device_fingerprint,
			ip_address, action_taken, resolution_notes, reviewed_by, reviewed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.SubscriptionID,
		alert.AlertType,
		alert.Severity,
		alert.Status,
		datatypes.JSON(details),
		alert.DeviceFingerprint,
		alert.IPAddress,
		alert.ActionTaken,
		alert.ResolutionNotes,
		alert.ReviewedBy,
		alert.ReviewedAt,
		alert.CreatedAt,
		alert.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*alertdomain.Alert, error) {
	query := selectAlert + ` WHERE id = ?`
	if forUpdate && db.SupportsRowLocks(conn) {
		query += " FOR UPDATE"
	}

	var rows []alertRow
	if err := conn.WithContext(ctx).Raw(query, id).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, alertdomain.ErrNotFound
	}
	alert, err := rows[0].toDomain()
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter alertdomain.ListFilter) ([]alertdomain.Alert, error) {
	stmt := conn.WithContext(ctx).Table("security_alerts").
		Select("id, subscription_id, alert_type, severity, status, details, device_fingerprint, ip_address, action_taken, resolution_notes, reviewed_by, reviewed_at, created_at, updated_at")
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Severity != "" {
		stmt = stmt.Where("severity = ?", filter.Severity)
	}
	if filter.AlertType != "" {
		stmt = stmt.Where("alert_type = ?", filter.AlertType)
	}
	if filter.SubscriptionID != 0 {
		stmt = stmt.Where("subscription_id = ?", filter.SubscriptionID)
	}
	limit := filter.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	var rows []alertRow
	if err := stmt.Order("created_at DESC").Order("id DESC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, err
	}

	alerts := make([]alertdomain.Alert, 0, len(rows))
	for _, row := range rows {
		alert, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func (r *repo) CountOpen(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID, alertType alertdomain.AlertType) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM security_alerts WHERE subscription_id = ? AND alert_type = ? AND status IN (?, ?)`,
		subscriptionID,
		alertType,
		alertdomain.StatusPending,
		alertdomain.StatusReviewed,
	).Scan(&count).Error
	return count, err
}

func (r *repo) UpdateReview(ctx context.Context, conn *gorm.DB, alert *alertdomain.Alert) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE security_alerts
		SET status = ?, action_taken = ?, resolution_notes = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ?`,
		alert.Status,
		alert.ActionTaken,
		alert.ResolutionNotes,
		alert.ReviewedBy,
		alert.ReviewedAt,
		alert.UpdatedAt,
		alert.ID,
	).Error
}
