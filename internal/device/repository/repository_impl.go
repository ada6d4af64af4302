package repository

import (
	"context"
	"fmt"
	"time"

	devicedomain "github.com/Pasandul2/ZORO9X-sub000/internal/device/domain"
	"github.com/Pasandul2/ZORO9X-sub000/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxListLimit = 100

type repo struct{}

func Provide() devicedomain.Repository {
	return &repo{}
}

type deviceRow struct {
	ID                snowflake.ID
	SubscriptionID    snowflake.ID
	DeviceFingerprint string
	DeviceName        string
	DeviceInfo        datatypes.JSONMap
	Status            string
	IPAddress         *string
	Details           datatypes.JSONType[devicedomain.Details]
	FirstActivated    time.Time
	LastSeen          *time.Time
	ReviewedBy        *string
	ReviewedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (r deviceRow) toDomain() devicedomain.Device {
	return devicedomain.Device{
		ID:             r.ID,
		SubscriptionID: r.SubscriptionID,
		Fingerprint:    r.DeviceFingerprint,
		Name:           r.DeviceName,
		Info:           r.DeviceInfo,
		Status:         devicedomain.Status(r.Status),
		IPAddress:      r.IPAddress,
		Details:        r.Details.Data(),
		FirstActivated: r.FirstActivated,
		LastSeen:       r.LastSeen,
		ReviewedBy:     r.ReviewedBy,
		ReviewedAt:     r.ReviewedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// details is never NULL on write; COALESCE covers rows written elsewhere.
const selectDevice = `SELECT id, subscription_id, device_fingerprint, device_name, device_info, status,
	ip_address, COALESCE(details, '{}') AS details, first_activated, last_seen, reviewed_by, reviewed_at,
	created_at, updated_at
	FROM device_activations`

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, device *devicedomain.Device) error {
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO device_activations (
			id, subscription_id, device_fingerprint, device_name, device_info, status, ip_address,
			details, first_activated, last_seen, reviewed_by, reviewed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.SubscriptionID,
		device.Fingerprint,
		device.Name,
		device.Info,
		device.Status,
		device.IPAddress,
		datatypes.NewJSONType(device.Details),
		device.FirstActivated,
		device.LastSeen,
		device.ReviewedBy,
		device.ReviewedAt,
		device.CreatedAt,
		device.UpdatedAt,
	).Error
	if err != nil {
		return fmt.Errorf("insert device activation: %w", err)
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (*devicedomain.Device, error) {
	query := selectDevice + ` WHERE id = ?`
	if forUpdate && db.SupportsRowLocks(conn) {
		query += " FOR UPDATE"
	}
	return r.first(ctx, conn, query, id)
}

func (r *repo) FindCurrent(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID, fingerprint string) (*devicedomain.Device, error) {
	return r.first(ctx, conn,
		selectDevice+` WHERE subscription_id = ? AND device_fingerprint = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		subscriptionID, fingerprint, devicedomain.StatusPending, devicedomain.StatusActive,
	)
}

func (r *repo) first(ctx context.Context, conn *gorm.DB, query string, args ...any) (*devicedomain.Device, error) {
	var rows []deviceRow
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("find device activation: %w", err)
	}
	if len(rows) == 0 {
		return nil, devicedomain.ErrNotFound
	}
	device := rows[0].toDomain()
	return &device, nil
}

func (r *repo) CountByStatus(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID) (devicedomain.StatusCounts, error) {
	var rows []struct {
		Status string
		Total  int
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT status, COUNT(*) AS total FROM device_activations
		WHERE subscription_id = ? AND status IN (?, ?)
		GROUP BY status`,
		subscriptionID, devicedomain.StatusActive, devicedomain.StatusPending,
	).Scan(&rows).Error
	if err != nil {
		return devicedomain.StatusCounts{}, fmt.Errorf("count devices: %w", err)
	}

	var counts devicedomain.StatusCounts
	for _, row := range rows {
		switch devicedomain.Status(row.Status) {
		case devicedomain.StatusActive:
			counts.Active = row.Total
		case devicedomain.StatusPending:
			counts.Pending = row.Total
		}
	}
	return counts, nil
}

func (r *repo) CountRequestedSince(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID, since time.Time) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM device_activations WHERE subscription_id = ? AND created_at >= ?`,
		subscriptionID, since.UTC(),
	).Scan(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count recent activations: %w", err)
	}
	return count, nil
}

func (r *repo) UpdateReview(ctx context.Context, conn *gorm.DB, device *devicedomain.Device) error {
	err := conn.WithContext(ctx).Exec(
		`UPDATE device_activations
		SET status = ?, details = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ?`,
		device.Status,
		datatypes.NewJSONType(device.Details),
		device.ReviewedBy,
		device.ReviewedAt,
		device.UpdatedAt,
		device.ID,
	).Error
	if err != nil {
		return fmt.Errorf("update device review: %w", err)
	}
	return nil
}

func (r *repo) LatestTrafficExcept(ctx context.Context, conn *gorm.DB, subscriptionID, excludeID snowflake.ID) (*devicedomain.Device, error) {
	return r.first(ctx, conn,
		selectDevice+` WHERE subscription_id = ? AND id <> ? AND status = ? AND last_seen IS NOT NULL
		ORDER BY last_seen DESC LIMIT 1`,
		subscriptionID, excludeID, devicedomain.StatusActive,
	)
}

func (r *repo) Touch(ctx context.Context, conn *gorm.DB, id snowflake.ID, ip string, at time.Time) error {
	err := conn.WithContext(ctx).Exec(
		`UPDATE device_activations SET last_seen = ?, ip_address = ?, updated_at = ? WHERE id = ?`,
		at, ip, at, id,
	).Error
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

func (r *repo) ListPending(ctx context.Context, conn *gorm.DB, limit int) ([]devicedomain.Device, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	return r.list(ctx, conn,
		selectDevice+` WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		devicedomain.StatusPending, limit,
	)
}

func (r *repo) ListBySubscription(ctx context.Context, conn *gorm.DB, subscriptionID snowflake.ID) ([]devicedomain.Device, error) {
	return r.list(ctx, conn,
		selectDevice+` WHERE subscription_id = ? ORDER BY created_at DESC, id DESC`,
		subscriptionID,
	)
}

func (r *repo) list(ctx context.Context, conn *gorm.DB, query string, args ...any) ([]devicedomain.Device, error) {
	var rows []deviceRow
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list device activations: %w", err)
	}
	devices := make([]devicedomain.Device, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, row.toDomain())
	}
	return devices, nil
}
