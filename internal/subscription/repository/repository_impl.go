package repository

import (
	"context"
	"errors"
	"time"

	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	"github.com/Pasandul2/ZORO9X-sub000/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

type subscriptionRow struct {
	ID                snowflake.ID
	ClientID          snowflake.ID
	SystemID          snowflake.ID
	PlanID            snowflake.ID
	APIKey            string
	Status            string
	MaxActivations    *int
	PlanMaxActivation int
	DeviceCount       int
}

func (r subscriptionRow) toDomain() *subscriptiondomain.Subscription {
	maxActivations := r.PlanMaxActivation
	if r.MaxActivations != nil {
		maxActivations = *r.MaxActivations
	}
	return &subscriptiondomain.Subscription{
		ID:             r.ID,
		ClientID:       r.ClientID,
		SystemID:       r.SystemID,
		PlanID:         r.PlanID,
		APIKey:         r.APIKey,
		Status:         subscriptiondomain.Status(r.Status),
		MaxActivations: maxActivations,
		DeviceCount:    r.DeviceCount,
	}
}

const selectSubscription = `SELECT id, client_id, system_id, plan_id, api_key, status, max_activations, device_count
	FROM client_subscriptions`

func (r *repo) Get(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.find(ctx, conn, selectSubscription+` WHERE id = ?`, false, id)
}

// GetForUpdate locks only the subscription row; the plan row is read without
// a lock so subscriptions sharing a plan do not serialize on each other.
func (r *repo) GetForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.find(ctx, conn, selectSubscription+` WHERE id = ?`, true, id)
}

func (r *repo) GetByAPIKey(ctx context.Context, conn *gorm.DB, apiKey string) (*subscriptiondomain.Subscription, error) {
	if apiKey == "" {
		return nil, subscriptiondomain.ErrInvalidAPIKey
	}
	sub, err := r.find(ctx, conn, selectSubscription+` WHERE api_key = ?`, false, apiKey)
	if errors.Is(err, subscriptiondomain.ErrNotFound) {
		return nil, subscriptiondomain.ErrInvalidAPIKey
	}
	return sub, err
}

func (r *repo) find(ctx context.Context, conn *gorm.DB, query string, forUpdate bool, args ...any) (*subscriptiondomain.Subscription, error) {
	if forUpdate && db.SupportsRowLocks(conn) {
		query += " FOR UPDATE"
	}

	var rows []subscriptionRow
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, subscriptiondomain.ErrNotFound
	}
	row := rows[0]

	if err := conn.WithContext(ctx).Raw(
		`SELECT max_activations FROM subscription_plans WHERE id = ?`,
		row.PlanID,
	).Scan(&row.PlanMaxActivation).Error; err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *repo) GetContact(ctx context.Context, conn *gorm.DB, clientID, systemID snowflake.ID) (*subscriptiondomain.Contact, error) {
	var rows []struct {
		Email       string
		CompanyName string
		SystemName  string
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT c.company_email AS email, c.company_name AS company_name, s.name AS system_name
		FROM clients c
		JOIN systems s ON s.id = ?
		WHERE c.id = ?`,
		systemID,
		clientID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, subscriptiondomain.ErrContactMissing
	}
	return &subscriptiondomain.Contact{
		ClientID:    clientID,
		SystemID:    systemID,
		Email:       rows[0].Email,
		CompanyName: rows[0].CompanyName,
		SystemName:  rows[0].SystemName,
	}, nil
}

func (r *repo) GetPricing(ctx context.Context, conn *gorm.DB, clientID, systemID snowflake.ID) (subscriptiondomain.Pricing, error) {
	var rows []struct {
		PricingDetails datatypes.JSONType[subscriptiondomain.Pricing]
	}
	err := conn.WithContext(ctx).Raw(
		`SELECT COALESCE(sp.pricing_details, '{}') AS pricing_details
		FROM client_subscriptions cs
		JOIN subscription_plans sp ON sp.id = cs.plan_id
		WHERE cs.client_id = ? AND cs.system_id = ?
		ORDER BY cs.created_at DESC`,
		clientID,
		systemID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, subscriptiondomain.ErrNotFound
	}
	pricing := rows[0].PricingDetails.Data()
	if pricing == nil {
		pricing = subscriptiondomain.Pricing{}
	}
	return pricing, nil
}

func (r *repo) SyncDeviceCount(ctx context.Context, conn *gorm.DB, id snowflake.ID, count int, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE client_subscriptions SET device_count = ?, updated_at = ? WHERE id = ?`,
		count,
		at,
		id,
	).Error
}

func (r *repo) IncrementActivationCount(ctx context.Context, conn *gorm.DB, id snowflake.ID, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE client_subscriptions SET activation_count = activation_count + 1, updated_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}
