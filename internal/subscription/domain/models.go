package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusTrial     Status = "trial"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Subscription is the read model of a client's subscription to one system,
// with the effective activation cap resolved from its plan.
type Subscription struct {
	ID             snowflake.ID `json:"id"`
	ClientID       snowflake.ID `json:"client_id"`
	SystemID       snowflake.ID `json:"system_id"`
	PlanID         snowflake.ID `json:"plan_id"`
	APIKey         string       `json:"-"`
	Status         Status       `json:"status"`
	MaxActivations int          `json:"max_activations"`
	DeviceCount    int          `json:"device_count"`
}

// Usable reports whether the subscription may activate devices.
func (s Subscription) Usable() bool {
	return s.Status == StatusActive || s.Status == StatusTrial
}

// Contact is who gets told about a subscription.
type Contact struct {
	ClientID    snowflake.ID
	SystemID    snowflake.ID
	Email       string
	CompanyName string
	SystemName  string
}

type MetricPrice struct {
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
}

// Pricing is the plan's pricing_details document keyed by metric.
type Pricing map[string]MetricPrice

// Repository reads subscription state owned by the billing side of the
// platform. Every method takes the handle to run on so callers can pass a
// transaction.
type Repository interface {
	Get(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	GetForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	GetByAPIKey(ctx context.Context, db *gorm.DB, apiKey string) (*Subscription, error)
	GetContact(ctx context.Context, db *gorm.DB, clientID, systemID snowflake.ID) (*Contact, error)
	GetPricing(ctx context.Context, db *gorm.DB, clientID, systemID snowflake.ID) (Pricing, error)
	SyncDeviceCount(ctx context.Context, db *gorm.DB, id snowflake.ID, count int, at time.Time) error
	IncrementActivationCount(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

var (
	ErrNotFound       = errors.New("subscription_not_found")
	ErrInactive       = errors.New("subscription_inactive")
	ErrInvalidAPIKey  = errors.New("invalid_api_key")
	ErrContactMissing = errors.New("subscription_contact_not_found")
)
