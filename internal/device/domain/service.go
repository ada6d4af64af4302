package domain

import (
	"context"
	"time"

	alertdomain "github.com/Pasandul2/ZORO9X-sub000/internal/alert/domain"
	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ActivationRequest identifies the subscription by id or, for client calls,
// by API key.
type ActivationRequest struct {
	SubscriptionID snowflake.ID   `json:"-"`
	APIKey         string         `json:"api_key"`
	Fingerprint    string         `json:"device_fingerprint"`
	DeviceName     string         `json:"device_name"`
	DeviceInfo     map[string]any `json:"device_info"`
	IPAddress      string         `json:"-"`
	AutoApprove    bool           `json:"-"`
}

type ActivationResult struct {
	Device  *Device `json:"device"`
	Created bool    `json:"created"`
}

type ReviewRequest struct {
	ID         string `json:"-"`
	ReviewedBy string `json:"-"`
	Reason     string `json:"reason"`
}

type TrafficRequest struct {
	SubscriptionID snowflake.ID
	Fingerprint    string
	IPAddress      string
}

type TrafficResult struct {
	Device *Device                 `json:"device"`
	Alerts []alertdomain.AlertType `json:"alerts,omitempty"`
}

type ValidateRequest struct {
	APIKey      string `json:"api_key"`
	Fingerprint string `json:"device_fingerprint"`
	IPAddress   string `json:"-"`
}

type ValidateResult struct {
	Subscription *subscriptiondomain.Subscription `json:"subscription"`
	Device       *Device                          `json:"device"`
}

type Service interface {
	// RequestActivation is idempotent per fingerprint: a pending or active
	// row for the fingerprint is returned as is.
	RequestActivation(ctx context.Context, req ActivationRequest) (*ActivationResult, error)
	// ApproveDevice enforces the activation cap; approving an active device
	// is a no-op.
	ApproveDevice(ctx context.Context, req ReviewRequest) (*Device, error)
	RejectDevice(ctx context.Context, req ReviewRequest) (*Device, error)
	ListPending(ctx context.Context, limit int) ([]Device, error)
	ListBySubscription(ctx context.Context, subscriptionID string) ([]Device, error)
	// ObserveTraffic records a request from an active device and raises
	// concurrent_use and suspicious_location alerts when warranted.
	ObserveTraffic(ctx context.Context, req TrafficRequest) (*TrafficResult, error)
	ValidateDevice(ctx context.Context, req ValidateRequest) (*ValidateResult, error)
}

type StatusCounts struct {
	Active  int
	Pending int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, device *Device) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Device, error)
	// FindCurrent returns the newest pending or active row for fingerprint.
	FindCurrent(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, fingerprint string) (*Device, error)
	CountByStatus(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) (StatusCounts, error)
	CountRequestedSince(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, since time.Time) (int64, error)
	UpdateReview(ctx context.Context, db *gorm.DB, device *Device) error
	// LatestTrafficExcept returns the active device of the subscription, other
	// than excludeID, that was seen most recently.
	LatestTrafficExcept(ctx context.Context, db *gorm.DB, subscriptionID, excludeID snowflake.ID) (*Device, error)
	Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, ip string, at time.Time) error
	ListPending(ctx context.Context, db *gorm.DB, limit int) ([]Device, error)
	ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]Device, error)
}
