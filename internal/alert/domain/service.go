package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type RaiseRequest struct {
	SubscriptionID    snowflake.ID
	Details           Details
	DeviceFingerprint string
	IPAddress         string
}

type ListRequest struct {
	Status         string
	Severity       string
	AlertType      string
	SubscriptionID string
	Limit          int
}

type ListFilter struct {
	Status         Status
	Severity       Severity
	AlertType      AlertType
	SubscriptionID snowflake.ID
	Limit          int
}

type ReviewRequest struct {
	ID         string
	ReviewedBy string
	Notes      string
}

type ResolveRequest struct {
	ID              string `json:"-"`
	ActionTaken     string `json:"action_taken"`
	ResolutionNotes string `json:"resolution_notes"`
	ReviewedBy      string `json:"-"`
}

type Service interface {
	// Raise persists a new alert. Callers raise only after the evidence rows
	// it points at are committed.
	Raise(ctx context.Context, req RaiseRequest) (*Alert, error)
	HasOpen(ctx context.Context, subscriptionID snowflake.ID, alertType AlertType) (bool, error)
	List(ctx context.Context, req ListRequest) ([]Alert, error)
	Get(ctx context.Context, id string) (*Alert, error)
	MarkReviewed(ctx context.Context, req ReviewRequest) (*Alert, error)
	Ignore(ctx context.Context, req ReviewRequest) (*Alert, error)
	Resolve(ctx context.Context, req ResolveRequest) (*Alert, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, alert *Alert) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Alert, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Alert, error)
	CountOpen(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, alertType AlertType) (int64, error)
	UpdateReview(ctx context.Context, db *gorm.DB, alert *Alert) error
}
