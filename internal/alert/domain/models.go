package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type AlertType string

const (
	AlertTypeConcurrentUse       AlertType = "concurrent_use"
	AlertTypeDeviceLimitExceeded AlertType = "device_limit_exceeded"
	AlertTypeSuspiciousLocation  AlertType = "suspicious_location"
	AlertTypeRapidActivations    AlertType = "rapid_activations"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertTypeConcurrentUse, AlertTypeDeviceLimitExceeded, AlertTypeSuspiciousLocation, AlertTypeRapidActivations:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusReviewed Status = "reviewed"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusReviewed, StatusResolved, StatusIgnored:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s. Status only moves
// forward: pending to reviewed, resolved or ignored; reviewed to resolved or
// ignored. Resolved and ignored are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusReviewed || next == StatusResolved || next == StatusIgnored
	case StatusReviewed:
		return next == StatusResolved || next == StatusIgnored
	}
	return false
}

const DefaultActionTaken = "none"

// Alert is a persisted security finding. Alerts are never deleted.
type Alert struct {
	ID                snowflake.ID `json:"id"`
	SubscriptionID    snowflake.ID `json:"subscription_id"`
	AlertType         AlertType    `json:"alert_type"`
	Severity          Severity     `json:"severity"`
	Status            Status       `json:"status"`
	Details           Details      `json:"details"`
	DeviceFingerprint *string      `json:"device_fingerprint,omitempty"`
	IPAddress         *string      `json:"ip_address,omitempty"`
	ActionTaken       *string      `json:"action_taken,omitempty"`
	ResolutionNotes   *string      `json:"resolution_notes,omitempty"`
	ReviewedBy        *string      `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time   `json:"reviewed_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

var (
	ErrNotFound          = errors.New("alert_not_found")
	ErrInvalidTransition = errors.New("invalid_alert_transition")
	ErrInvalidDetails    = errors.New("invalid_alert_details")
	ErrInvalidFilter     = errors.New("invalid_alert_filter")
	ErrInvalidID         = errors.New("invalid_alert_id")
)
