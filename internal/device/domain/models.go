package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusRejected Status = "rejected"
)

const DefaultDeviceName = "Unnamed device"

// Details is the device_activations.details document.
type Details struct {
	AutoApproved    bool   `json:"auto_approved,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	RequestedIP     string `json:"requested_ip,omitempty"`
}

// Device is one activation request for a fingerprint on a subscription. A
// fingerprint has at most one pending or active row per subscription;
// rejected rows are history.
type Device struct {
	ID             snowflake.ID      `json:"id"`
	SubscriptionID snowflake.ID      `json:"subscription_id"`
	Fingerprint    string            `json:"device_fingerprint"`
	Name           string            `json:"device_name"`
	Info           datatypes.JSONMap `json:"device_info,omitempty"`
	Status         Status            `json:"status"`
	IPAddress      *string           `json:"ip_address,omitempty"`
	Details        Details           `json:"details"`
	FirstActivated time.Time         `json:"first_activated"`
	LastSeen       *time.Time        `json:"last_seen,omitempty"`
	ReviewedBy     *string           `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time        `json:"reviewed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

var (
	ErrNotFound           = errors.New("device_not_found")
	ErrInvalidID          = errors.New("invalid_device_id")
	ErrInvalidFingerprint = errors.New("invalid_device_fingerprint")
	ErrInvalidIP          = errors.New("invalid_ip_address")
	ErrReasonRequired     = errors.New("rejection_reason_required")
	ErrInvalidTransition  = errors.New("invalid_device_transition")
	ErrCapacityExceeded   = errors.New("device_capacity_exceeded")
	ErrDeviceNotActive    = errors.New("device_not_active")
	ErrRateLimited        = errors.New("activation_rate_limited")
)

// CapacityError reports an approval that would push the active count past
// the subscription's cap.
type CapacityError struct {
	Active         int
	MaxActivations int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: %d of %d devices active", ErrCapacityExceeded, e.Active, e.MaxActivations)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

// RateLimitError carries how long the caller should back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// InitialStatus decides the status of a new activation. Capacity is never
// exceeded; below it the device activates when the caller asks for it or
// when it is the subscription's first device and policy allows that.
func InitialStatus(active, maxActivations int, autoApprove, autoApproveFirst bool) Status {
	if active >= maxActivations {
		return StatusPending
	}
	if autoApprove || (autoApproveFirst && active == 0) {
		return StatusActive
	}
	return StatusPending
}
