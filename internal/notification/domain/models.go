package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	TemplateUsageLimitApproaching = "usage_limit_approaching"
	TemplateUsageLimitExceeded    = "usage_limit_exceeded"
	TemplateSecurityAlert         = "security_alert"
	TemplateDeviceApproved        = "device_approved"
	TemplateDeviceRejected        = "device_rejected"
)

type LogStatus string

const (
	LogStatusSent   LogStatus = "sent"
	LogStatusFailed LogStatus = "failed"
)

// Notification asks for one templated email.
type Notification struct {
	Template string
	To       []string
	Vars     map[string]string
}

type Template struct {
	Name     string
	Subject  string
	BodyHTML string
	BodyText string
}

type EmailLog struct {
	ID             snowflake.ID
	TemplateName   string
	RecipientEmail string
	Subject        string
	Status         LogStatus
	ErrorMessage   *string
	SentAt         *time.Time
	CreatedAt      time.Time
}

// DeliveryError is a transport failure. It is carried on the Receipt and
// never returned from Dispatcher.Notify.
type DeliveryError struct {
	Template string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Template, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Receipt is the outcome of a Notify call.
type Receipt struct {
	Template      string
	Recipients    []string
	Subject       string
	Delivered     bool
	DeliveryError *DeliveryError
}

// Log acknowledges the receipt on the caller's logger. Failed deliveries are
// logged at warn level, never escalated.
func (r Receipt) Log(log *zap.Logger) {
	if log == nil {
		return
	}
	if r.DeliveryError != nil {
		log.Warn("notification not delivered",
			zap.String("template", r.Template),
			zap.Strings("recipients", r.Recipients),
			zap.Error(r.DeliveryError),
		)
		return
	}
	log.Debug("notification delivered",
		zap.String("template", r.Template),
		zap.Strings("recipients", r.Recipients),
	)
}

// Dispatcher sends templated notifications. The only errors it returns are
// caller mistakes; delivery failures come back inside the Receipt.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) (Receipt, error)
}

type Repository interface {
	FindActiveTemplate(ctx context.Context, db *gorm.DB, name string) (*Template, error)
	InsertLog(ctx context.Context, db *gorm.DB, entry *EmailLog) error
}

var (
	ErrUnknownTemplate  = errors.New("unknown_template")
	ErrMissingRecipient = errors.New("missing_recipient")
	ErrTemplateNotFound = errors.New("template_not_found")
)
