package service

import (
	"context"
	"errors"
	"strings"

	alertdomain "github.com/Pasandul2/ZORO9X-sub000/internal/alert/domain"
	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	notificationdomain "github.com/Pasandul2/ZORO9X-sub000/internal/notification/domain"
	obsmetrics "github.com/Pasandul2/ZORO9X-sub000/internal/observability/metrics"
	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("saasguard/alert")

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.PolicyHolder
	Repo     alertdomain.Repository
	Notifier notificationdomain.Dispatcher
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.PolicyHolder
	repo     alertdomain.Repository
	notifier notificationdomain.Dispatcher
	metrics  *obsmetrics.Metrics
}

func NewService(p ServiceParam) alertdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("alert.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		repo:     p.Repo,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func (s *Service) Raise(ctx context.Context, req alertdomain.RaiseRequest) (*alertdomain.Alert, error) {
	if req.SubscriptionID == 0 {
		return nil, alertdomain.ErrInvalidDetails
	}
	if req.Details == nil {
		return nil, alertdomain.ErrInvalidDetails
	}
	if err := req.Details.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "alert.Raise")
	defer span.End()
	span.SetAttributes(attribute.String("alert_type", string(req.Details.Kind())))

	now := s.clock.Now()
	alert := &alertdomain.Alert{
		ID:                s.genID.Generate(),
		SubscriptionID:    req.SubscriptionID,
		AlertType:         req.Details.Kind(),
		Severity:          alertdomain.AssignSeverity(req.Details),
		Status:            alertdomain.StatusPending,
		Details:           req.Details,
		DeviceFingerprint: optionalString(req.DeviceFingerprint),
		IPAddress:         optionalString(req.IPAddress),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Insert(ctx, s.db, alert); err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.metrics.RecordAlert(string(alert.AlertType), string(alert.Severity))
	s.log.Info("security alert raised",
		zap.String("alert_id", alert.ID.String()),
		zap.String("subscription_id", alert.SubscriptionID.String()),
		zap.String("alert_type", string(alert.AlertType)),
		zap.String("severity", string(alert.Severity)),
	)

	s.notifyRaised(ctx, alert)
	return alert, nil
}

// notifyRaised tells the security recipients. Nothing here can fail Raise.
func (s *Service) notifyRaised(ctx context.Context, alert *alertdomain.Alert) {
	recipients := s.policy.Get().AlertRecipients
	if len(recipients) == 0 {
		return
	}
	receipt, err := s.notifier.Notify(ctx, notificationdomain.Notification{
		Template: notificationdomain.TemplateSecurityAlert,
		To:       recipients,
		Vars: map[string]string{
			"alert_id":           alert.ID.String(),
			"alert_type":         string(alert.AlertType),
			"severity":           string(alert.Severity),
			"subscription_id":    alert.SubscriptionID.String(),
			"device_fingerprint": derefString(alert.DeviceFingerprint),
			"ip_address":         derefString(alert.IPAddress),
			"summary":            alert.Details.Summary(),
		},
	})
	if err != nil {
		s.log.Error("security alert notification rejected", zap.String("alert_id", alert.ID.String()), zap.Error(err))
		return
	}
	receipt.Log(s.log)
}

func (s *Service) HasOpen(ctx context.Context, subscriptionID snowflake.ID, alertType alertdomain.AlertType) (bool, error) {
	count, err := s.repo.CountOpen(ctx, s.db, subscriptionID, alertType)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) List(ctx context.Context, req alertdomain.ListRequest) ([]alertdomain.Alert, error) {
	filter := alertdomain.ListFilter{Limit: req.Limit}

	if status := strings.TrimSpace(req.Status); status != "" {
		filter.Status = alertdomain.Status(status)
		if !filter.Status.Valid() {
			return nil, alertdomain.ErrInvalidFilter
		}
	}
	if severity := strings.TrimSpace(req.Severity); severity != "" {
		filter.Severity = alertdomain.Severity(severity)
		if !filter.Severity.Valid() {
			return nil, alertdomain.ErrInvalidFilter
		}
	}
	if alertType := strings.TrimSpace(req.AlertType); alertType != "" {
		filter.AlertType = alertdomain.AlertType(alertType)
		if !filter.AlertType.Valid() {
			return nil, alertdomain.ErrInvalidFilter
		}
	}
	if subID := strings.TrimSpace(req.SubscriptionID); subID != "" {
		id, err := snowflake.ParseString(subID)
		if err != nil {
			return nil, alertdomain.ErrInvalidFilter
		}
		filter.SubscriptionID = id
	}

	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) Get(ctx context.Context, id string) (*alertdomain.Alert, error) {
	alertID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, alertID, false)
}

func (s *Service) MarkReviewed(ctx context.Context, req alertdomain.ReviewRequest) (*alertdomain.Alert, error) {
	return s.transition(ctx, req.ID, alertdomain.StatusReviewed, func(alert *alertdomain.Alert) {
		alert.ReviewedBy = optionalString(req.ReviewedBy)
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			alert.ResolutionNotes = &notes
		}
	})
}

func (s *Service) Ignore(ctx context.Context, req alertdomain.ReviewRequest) (*alertdomain.Alert, error) {
	return s.transition(ctx, req.ID, alertdomain.StatusIgnored, func(alert *alertdomain.Alert) {
		alert.ReviewedBy = optionalString(req.ReviewedBy)
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			alert.ResolutionNotes = &notes
		}
	})
}

// Resolve moves an alert to resolved. Resolving a resolved alert returns it
// unchanged so double submits from the dashboard are harmless.
func (s *Service) Resolve(ctx context.Context, req alertdomain.ResolveRequest) (*alertdomain.Alert, error) {
	return s.transition(ctx, req.ID, alertdomain.StatusResolved, func(alert *alertdomain.Alert) {
		action := strings.TrimSpace(req.ActionTaken)
		if action == "" {
			action = alertdomain.DefaultActionTaken
		}
		alert.ActionTaken = &action
		alert.ResolutionNotes = optionalString(req.ResolutionNotes)
		alert.ReviewedBy = optionalString(req.ReviewedBy)
	})
}

// transition re-reads the alert under a row lock and applies mutate when the
// move to next is legal. Reaching a status the alert already has is a no-op.
func (s *Service) transition(ctx context.Context, id string, next alertdomain.Status, mutate func(*alertdomain.Alert)) (*alertdomain.Alert, error) {
	alertID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "alert.Transition")
	defer span.End()
	span.SetAttributes(attribute.String("alert_id", alertID.String()), attribute.String("next_status", string(next)))

	var result *alertdomain.Alert
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		alert, err := s.repo.FindByID(ctx, tx, alertID, true)
		if err != nil {
			return err
		}
		if alert.Status == next {
			result = alert
			return nil
		}
		if !alert.Status.CanTransitionTo(next) {
			return alertdomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		mutate(alert)
		alert.Status = next
		alert.ReviewedAt = &now
		alert.UpdatedAt = now
		if err := s.repo.UpdateReview(ctx, tx, alert); err != nil {
			return err
		}
		result = alert
		return nil
	})
	if err != nil {
		if !errors.Is(err, alertdomain.ErrNotFound) && !errors.Is(err, alertdomain.ErrInvalidTransition) {
			span.RecordError(err)
		}
		return nil, err
	}

	s.log.Info("security alert updated",
		zap.String("alert_id", result.ID.String()),
		zap.String("status", string(result.Status)),
		zap.String("reviewed_by", derefString(result.ReviewedBy)),
	)
	return result, nil
}

func parseID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return 0, alertdomain.ErrInvalidID
	}
	return parsed, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
