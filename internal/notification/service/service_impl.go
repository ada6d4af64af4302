package service

import (
	"context"
	"errors"
	"strings"

	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	notificationdomain "github.com/Pasandul2/ZORO9X-sub000/internal/notification/domain"
	obsmetrics "github.com/Pasandul2/ZORO9X-sub000/internal/observability/metrics"
	"github.com/Pasandul2/ZORO9X-sub000/internal/providers/email"
	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("saasguard/notification")

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Provider email.Provider
	Repo     notificationdomain.Repository
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	provider email.Provider
	repo     notificationdomain.Repository
	metrics  *obsmetrics.Metrics
}

func NewService(p ServiceParam) notificationdomain.Dispatcher {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("notification.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		provider: p.Provider,
		repo:     p.Repo,
		metrics:  p.Metrics,
	}
}

func (s *Service) Notify(ctx context.Context, n notificationdomain.Notification) (notificationdomain.Receipt, error) {
	ctx, span := tracer.Start(ctx, "notification.Notify")
	defer span.End()
	span.SetAttributes(attribute.String("template", n.Template))

	recipients := normalizeRecipients(n.To)
	if len(recipients) == 0 {
		return notificationdomain.Receipt{}, notificationdomain.ErrMissingRecipient
	}
	tmpl, err := s.resolveTemplate(ctx, n.Template)
	if err != nil {
		return notificationdomain.Receipt{}, err
	}

	msg := email.Message{
		To:       recipients,
		Subject:  notificationdomain.Render(tmpl.Subject, n.Vars),
		HTMLBody: notificationdomain.RenderHTML(tmpl.BodyHTML, n.Vars),
		TextBody: notificationdomain.Render(tmpl.BodyText, n.Vars),
	}
	receipt := notificationdomain.Receipt{
		Template:   tmpl.Name,
		Recipients: recipients,
		Subject:    msg.Subject,
	}

	if sendErr := s.provider.Send(ctx, msg); sendErr != nil {
		receipt.DeliveryError = &notificationdomain.DeliveryError{Template: tmpl.Name, Err: sendErr}
		span.RecordError(sendErr)
		s.metrics.RecordNotification(tmpl.Name, obsmetrics.ResultFailure)
	} else {
		receipt.Delivered = true
		s.metrics.RecordNotification(tmpl.Name, obsmetrics.ResultSuccess)
	}

	s.writeLogs(ctx, receipt)
	receipt.Log(s.log)
	return receipt, nil
}

// resolveTemplate prefers an active row in email_templates and falls back to
// the built-in copy. A store failure degrades to the built-in template.
func (s *Service) resolveTemplate(ctx context.Context, name string) (notificationdomain.Template, error) {
	name = strings.TrimSpace(name)
	builtin, hasBuiltin := notificationdomain.BuiltinTemplate(name)

	stored, err := s.repo.FindActiveTemplate(ctx, s.db, name)
	switch {
	case err == nil:
		return *stored, nil
	case errors.Is(err, notificationdomain.ErrTemplateNotFound):
	default:
		s.log.Warn("template lookup failed, using built-in", zap.String("template", name), zap.Error(err))
	}

	if !hasBuiltin {
		return notificationdomain.Template{}, notificationdomain.ErrUnknownTemplate
	}
	return builtin, nil
}

func (s *Service) writeLogs(ctx context.Context, receipt notificationdomain.Receipt) {
	now := s.clock.Now()
	status := notificationdomain.LogStatusSent
	var errorMessage *string
	sentAt := &now
	if receipt.DeliveryError != nil {
		status = notificationdomain.LogStatusFailed
		msg := receipt.DeliveryError.Err.Error()
		errorMessage = &msg
		sentAt = nil
	}

	for _, recipient := range receipt.Recipients {
		entry := &notificationdomain.EmailLog{
			ID:             s.genID.Generate(),
			TemplateName:   receipt.Template,
			RecipientEmail: recipient,
			Subject:        receipt.Subject,
			Status:         status,
			ErrorMessage:   errorMessage,
			SentAt:         sentAt,
			CreatedAt:      now,
		}
		if err := s.repo.InsertLog(ctx, s.db, entry); err != nil {
			s.log.Warn("failed to write email log", zap.String("template", receipt.Template), zap.Error(err))
		}
	}
}

func normalizeRecipients(to []string) []string {
	out := make([]string, 0, len(to))
	seen := make(map[string]struct{}, len(to))
	for _, addr := range to {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, addr)
	}
	return out
}
