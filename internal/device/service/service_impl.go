package service

import (
	"context"
	"errors"
	"strings"
	"time"

	alertdomain "github.com/Pasandul2/ZORO9X-sub000/internal/alert/domain"
	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	devicedomain "github.com/Pasandul2/ZORO9X-sub000/internal/device/domain"
	notificationdomain "github.com/Pasandul2/ZORO9X-sub000/internal/notification/domain"
	obsmetrics "github.com/Pasandul2/ZORO9X-sub000/internal/observability/metrics"
	"github.com/Pasandul2/ZORO9X-sub000/internal/ratelimit"
	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("saasguard/device")

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Policy        *config.PolicyHolder
	Repo          devicedomain.Repository
	Subscriptions subscriptiondomain.Repository
	Alerts        alertdomain.Service
	Notifier      notificationdomain.Dispatcher
	Limiter       *ratelimit.ActivationLimiter `optional:"true"`
	Geo           alertdomain.GeoResolver      `optional:"true"`
	Metrics       *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	policy        *config.PolicyHolder
	repo          devicedomain.Repository
	subscriptions subscriptiondomain.Repository
	alerts        alertdomain.Service
	notifier      notificationdomain.Dispatcher
	limiter       *ratelimit.ActivationLimiter
	geo           alertdomain.GeoResolver
	metrics       *obsmetrics.Metrics
}

func NewService(p ServiceParam) devicedomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("device.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		policy:        p.Policy,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		alerts:        p.Alerts,
		notifier:      p.Notifier,
		limiter:       p.Limiter,
		geo:           p.Geo,
		metrics:       p.Metrics,
	}
}

func (s *Service) RequestActivation(ctx context.Context, req devicedomain.ActivationRequest) (*devicedomain.ActivationResult, error) {
	fingerprint := strings.TrimSpace(req.Fingerprint)
	if fingerprint == "" {
		return nil, devicedomain.ErrInvalidFingerprint
	}
	name := strings.TrimSpace(req.DeviceName)
	if name == "" {
		name = devicedomain.DefaultDeviceName
	}
	ip := strings.TrimSpace(req.IPAddress)

	ctx, span := tracer.Start(ctx, "device.RequestActivation")
	defer span.End()

	subscriptionID := req.SubscriptionID
	if subscriptionID == 0 {
		sub, err := s.subscriptions.GetByAPIKey(ctx, s.db, strings.TrimSpace(req.APIKey))
		if err != nil {
			return nil, err
		}
		subscriptionID = sub.ID
	}
	span.SetAttributes(attribute.String("subscription_id", subscriptionID.String()))

	if ok, retryAfter := s.limiter.Allow(ctx, subscriptionID.String(), ip); !ok {
		s.metrics.RecordActivation("rate_limited")
		return nil, &devicedomain.RateLimitError{RetryAfter: retryAfter}
	}

	policy := s.policy.Get()
	var (
		result      *devicedomain.ActivationResult
		limitAlert  *alertdomain.DeviceLimitDetails
		rapidAlert  *alertdomain.RapidActivationDetails
		deviceCount int
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptions.GetForUpdate(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if !sub.Usable() {
			return subscriptiondomain.ErrInactive
		}

		existing, err := s.repo.FindCurrent(ctx, tx, sub.ID, fingerprint)
		if err == nil {
			result = &devicedomain.ActivationResult{Device: existing}
			return nil
		}
		if !errors.Is(err, devicedomain.ErrNotFound) {
			return err
		}

		counts, err := s.repo.CountByStatus(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		status := devicedomain.InitialStatus(counts.Active, sub.MaxActivations, req.AutoApprove, policy.AutoApproveFirstDevice)

		device := &devicedomain.Device{
			ID:             s.genID.Generate(),
			SubscriptionID: sub.ID,
			Fingerprint:    fingerprint,
			Name:           name,
			Info:           req.DeviceInfo,
			Status:         status,
			IPAddress:      optionalString(ip),
			Details:        devicedomain.Details{AutoApproved: status == devicedomain.StatusActive, RequestedIP: ip},
			FirstActivated: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.Insert(ctx, tx, device); err != nil {
			return err
		}
		result = &devicedomain.ActivationResult{Device: device, Created: true}

		if status == devicedomain.StatusActive {
			deviceCount = counts.Active + 1
			if err := s.subscriptions.SyncDeviceCount(ctx, tx, sub.ID, deviceCount, now); err != nil {
				return err
			}
			return s.subscriptions.IncrementActivationCount(ctx, tx, sub.ID, now)
		}

		// One device_limit_exceeded alert per queue: later requests join the
		// queue the first one opened.
		if counts.Active >= sub.MaxActivations {
			if counts.Pending == 0 {
				details := alertdomain.NewDeviceLimitDetails(counts.Active, counts.Pending+1, sub.MaxActivations, name)
				limitAlert = &details
			}
			return nil
		}

		recent, err := s.repo.CountRequestedSince(ctx, tx, sub.ID, now.Add(-policy.RapidActivationWindow))
		if err != nil {
			return err
		}
		if int(recent) >= policy.RapidActivationThreshold {
			rapidAlert = &alertdomain.RapidActivationDetails{
				Requests:      int(recent),
				Threshold:     policy.RapidActivationThreshold,
				WindowSeconds: int64(policy.RapidActivationWindow / time.Second),
				DeviceName:    name,
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	device := result.Device
	if !result.Created {
		s.metrics.RecordActivation("existing")
		return result, nil
	}
	s.metrics.RecordActivation(string(device.Status))
	s.log.Info("device activation requested",
		zap.String("device_id", device.ID.String()),
		zap.String("subscription_id", device.SubscriptionID.String()),
		zap.String("status", string(device.Status)),
		zap.Int("device_count", deviceCount),
	)

	switch {
	case limitAlert != nil:
		s.raise(ctx, alertdomain.RaiseRequest{
			SubscriptionID:    device.SubscriptionID,
			Details:           *limitAlert,
			DeviceFingerprint: device.Fingerprint,
			IPAddress:         ip,
		}, false)
	case rapidAlert != nil:
		s.raise(ctx, alertdomain.RaiseRequest{
			SubscriptionID:    device.SubscriptionID,
			Details:           *rapidAlert,
			DeviceFingerprint: device.Fingerprint,
			IPAddress:         ip,
		}, true)
	}
	return result, nil
}

// raise persists an alert after the evidence is committed. Failures are
// logged only. With dedupe set, an open alert of the same type suppresses it.
func (s *Service) raise(ctx context.Context, req alertdomain.RaiseRequest, dedupe bool) bool {
	kind := req.Details.Kind()
	if dedupe {
		open, err := s.alerts.HasOpen(ctx, req.SubscriptionID, kind)
		if err != nil {
			s.log.Warn("open alert lookup failed", zap.String("alert_type", string(kind)), zap.Error(err))
			return false
		}
		if open {
			s.log.Info("security alert suppressed by open alert",
				zap.String("alert_type", string(kind)),
				zap.String("subscription_id", req.SubscriptionID.String()),
				zap.String("ip_address", req.IPAddress),
			)
			return false
		}
	}
	if _, err := s.alerts.Raise(ctx, req); err != nil {
		s.log.Error("security alert not raised",
			zap.String("alert_type", string(kind)),
			zap.String("subscription_id", req.SubscriptionID.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}

func (s *Service) ApproveDevice(ctx context.Context, req devicedomain.ReviewRequest) (*devicedomain.Device, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "device.ApproveDevice")
	defer span.End()
	span.SetAttributes(attribute.String("device_id", id.String()))

	var (
		device  *devicedomain.Device
		sub     *subscriptiondomain.Subscription
		changed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id, false)
		if err != nil {
			return err
		}
		// Subscription row first so approvals of one subscription serialize.
		sub, err = s.subscriptions.GetForUpdate(ctx, tx, current.SubscriptionID)
		if err != nil {
			return err
		}
		device, err = s.repo.FindByID(ctx, tx, id, true)
		if err != nil {
			return err
		}

		switch device.Status {
		case devicedomain.StatusActive:
			return nil
		case devicedomain.StatusRejected:
			return devicedomain.ErrInvalidTransition
		}

		counts, err := s.repo.CountByStatus(ctx, tx, sub.ID)
		if err != nil {
			return err
		}
		if counts.Active >= sub.MaxActivations {
			return &devicedomain.CapacityError{Active: counts.Active, MaxActivations: sub.MaxActivations}
		}

		now := s.clock.Now()
		device.Status = devicedomain.StatusActive
		device.ReviewedBy = optionalString(req.ReviewedBy)
		device.ReviewedAt = &now
		device.UpdatedAt = now
		if err := s.repo.UpdateReview(ctx, tx, device); err != nil {
			return err
		}
		if err := s.subscriptions.SyncDeviceCount(ctx, tx, sub.ID, counts.Active+1, now); err != nil {
			return err
		}
		changed = true
		return s.subscriptions.IncrementActivationCount(ctx, tx, sub.ID, now)
	})
	if err != nil {
		s.metrics.RecordDeviceReview("approve", reviewResult(err))
		if !isExpected(err) {
			span.RecordError(err)
		}
		return nil, err
	}
	if !changed {
		s.metrics.RecordDeviceReview("approve", obsmetrics.ResultSkipped)
		return device, nil
	}

	s.metrics.RecordDeviceReview("approve", obsmetrics.ResultSuccess)
	s.log.Info("device approved",
		zap.String("device_id", device.ID.String()),
		zap.String("subscription_id", device.SubscriptionID.String()),
		zap.String("reviewed_by", req.ReviewedBy),
	)
	s.notifyOwner(ctx, sub, notificationdomain.TemplateDeviceApproved, map[string]string{
		"device_name":        device.Name,
		"device_fingerprint": device.Fingerprint,
	})
	return device, nil
}

func (s *Service) RejectDevice(ctx context.Context, req devicedomain.ReviewRequest) (*devicedomain.Device, error) {
	id, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, devicedomain.ErrReasonRequired
	}

	ctx, span := tracer.Start(ctx, "device.RejectDevice")
	defer span.End()
	span.SetAttributes(attribute.String("device_id", id.String()))

	var (
		device  *devicedomain.Device
		sub     *subscriptiondomain.Subscription
		changed bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id, false)
		if err != nil {
			return err
		}
		sub, err = s.subscriptions.GetForUpdate(ctx, tx, current.SubscriptionID)
		if err != nil {
			return err
		}
		device, err = s.repo.FindByID(ctx, tx, id, true)
		if err != nil {
			return err
		}

		switch device.Status {
		case devicedomain.StatusRejected:
			return nil
		case devicedomain.StatusActive:
			return devicedomain.ErrInvalidTransition
		}

		now := s.clock.Now()
		device.Status = devicedomain.StatusRejected
		device.Details.RejectionReason = reason
		device.ReviewedBy = optionalString(req.ReviewedBy)
		device.ReviewedAt = &now
		device.UpdatedAt = now
		changed = true
		return s.repo.UpdateReview(ctx, tx, device)
	})
	if err != nil {
		s.metrics.RecordDeviceReview("reject", reviewResult(err))
		if !isExpected(err) {
			span.RecordError(err)
		}
		return nil, err
	}
	if !changed {
		s.metrics.RecordDeviceReview("reject", obsmetrics.ResultSkipped)
		return device, nil
	}

	s.metrics.RecordDeviceReview("reject", obsmetrics.ResultSuccess)
	s.log.Info("device rejected",
		zap.String("device_id", device.ID.String()),
		zap.String("subscription_id", device.SubscriptionID.String()),
		zap.String("reviewed_by", req.ReviewedBy),
	)
	s.notifyOwner(ctx, sub, notificationdomain.TemplateDeviceRejected, map[string]string{
		"device_name":        device.Name,
		"device_fingerprint": device.Fingerprint,
		"reason":             reason,
	})
	return device, nil
}

// notifyOwner mails the subscription owner. Nothing here fails the review.
func (s *Service) notifyOwner(ctx context.Context, sub *subscriptiondomain.Subscription, template string, vars map[string]string) {
	contact, err := s.subscriptions.GetContact(ctx, s.db, sub.ClientID, sub.SystemID)
	if err != nil {
		s.log.Warn("device notification skipped", zap.String("template", template), zap.Error(err))
		return
	}
	vars["company_name"] = contact.CompanyName
	vars["system_name"] = contact.SystemName

	receipt, err := s.notifier.Notify(ctx, notificationdomain.Notification{
		Template: template,
		To:       []string{contact.Email},
		Vars:     vars,
	})
	if err != nil {
		s.log.Error("device notification rejected", zap.String("template", template), zap.Error(err))
		return
	}
	receipt.Log(s.log)
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]devicedomain.Device, error) {
	return s.repo.ListPending(ctx, s.db, limit)
}

func (s *Service) ListBySubscription(ctx context.Context, subscriptionID string) ([]devicedomain.Device, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(subscriptionID))
	if err != nil || id == 0 {
		return nil, subscriptiondomain.ErrNotFound
	}
	if _, err := s.subscriptions.Get(ctx, s.db, id); err != nil {
		return nil, err
	}
	return s.repo.ListBySubscription(ctx, s.db, id)
}

func (s *Service) ObserveTraffic(ctx context.Context, req devicedomain.TrafficRequest) (*devicedomain.TrafficResult, error) {
	fingerprint := strings.TrimSpace(req.Fingerprint)
	if fingerprint == "" {
		return nil, devicedomain.ErrInvalidFingerprint
	}
	ip := strings.TrimSpace(req.IPAddress)
	if ip == "" {
		return nil, devicedomain.ErrInvalidIP
	}

	ctx, span := tracer.Start(ctx, "device.ObserveTraffic")
	defer span.End()
	span.SetAttributes(attribute.String("subscription_id", req.SubscriptionID.String()))

	device, err := s.repo.FindCurrent(ctx, s.db, req.SubscriptionID, fingerprint)
	if errors.Is(err, devicedomain.ErrNotFound) {
		return nil, devicedomain.ErrDeviceNotActive
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if device.Status != devicedomain.StatusActive {
		return nil, devicedomain.ErrDeviceNotActive
	}

	now := s.clock.Now()
	var pending []alertdomain.RaiseRequest

	other, err := s.repo.LatestTrafficExcept(ctx, s.db, device.SubscriptionID, device.ID)
	switch {
	case err == nil && other.IPAddress != nil && other.LastSeen != nil:
		obs := alertdomain.TrafficObservation{
			SubscriptionID: device.SubscriptionID,
			NewIP:          ip,
			At:             now,
			LastKnownIP:    *other.IPAddress,
			LastSeenAt:     *other.LastSeen,
		}
		if alertdomain.DetectConcurrentUse(obs, s.policy.Get().ConcurrencyWindow) {
			pending = append(pending, alertdomain.RaiseRequest{
				SubscriptionID:    device.SubscriptionID,
				Details:           alertdomain.ConcurrentUseEvidence(obs, s.country(ctx, obs.LastKnownIP), s.country(ctx, ip)),
				DeviceFingerprint: device.Fingerprint,
				IPAddress:         ip,
			})
		}
	case err != nil && !errors.Is(err, devicedomain.ErrNotFound):
		s.log.Warn("concurrent use check skipped", zap.String("device_id", device.ID.String()), zap.Error(err))
	}

	if s.geo != nil && device.IPAddress != nil && *device.IPAddress != ip {
		previous, current := s.country(ctx, *device.IPAddress), s.country(ctx, ip)
		if previous != "" && current != "" && previous != current {
			pending = append(pending, alertdomain.RaiseRequest{
				SubscriptionID: device.SubscriptionID,
				Details: alertdomain.SuspiciousLocationDetails{
					PreviousIP:      *device.IPAddress,
					CurrentIP:       ip,
					PreviousCountry: previous,
					CurrentCountry:  current,
				},
				DeviceFingerprint: device.Fingerprint,
				IPAddress:         ip,
			})
		}
	}

	if err := s.repo.Touch(ctx, s.db, device.ID, ip, now); err != nil {
		span.RecordError(err)
		return nil, err
	}
	device.IPAddress = &ip
	device.LastSeen = &now
	device.UpdatedAt = now

	result := &devicedomain.TrafficResult{Device: device}
	for _, raiseReq := range pending {
		if s.raise(ctx, raiseReq, true) {
			result.Alerts = append(result.Alerts, raiseReq.Details.Kind())
		}
	}
	return result, nil
}

func (s *Service) ValidateDevice(ctx context.Context, req devicedomain.ValidateRequest) (*devicedomain.ValidateResult, error) {
	sub, err := s.subscriptions.GetByAPIKey(ctx, s.db, strings.TrimSpace(req.APIKey))
	if err != nil {
		return nil, err
	}
	if !sub.Usable() {
		return nil, subscriptiondomain.ErrInactive
	}
	traffic, err := s.ObserveTraffic(ctx, devicedomain.TrafficRequest{
		SubscriptionID: sub.ID,
		Fingerprint:    req.Fingerprint,
		IPAddress:      req.IPAddress,
	})
	if err != nil {
		return nil, err
	}
	return &devicedomain.ValidateResult{Subscription: sub, Device: traffic.Device}, nil
}

// country resolves ip, returning "" when no resolver is wired or lookup fails.
func (s *Service) country(ctx context.Context, ip string) string {
	if s.geo == nil || ip == "" {
		return ""
	}
	code, err := s.geo.Country(ctx, ip)
	if err != nil {
		s.log.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

func reviewResult(err error) string {
	if errors.Is(err, devicedomain.ErrCapacityExceeded) {
		return "capacity"
	}
	return obsmetrics.ResultFailure
}

func isExpected(err error) bool {
	return errors.Is(err, devicedomain.ErrNotFound) ||
		errors.Is(err, devicedomain.ErrInvalidTransition) ||
		errors.Is(err, devicedomain.ErrCapacityExceeded)
}

func parseID(id string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return 0, devicedomain.ErrInvalidID
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
