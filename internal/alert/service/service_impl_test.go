package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alertdomain "github.com/Pasandul2/ZORO9X-sub000/internal/alert/domain"
	"github.com/Pasandul2/ZORO9X-sub000/internal/alert/repository"
	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	notificationdomain "github.com/Pasandul2/ZORO9X-sub000/internal/notification/domain"
	"github.com/Pasandul2/ZORO9X-sub000/pkg/db/dbtest"
	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type notifierStub struct {
	mu    sync.Mutex
	calls []notificationdomain.Notification
	fail  bool
}

func (n *notifierStub) Notify(ctx context.Context, req notificationdomain.Notification) (notificationdomain.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, req)
	receipt := notificationdomain.Receipt{Template: req.Template, Recipients: req.To, Delivered: !n.fail}
	if n.fail {
		receipt.DeliveryError = &notificationdomain.DeliveryError{Template: req.Template, Err: errors.New("smtp down")}
	}
	return receipt, nil
}

func setupAlertService(t *testing.T, recipients ...string) (alertdomain.Service, *notifierStub, snowflake.ID) {
	t.Helper()
	conn := dbtest.Open(t)
	node := dbtest.Node(t)
	seed := dbtest.SeedSubscription(t, conn, node, dbtest.SubscriptionOptions{MaxActivations: 2})
	notifier := &notifierStub{}
	policy := config.DefaultPolicy()
	policy.AlertRecipients = recipients

	svc := NewService(ServiceParam{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)),
		Policy:   config.NewStaticPolicyHolder(policy),
		Repo:     repository.Provide(),
		Notifier: notifier,
	})
	return svc, notifier, seed.SubscriptionID
}

func raiseConcurrent(t *testing.T, svc alertdomain.Service, subID snowflake.ID) *alertdomain.Alert {
	t.Helper()
	alert, err := svc.Raise(context.Background(), alertdomain.RaiseRequest{
		SubscriptionID:    subID,
		Details:           alertdomain.ConcurrentUseDetails{PreviousIP: "10.0.0.1", CurrentIP: "10.0.0.2", ElapsedSeconds: 30},
		DeviceFingerprint: "fp-1",
		IPAddress:         "10.0.0.2",
	})
	require.NoError(t, err)
	return alert
}

func TestRaisePersistsAndNotifies(t *testing.T) {
	svc, notifier, subID := setupAlertService(t, "soc@example.com")
	notifier.fail = true

	alert := raiseConcurrent(t, svc, subID)
	require.Equal(t, alertdomain.AlertTypeConcurrentUse, alert.AlertType)
	require.Equal(t, alertdomain.SeverityHigh, alert.Severity)
	require.Equal(t, alertdomain.StatusPending, alert.Status)
	require.Len(t, notifier.calls, 1)
	require.Equal(t, notificationdomain.TemplateSecurityAlert, notifier.calls[0].Template)
	require.Equal(t, []string{"soc@example.com"}, notifier.calls[0].To)

	stored, err := svc.Get(context.Background(), alert.ID.String())
	require.NoError(t, err)
	details, ok := stored.Details.(alertdomain.ConcurrentUseDetails)
	require.True(t, ok)
	require.Equal(t, "10.0.0.2", details.CurrentIP)
	require.EqualValues(t, 30, details.ElapsedSeconds)

	open, err := svc.HasOpen(context.Background(), subID, alertdomain.AlertTypeConcurrentUse)
	require.NoError(t, err)
	require.True(t, open)
}

func TestRaiseWithoutRecipientsSkipsEmail(t *testing.T) {
	svc, notifier, subID := setupAlertService(t)

	alert := raiseConcurrent(t, svc, subID)
	require.Equal(t, alertdomain.StatusPending, alert.Status)
	require.Empty(t, notifier.calls)
}

func TestRaiseRejectsInvalidDetails(t *testing.T) {
	svc, notifier, subID := setupAlertService(t)

	_, err := svc.Raise(context.Background(), alertdomain.RaiseRequest{
		SubscriptionID: subID,
		Details:        alertdomain.DeviceLimitDetails{Overflow: 0},
	})
	require.ErrorIs(t, err, alertdomain.ErrInvalidDetails)
	require.Empty(t, notifier.calls)
}

func TestResolveIsIdempotent(t *testing.T) {
	svc, _, subID := setupAlertService(t)
	alert := raiseConcurrent(t, svc, subID)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, alertdomain.ResolveRequest{ID: alert.ID.String(), ActionTaken: "device_blocked", ResolutionNotes: "confirmed sharing", ReviewedBy: "admin-1"})
	require.NoError(t, err)
	require.Equal(t, alertdomain.StatusResolved, first.Status)
	require.Equal(t, "device_blocked", *first.ActionTaken)

	second, err := svc.Resolve(ctx, alertdomain.ResolveRequest{ID: alert.ID.String(), ActionTaken: "something_else"})
	require.NoError(t, err)
	require.Equal(t, alertdomain.StatusResolved, second.Status)
	require.Equal(t, "device_blocked", *second.ActionTaken)
	require.Equal(t, first.ReviewedAt.Unix(), second.ReviewedAt.Unix())
}

func TestResolveDefaultsActionTaken(t *testing.T) {
	svc, _, subID := setupAlertService(t)
	alert := raiseConcurrent(t, svc, subID)

	resolved, err := svc.Resolve(context.Background(), alertdomain.ResolveRequest{ID: alert.ID.String()})
	require.NoError(t, err)
	require.Equal(t, alertdomain.DefaultActionTaken, *resolved.ActionTaken)
}

func TestTransitionsOnlyMoveForward(t *testing.T) {
	svc, _, subID := setupAlertService(t)
	ctx := context.Background()

	alert := raiseConcurrent(t, svc, subID)
	reviewed, err := svc.MarkReviewed(ctx, alertdomain.ReviewRequest{ID: alert.ID.String(), ReviewedBy: "admin-1"})
	require.NoError(t, err)
	require.Equal(t, alertdomain.StatusReviewed, reviewed.Status)

	ignored, err := svc.Ignore(ctx, alertdomain.ReviewRequest{ID: alert.ID.String(), ReviewedBy: "admin-1", Notes: "known office move"})
	require.NoError(t, err)
	require.Equal(t, alertdomain.StatusIgnored, ignored.Status)

	_, err = svc.Resolve(ctx, alertdomain.ResolveRequest{ID: alert.ID.String()})
	require.ErrorIs(t, err, alertdomain.ErrInvalidTransition)

	_, err = svc.MarkReviewed(ctx, alertdomain.ReviewRequest{ID: alert.ID.String()})
	require.ErrorIs(t, err, alertdomain.ErrInvalidTransition)
}

func TestResolveUnknownAlert(t *testing.T) {
	svc, _, _ := setupAlertService(t)

	_, err := svc.Resolve(context.Background(), alertdomain.ResolveRequest{ID: "12345"})
	require.ErrorIs(t, err, alertdomain.ErrNotFound)

	_, err = svc.Resolve(context.Background(), alertdomain.ResolveRequest{ID: "not-a-number"})
	require.ErrorIs(t, err, alertdomain.ErrInvalidID)
}

func TestListFilters(t *testing.T) {
	svc, _, subID := setupAlertService(t)
	ctx := context.Background()

	concurrent := raiseConcurrent(t, svc, subID)
	_, err := svc.Raise(ctx, alertdomain.RaiseRequest{
		SubscriptionID: subID,
		Details:        alertdomain.NewDeviceLimitDetails(2, 1, 2, "Back Office"),
	})
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, alertdomain.ResolveRequest{ID: concurrent.ID.String()})
	require.NoError(t, err)

	all, err := svc.List(ctx, alertdomain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	pending, err := svc.List(ctx, alertdomain.ListRequest{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, alertdomain.AlertTypeDeviceLimitExceeded, pending[0].AlertType)
	require.Equal(t, alertdomain.SeverityMedium, pending[0].Severity)

	high, err := svc.List(ctx, alertdomain.ListRequest{Severity: "high", AlertType: "concurrent_use"})
	require.NoError(t, err)
	require.Len(t, high, 1)

	_, err = svc.List(ctx, alertdomain.ListRequest{Status: "archived"})
	require.ErrorIs(t, err, alertdomain.ErrInvalidFilter)
}
