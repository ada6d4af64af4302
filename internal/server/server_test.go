package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	alertdomain "github.com/Pasandul2/ZORO9X-sub000/internal/alert/domain"
	"github.com/Pasandul2/ZORO9X-sub000/internal/clock"
	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
	devicedomain "github.com/Pasandul2/ZORO9X-sub000/internal/device/domain"
	"github.com/Pasandul2/ZORO9X-sub000/internal/observability"
	subscriptiondomain "github.com/Pasandul2/ZORO9X-sub000/internal/subscription/domain"
	usagedomain "github.com/Pasandul2/ZORO9X-sub000/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type fakeAlertService struct {
	alertdomain.Service
	listReq    alertdomain.ListRequest
	resolveReq alertdomain.ResolveRequest
	getErr     error
}

func (f *fakeAlertService) List(ctx context.Context, req alertdomain.ListRequest) ([]alertdomain.Alert, error) {
	f.listReq = req
	return nil, nil
}

func (f *fakeAlertService) Get(ctx context.Context, id string) (*alertdomain.Alert, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &alertdomain.Alert{ID: snowflake.ID(7)}, nil
}

func (f *fakeAlertService) Resolve(ctx context.Context, req alertdomain.ResolveRequest) (*alertdomain.Alert, error) {
	f.resolveReq = req
	return &alertdomain.Alert{ID: snowflake.ID(7), Status: alertdomain.StatusResolved}, nil
}

type fakeDeviceService struct {
	devicedomain.Service
	approveErr  error
	activateErr error
	validateErr error
	rejectReq   devicedomain.ReviewRequest
	activation  devicedomain.ActivationRequest
}

func (f *fakeDeviceService) ApproveDevice(ctx context.Context, req devicedomain.ReviewRequest) (*devicedomain.Device, error) {
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	return &devicedomain.Device{ID: snowflake.ID(9), Status: devicedomain.StatusActive}, nil
}

func (f *fakeDeviceService) RejectDevice(ctx context.Context, req devicedomain.ReviewRequest) (*devicedomain.Device, error) {
	f.rejectReq = req
	if req.Reason == "" {
		return nil, devicedomain.ErrReasonRequired
	}
	return &devicedomain.Device{ID: snowflake.ID(9), Status: devicedomain.StatusRejected}, nil
}

func (f *fakeDeviceService) RequestActivation(ctx context.Context, req devicedomain.ActivationRequest) (*devicedomain.ActivationResult, error) {
	f.activation = req
	if f.activateErr != nil {
		return nil, f.activateErr
	}
	return &devicedomain.ActivationResult{
		Device:  &devicedomain.Device{ID: snowflake.ID(9), Status: devicedomain.StatusPending},
		Created: true,
	}, nil
}

func (f *fakeDeviceService) ValidateDevice(ctx context.Context, req devicedomain.ValidateRequest) (*devicedomain.ValidateResult, error) {
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	return &devicedomain.ValidateResult{
		Subscription: &subscriptiondomain.Subscription{ID: 3, ClientID: 1, SystemID: 2, Status: subscriptiondomain.StatusActive},
		Device:       &devicedomain.Device{ID: snowflake.ID(9), Status: devicedomain.StatusActive},
	}, nil
}

type fakeUsageService struct {
	usagedomain.Service
	recorded []usagedomain.RecordRequest
	costReq  usagedomain.CostRequest
}

func (f *fakeUsageService) CalculateUsageCost(ctx context.Context, req usagedomain.CostRequest) (usagedomain.CostBreakdown, error) {
	f.costReq = req
	return usagedomain.CostBreakdown{}, nil
}

func (f *fakeUsageService) RecordUsage(ctx context.Context, req usagedomain.RecordRequest) (*usagedomain.UsageRecord, error) {
	f.recorded = append(f.recorded, req)
	return &usagedomain.UsageRecord{}, nil
}

func (f *fakeUsageService) SetUsageLimit(ctx context.Context, req usagedomain.SetLimitRequest) (*usagedomain.UsageLimit, error) {
	if !req.ResetPeriod.Valid() {
		return nil, usagedomain.ErrInvalidResetPeriod
	}
	return &usagedomain.UsageLimit{Metric: req.Metric, ResetPeriod: req.ResetPeriod}, nil
}

type testServer struct {
	srv     *Server
	alerts  *fakeAlertService
	devices *fakeDeviceService
	usage   *fakeUsageService
	clock   *clock.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := config.Config{Auth: config.AuthConfig{AdminJWTSecret: testSecret, AdminRole: "admin"}}
	ts := &testServer{
		alerts:  &fakeAlertService{},
		devices: &fakeDeviceService{},
		usage:   &fakeUsageService{},
		clock:   clock.NewFakeClock(time.Date(2026, 3, 17, 15, 30, 0, 0, time.UTC)),
	}
	ts.srv = NewServer(ServerParams{
		Gin:       NewEngine(observability.Config{}, zap.NewNop()),
		Cfg:       cfg,
		Log:       zap.NewNop(),
		Clock:     ts.clock,
		AlertSvc:  ts.alerts,
		DeviceSvc: ts.devices,
		UsageSvc:  ts.usage,
	})
	return ts
}

func signToken(t *testing.T, role string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@zoro9x.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestAdminRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/saas/admin/security/alerts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/saas/admin/security/alerts", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/saas/admin/security/alerts", signToken(t, "admin", -time.Minute), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/saas/admin/security/alerts", signToken(t, "client", time.Hour), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/saas/admin/security/alerts", signToken(t, "admin", time.Hour), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListSecurityAlertsPassesFilters(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/saas/admin/security/alerts?status=pending&severity=high&alert_type=concurrent_use&limit=5",
		signToken(t, "admin", time.Hour), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"alerts":[]}`, rec.Body.String())
	assert.Equal(t, alertdomain.ListRequest{
		Status:    "pending",
		Severity:  "high",
		AlertType: "concurrent_use",
		Limit:     5,
	}, ts.alerts.listReq)
}

func TestGetSecurityAlertNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.alerts.getErr = alertdomain.ErrNotFound

	rec := ts.do(t, http.MethodGet, "/api/saas/admin/security/alerts/42", signToken(t, "admin", time.Hour), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestResolveSecurityAlertUsesTokenSubject(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/saas/admin/security/alerts/7/resolve", signToken(t, "admin", time.Hour),
		map[string]string{"action_taken": "suspended", "resolution_notes": "shared key"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alertdomain.ResolveRequest{
		ID:              "7",
		ActionTaken:     "suspended",
		ResolutionNotes: "shared key",
		ReviewedBy:      "ops@zoro9x.com",
	}, ts.alerts.resolveReq)
}

func TestApproveDeviceAtCapacityConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.devices.approveErr = &devicedomain.CapacityError{Active: 2, MaxActivations: 2}

	rec := ts.do(t, http.MethodPost, "/api/saas/admin/security/devices/9/approve", signToken(t, "admin", time.Hour), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "capacity_exceeded", payload.Type)
	assert.Contains(t, payload.Message, "2 of 2")
}

func TestApproveDeviceInvalidTransitionConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.devices.approveErr = devicedomain.ErrInvalidTransition

	rec := ts.do(t, http.MethodPost, "/api/saas/admin/security/devices/9/approve", signToken(t, "admin", time.Hour), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRejectDeviceRequiresReason(t *testing.T) {
	ts := newTestServer(t)
	token := signToken(t, "admin", time.Hour)

	rec := ts.do(t, http.MethodPost, "/api/saas/admin/security/devices/9/reject", token, map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "reason", payload.Errors[0].Field)

	rec = ts.do(t, http.MethodPost, "/api/saas/admin/security/devices/9/reject", token, map[string]string{"reason": "unknown hardware"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unknown hardware", ts.devices.rejectReq.Reason)
	assert.Equal(t, "ops@zoro9x.com", ts.devices.rejectReq.ReviewedBy)
}

func TestActivateDeviceIgnoresPrivilegedFields(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/saas/devices/activate", "", map[string]any{
		"api_key":            "key-1",
		"device_fingerprint": "fp-1",
		"device_name":        "Front desk",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "key-1", ts.devices.activation.APIKey)
	assert.False(t, ts.devices.activation.AutoApprove)
	assert.NotEmpty(t, ts.devices.activation.IPAddress)
}

func TestActivateDeviceRateLimited(t *testing.T) {
	ts := newTestServer(t)
	ts.devices.activateErr = &devicedomain.RateLimitError{RetryAfter: 1500 * time.Millisecond}

	rec := ts.do(t, http.MethodPost, "/api/saas/devices/activate", "", map[string]any{
		"api_key":            "key-1",
		"device_fingerprint": "fp-1",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestValidateDeviceTracksAPICalls(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/saas/validate", "", map[string]string{
		"api_key":            "key-1",
		"device_fingerprint": "fp-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, ts.usage.recorded, 1)
	got := ts.usage.recorded[0]
	assert.Equal(t, usagedomain.MetricAPICalls, got.Metric)
	assert.Equal(t, snowflake.ID(1), got.ClientID)
	assert.Equal(t, snowflake.ID(2), got.SystemID)
	assert.Equal(t, "1", got.Quantity.String())
}

func TestValidateDeviceFailureIsNotTracked(t *testing.T) {
	ts := newTestServer(t)
	ts.devices.validateErr = devicedomain.ErrDeviceNotActive

	rec := ts.do(t, http.MethodPost, "/api/saas/validate", "", map[string]string{
		"api_key":            "key-1",
		"device_fingerprint": "fp-1",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, ts.usage.recorded)

	ts.devices.validateErr = subscriptiondomain.ErrInvalidAPIKey
	rec = ts.do(t, http.MethodPost, "/api/saas/validate", "", map[string]string{"api_key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetUsageLimitValidation(t *testing.T) {
	ts := newTestServer(t)
	token := signToken(t, "admin", time.Hour)

	rec := ts.do(t, http.MethodPut, "/api/saas/admin/usage/limits", token, map[string]any{
		"client_id":    "1",
		"system_id":    "2",
		"metric":       "api_calls",
		"limit_value":  1000,
		"reset_period": "hourly",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "invalid_reset_period", payload.Errors[0].Code)
	assert.Equal(t, "reset_period", payload.Errors[0].Field)

	rec = ts.do(t, http.MethodPut, "/api/saas/admin/usage/limits", token, map[string]any{
		"client_id":   "abc",
		"system_id":   "2",
		"metric":      "api_calls",
		"limit_value": 1000,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/saas/admin/usage/limits", token, map[string]any{
		"client_id":    "1",
		"system_id":    "2",
		"metric":       "api_calls",
		"limit_value":  1000,
		"reset_period": "monthly",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetUsageCostDefaultsToCurrentMonth(t *testing.T) {
	ts := newTestServer(t)
	token := signToken(t, "admin", time.Hour)

	rec := ts.do(t, http.MethodGet, "/api/saas/admin/usage/11/22/cost", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, snowflake.ID(11), ts.usage.costReq.ClientID)
	assert.Equal(t, snowflake.ID(22), ts.usage.costReq.SystemID)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), ts.usage.costReq.Start)
	assert.Equal(t, ts.clock.Now(), ts.usage.costReq.End)

	rec = ts.do(t, http.MethodGet, "/api/saas/admin/usage/11/22/cost?start_date=2026-02-01&end_date=2026-02-28", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), ts.usage.costReq.Start)
	assert.Equal(t, 28, ts.usage.costReq.End.Day())

	rec = ts.do(t, http.MethodGet, "/api/saas/admin/usage/11/22/cost?start_date=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
