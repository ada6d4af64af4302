package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignSeverity(t *testing.T) {
	cases := []struct {
		name    string
		details Details
		want    Severity
	}{
		{name: "device limit overflow one", details: NewDeviceLimitDetails(2, 1, 2, ""), want: SeverityMedium},
		{name: "device limit overflow floor", details: NewDeviceLimitDetails(1, 0, 2, ""), want: SeverityMedium},
		{name: "device limit overflow three", details: NewDeviceLimitDetails(2, 3, 2, ""), want: SeverityHigh},
		{name: "concurrent use default", details: ConcurrentUseDetails{PreviousIP: "1.1.1.1", CurrentIP: "2.2.2.2"}, want: SeverityHigh},
		{name: "concurrent use one country unknown", details: ConcurrentUseDetails{PreviousIP: "1.1.1.1", CurrentIP: "2.2.2.2", PreviousCountry: "LK"}, want: SeverityHigh},
		{name: "concurrent use same country", details: ConcurrentUseDetails{PreviousIP: "1.1.1.1", CurrentIP: "2.2.2.2", PreviousCountry: "LK", CurrentCountry: "lk"}, want: SeverityHigh},
		{name: "concurrent use across countries", details: ConcurrentUseDetails{PreviousIP: "1.1.1.1", CurrentIP: "2.2.2.2", PreviousCountry: "LK", CurrentCountry: "DE"}, want: SeverityCritical},
		{name: "suspicious location", details: SuspiciousLocationDetails{PreviousCountry: "LK", CurrentCountry: "DE"}, want: SeverityMedium},
		{name: "rapid activations", details: RapidActivationDetails{Requests: 3, Threshold: 3, WindowSeconds: 600}, want: SeverityMedium},
		{name: "nil", details: nil, want: SeverityLow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AssignSeverity(tc.details))
		})
	}
}

func TestDetectConcurrentUse(t *testing.T) {
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	window := time.Hour

	cases := []struct {
		name string
		obs  TrafficObservation
		want bool
	}{
		{
			name: "different ip inside window",
			obs:  TrafficObservation{NewIP: "2.2.2.2", At: base, LastKnownIP: "1.1.1.1", LastSeenAt: base.Add(-10 * time.Minute)},
			want: true,
		},
		{
			name: "same ip",
			obs:  TrafficObservation{NewIP: "1.1.1.1", At: base, LastKnownIP: "1.1.1.1", LastSeenAt: base.Add(-time.Minute)},
			want: false,
		},
		{
			name: "exactly at window is not concurrent",
			obs:  TrafficObservation{NewIP: "2.2.2.2", At: base, LastKnownIP: "1.1.1.1", LastSeenAt: base.Add(-window)},
			want: false,
		},
		{
			name: "no previous traffic",
			obs:  TrafficObservation{NewIP: "2.2.2.2", At: base},
			want: false,
		},
		{
			name: "clock skew counts as immediate",
			obs:  TrafficObservation{NewIP: "2.2.2.2", At: base, LastKnownIP: "1.1.1.1", LastSeenAt: base.Add(time.Minute)},
			want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectConcurrentUse(tc.obs, window))
		})
	}
}

func TestDetailsRoundTripKeepsVariant(t *testing.T) {
	in := NewDeviceLimitDetails(2, 1, 2, "Front Desk")
	raw, err := EncodeDetails(in)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"kind":"device_limit_exceeded"`)

	out, err := DecodeDetails(AlertTypeDeviceLimitExceeded, raw)
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = DecodeDetails(AlertTypeConcurrentUse, raw)
	require.ErrorIs(t, err, ErrInvalidDetails)
}

func TestDetailsValidation(t *testing.T) {
	_, err := EncodeDetails(ConcurrentUseDetails{PreviousIP: "1.1.1.1", CurrentIP: "1.1.1.1"})
	require.ErrorIs(t, err, ErrInvalidDetails)

	_, err = EncodeDetails(RapidActivationDetails{Requests: 1, Threshold: 3, WindowSeconds: 60})
	require.ErrorIs(t, err, ErrInvalidDetails)

	_, err = EncodeDetails(nil)
	require.ErrorIs(t, err, ErrInvalidDetails)

	_, err = DecodeDetails(AlertTypeRapidActivations, []byte(`{"kind":"rapid_activations","requests":"many"}`))
	require.ErrorIs(t, err, ErrInvalidDetails)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusReviewed))
	assert.True(t, StatusPending.CanTransitionTo(StatusResolved))
	assert.True(t, StatusReviewed.CanTransitionTo(StatusIgnored))
	assert.False(t, StatusReviewed.CanTransitionTo(StatusPending))
	assert.False(t, StatusResolved.CanTransitionTo(StatusIgnored))
	assert.False(t, StatusIgnored.CanTransitionTo(StatusResolved))
}
