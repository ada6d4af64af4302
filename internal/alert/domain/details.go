package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Details is the typed payload stored in security_alerts.details. Each alert
// type has exactly one variant; the stored JSON carries a "kind" tag so rows
// are checked against their alert_type when read back.
type Details interface {
	Kind() AlertType
	Validate() error
	Summary() string
}

type ConcurrentUseDetails struct {
	PreviousIP      string    `json:"previous_ip"`
	CurrentIP       string    `json:"current_ip"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	ObservedAt      time.Time `json:"observed_at"`
	ElapsedSeconds  int64     `json:"elapsed_seconds"`
	PreviousCountry string    `json:"previous_country,omitempty"`
	CurrentCountry  string    `json:"current_country,omitempty"`
}

func (ConcurrentUseDetails) Kind() AlertType { return AlertTypeConcurrentUse }

func (d ConcurrentUseDetails) Validate() error {
	if strings.TrimSpace(d.PreviousIP) == "" || strings.TrimSpace(d.CurrentIP) == "" {
		return fmt.Errorf("%w: concurrent_use requires both addresses", ErrInvalidDetails)
	}
	if d.PreviousIP == d.CurrentIP {
		return fmt.Errorf("%w: concurrent_use addresses must differ", ErrInvalidDetails)
	}
	if d.ElapsedSeconds < 0 {
		return fmt.Errorf("%w: negative elapsed time", ErrInvalidDetails)
	}
	return nil
}

func (d ConcurrentUseDetails) Summary() string {
	return fmt.Sprintf("Traffic from %s within %ds of %s", d.CurrentIP, d.ElapsedSeconds, d.PreviousIP)
}

// CountriesDiffer is true only when both countries are known and differ.
func (d ConcurrentUseDetails) CountriesDiffer() bool {
	return d.PreviousCountry != "" && d.CurrentCountry != "" && !strings.EqualFold(d.PreviousCountry, d.CurrentCountry)
}

type DeviceLimitDetails struct {
	ActiveCount    int    `json:"active_count"`
	PendingCount   int    `json:"pending_count"`
	MaxActivations int    `json:"max_activations"`
	Overflow       int    `json:"overflow"`
	DeviceName     string `json:"device_name,omitempty"`
}

func (DeviceLimitDetails) Kind() AlertType { return AlertTypeDeviceLimitExceeded }

func (d DeviceLimitDetails) Validate() error {
	if d.MaxActivations < 0 || d.ActiveCount < 0 || d.PendingCount < 0 {
		return fmt.Errorf("%w: negative device counts", ErrInvalidDetails)
	}
	if d.Overflow < 1 {
		return fmt.Errorf("%w: overflow must be at least 1", ErrInvalidDetails)
	}
	return nil
}

func (d DeviceLimitDetails) Summary() string {
	return fmt.Sprintf("Device limit reached: %d active of %d allowed, %d waiting", d.ActiveCount, d.MaxActivations, d.PendingCount)
}

// NewDeviceLimitDetails derives the overflow as devices wanting a seat beyond
// the cap, never less than one.
func NewDeviceLimitDetails(active, pending, maxActivations int, deviceName string) DeviceLimitDetails {
	overflow := active + pending - maxActivations
	if overflow < 1 {
		overflow = 1
	}
	return DeviceLimitDetails{
		ActiveCount:    active,
		PendingCount:   pending,
		MaxActivations: maxActivations,
		Overflow:       overflow,
		DeviceName:     deviceName,
	}
}

type SuspiciousLocationDetails struct {
	PreviousIP      string `json:"previous_ip"`
	CurrentIP       string `json:"current_ip"`
	PreviousCountry string `json:"previous_country"`
	CurrentCountry  string `json:"current_country"`
}

func (SuspiciousLocationDetails) Kind() AlertType { return AlertTypeSuspiciousLocation }

func (d SuspiciousLocationDetails) Validate() error {
	if d.PreviousCountry == "" || d.CurrentCountry == "" {
		return fmt.Errorf("%w: suspicious_location requires both countries", ErrInvalidDetails)
	}
	if strings.EqualFold(d.PreviousCountry, d.CurrentCountry) {
		return fmt.Errorf("%w: suspicious_location countries must differ", ErrInvalidDetails)
	}
	return nil
}

func (d SuspiciousLocationDetails) Summary() string {
	return fmt.Sprintf("Device moved from %s (%s) to %s (%s)", d.PreviousCountry, d.PreviousIP, d.CurrentCountry, d.CurrentIP)
}

type RapidActivationDetails struct {
	Requests      int    `json:"requests"`
	Threshold     int    `json:"threshold"`
	WindowSeconds int64  `json:"window_seconds"`
	DeviceName    string `json:"device_name,omitempty"`
}

func (RapidActivationDetails) Kind() AlertType { return AlertTypeRapidActivations }

func (d RapidActivationDetails) Validate() error {
	if d.Threshold < 1 || d.WindowSeconds <= 0 {
		return fmt.Errorf("%w: rapid_activations needs a positive threshold and window", ErrInvalidDetails)
	}
	if d.Requests < d.Threshold {
		return fmt.Errorf("%w: %d requests is below threshold %d", ErrInvalidDetails, d.Requests, d.Threshold)
	}
	return nil
}

func (d RapidActivationDetails) Summary() string {
	return fmt.Sprintf("%d activation requests within %ds", d.Requests, d.WindowSeconds)
}

type envelope struct {
	Kind AlertType `json:"kind"`
}

// EncodeDetails validates d and returns the tagged JSON document.
func EncodeDetails(d Details) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: missing details", ErrInvalidDetails)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(d.Kind())
	fields["kind"] = kind
	return json.Marshal(fields)
}

// DecodeDetails parses a stored document for an alert of type alertType. The
// tag, when present, must agree with alertType.
func DecodeDetails(alertType AlertType, raw []byte) (Details, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty details", ErrInvalidDetails)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}
	if env.Kind != "" && env.Kind != alertType {
		return nil, fmt.Errorf("%w: tagged %s but alert is %s", ErrInvalidDetails, env.Kind, alertType)
	}

	var (
		d   Details
		err error
	)
	switch alertType {
	case AlertTypeConcurrentUse:
		var v ConcurrentUseDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertTypeDeviceLimitExceeded:
		var v DeviceLimitDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertTypeSuspiciousLocation:
		var v SuspiciousLocationDetails
		err = json.Unmarshal(raw, &v)
		d = v
	case AlertTypeRapidActivations:
		var v RapidActivationDetails
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("%w: unknown alert type %q", ErrInvalidDetails, alertType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDetails, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
