package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TrafficObservation is one request from an activated device compared with
// the most recent traffic seen for the same subscription.
type TrafficObservation struct {
	SubscriptionID snowflake.ID
	NewIP          string
	At             time.Time
	LastKnownIP    string
	LastSeenAt     time.Time
}

// Elapsed is the time since the last known traffic, floored at zero so clock
// skew between replicas never produces a negative gap.
func (o TrafficObservation) Elapsed() time.Duration {
	elapsed := o.At.Sub(o.LastSeenAt)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// DetectConcurrentUse is true iff the address changed and the previous
// traffic is younger than window.
func DetectConcurrentUse(o TrafficObservation, window time.Duration) bool {
	if o.LastKnownIP == "" || o.NewIP == "" || o.LastSeenAt.IsZero() {
		return false
	}
	if o.NewIP == o.LastKnownIP {
		return false
	}
	return o.Elapsed() < window
}

// ConcurrentUseEvidence builds the alert payload for o.
func ConcurrentUseEvidence(o TrafficObservation, previousCountry, currentCountry string) ConcurrentUseDetails {
	return ConcurrentUseDetails{
		PreviousIP:      o.LastKnownIP,
		CurrentIP:       o.NewIP,
		LastSeenAt:      o.LastSeenAt.UTC(),
		ObservedAt:      o.At.UTC(),
		ElapsedSeconds:  int64(o.Elapsed() / time.Second),
		PreviousCountry: previousCountry,
		CurrentCountry:  currentCountry,
	}
}

// GeoResolver maps an IP address to an ISO country code. Implementations
// return "" when the address is unknown.
type GeoResolver interface {
	Country(ctx context.Context, ip string) (string, error)
}
