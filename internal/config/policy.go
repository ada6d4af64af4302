package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Policy is the anti-abuse and metering policy. Every default the engines rely
// on lives in DefaultPolicy.
type Policy struct {
	// ApproachingPercent is the percent-used level at which an "approaching"
	// usage notification is sent.
	ApproachingPercent float64 `mapstructure:"approachingPercent"`
	// ConcurrencyWindow is the trailing window in which traffic from a
	// different IP counts as concurrent use.
	ConcurrencyWindow        time.Duration `mapstructure:"concurrencyWindow"`
	RapidActivationWindow    time.Duration `mapstructure:"rapidActivationWindow"`
	RapidActivationThreshold int           `mapstructure:"rapidActivationThreshold"`
	AutoApproveFirstDevice   bool          `mapstructure:"autoApproveFirstDevice"`
	// AlertRecipients receive every raised security alert. Empty disables
	// alert email.
	AlertRecipients          []string      `mapstructure:"alertRecipients"`
	ResetInterval            time.Duration `mapstructure:"resetInterval"`
	ActivationRatePerSecond  float64       `mapstructure:"activationRatePerSecond"`
	ActivationBurst          int           `mapstructure:"activationBurst"`
}

func DefaultPolicy() Policy {
	return Policy{
		ApproachingPercent:       80,
		ConcurrencyWindow:        time.Hour,
		RapidActivationWindow:    10 * time.Minute,
		RapidActivationThreshold: 3,
		AutoApproveFirstDevice:   true,
		ResetInterval:            time.Hour,
		ActivationRatePerSecond:  0.2,
		ActivationBurst:          5,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyHolder(log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	v.SetConfigName("policy")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/saasguard")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SAASGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setPolicyDefaults(v, DefaultPolicy())

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	p, err := unmarshalPolicy(v)
	if err != nil {
		return nil, err
	}
	if err := ValidatePolicy(p); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(p)
	if !fileLoaded {
		log.Info("policy file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalPolicy(v)
		if err != nil {
			log.Warn("policy reload failed", zap.Error(err))
			return
		}
		if err := ValidatePolicy(updated); err != nil {
			log.Warn("invalid policy ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() Policy {
	return h.current.Load().(Policy)
}

func ValidatePolicy(p Policy) error {
	if p.ApproachingPercent <= 0 || p.ApproachingPercent > 100 {
		return errors.New("policy.approachingPercent must be in (0, 100]")
	}
	if p.ConcurrencyWindow <= 0 {
		return errors.New("policy.concurrencyWindow must be positive")
	}
	if p.RapidActivationWindow <= 0 {
		return errors.New("policy.rapidActivationWindow must be positive")
	}
	if p.RapidActivationThreshold < 2 {
		return errors.New("policy.rapidActivationThreshold must be at least 2")
	}
	if p.ResetInterval <= 0 {
		return errors.New("policy.resetInterval must be positive")
	}
	if p.ActivationRatePerSecond < 0 || p.ActivationBurst < 0 {
		return errors.New("policy activation rate limit cannot be negative")
	}
	return nil
}

// unmarshalPolicy decodes through AllSettings so keys missing from the file
// still pick up their defaults.
func unmarshalPolicy(v *viper.Viper) (Policy, error) {
	var wrapper struct {
		Policy Policy `mapstructure:"policy"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return Policy{}, err
	}
	return wrapper.Policy, nil
}

func setPolicyDefaults(v *viper.Viper, p Policy) {
	v.SetDefault("policy.approachingPercent", p.ApproachingPercent)
	v.SetDefault("policy.concurrencyWindow", p.ConcurrencyWindow)
	v.SetDefault("policy.rapidActivationWindow", p.RapidActivationWindow)
	v.SetDefault("policy.rapidActivationThreshold", p.RapidActivationThreshold)
	v.SetDefault("policy.autoApproveFirstDevice", p.AutoApproveFirstDevice)
	v.SetDefault("policy.alertRecipients", p.AlertRecipients)
	v.SetDefault("policy.resetInterval", p.ResetInterval)
	v.SetDefault("policy.activationRatePerSecond", p.ActivationRatePerSecond)
	v.SetDefault("policy.activationBurst", p.ActivationBurst)
}
