package observability

import (
	"strings"

	"github.com/Pasandul2/ZORO9X-sub000/internal/config"
)

// Config holds observability configuration derived from the app config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "saasguard"
	}
	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             cfg.Observability.LogLevel,
		LogFormat:            cfg.Observability.LogFormat,
		OtelEnabled:          cfg.Observability.TracingEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.Observability.OTLPEndpoint),
		OtelSamplingRatio:    cfg.Observability.SamplingRatio,
	}
}

func (c Config) Debug() bool {
	return c.LogLevel == "debug"
}
