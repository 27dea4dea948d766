package observability

import (
	"strings"

	"github.com/smallbiznis/attribution/internal/config"
)

// Config is the telemetry view of the service configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "attribution"
	}
	logLevel := strings.TrimSpace(cfg.Log.Level)
	if logLevel == "" {
		logLevel = "info"
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             logLevel,
		LogFormat:            strings.TrimSpace(cfg.Log.Format),
		OtelEnabled:          cfg.Telemetry.Enabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.Telemetry.Endpoint),
		OtelExporterProtocol: strings.TrimSpace(cfg.Telemetry.Protocol),
		OtelSamplingRatio:    cfg.Telemetry.SamplingRatio,
	}
}

// Debug enables verbose logs, gin debug mode and stack traces on errors.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
