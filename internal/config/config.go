package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewCatalogHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	Log       LogConfig
	Telemetry TelemetryConfig

	Webhook   WebhookConfig
	GA4       GA4Config
	Meta      MetaConfig
	Dispatch  DispatchConfig
	RateLimit RateLimitConfig
}

type LogConfig struct {
	Level  string
	Format string
}

// TelemetryConfig drives the OTLP trace and metric exporters.
type TelemetryConfig struct {
	Enabled       bool
	Endpoint      string
	Protocol      string
	SamplingRatio float64
}

type WebhookConfig struct {
	Secret       string
	MaxBodyBytes int64
}

type GA4Config struct {
	MeasurementID string
	APISecret     string
	Endpoint      string
}

// Enabled reports whether both halves of the credential pair are present.
func (c GA4Config) Enabled() bool {
	return c.MeasurementID != "" && c.APISecret != ""
}

type MetaConfig struct {
	PixelID     string
	AccessToken string
	Endpoint    string
	APIVersion  string
}

func (c MetaConfig) Enabled() bool {
	return c.PixelID != "" && c.AccessToken != ""
}

type DispatchConfig struct {
	SendTimeout time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	WebhookRate   float64
	WebhookBurst  int
}

const (
	defaultGA4Endpoint    = "https://www.google-analytics.com"
	defaultMetaEndpoint   = "https://graph.facebook.com"
	defaultMetaAPIVersion = "v18.0"
	defaultMaxBodyBytes   = 1 << 20
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "attribution"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		Log: LogConfig{
			Level:  strings.ToLower(getenv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getenv("LOG_FORMAT", "json")),
		},
		Telemetry: TelemetryConfig{
			Enabled:       getenvBool("OTEL_ENABLED", true),
			Endpoint:      getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
			Protocol:      strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Webhook: WebhookConfig{
			Secret:       strings.TrimSpace(os.Getenv("LEMON_SQUEEZY_WEBHOOK_SECRET")),
			MaxBodyBytes: getenvInt64("WEBHOOK_MAX_BODY_BYTES", defaultMaxBodyBytes),
		},
		GA4: GA4Config{
			MeasurementID: strings.TrimSpace(os.Getenv("GA4_MEASUREMENT_ID")),
			APISecret:     strings.TrimSpace(os.Getenv("GA4_API_SECRET")),
			Endpoint:      strings.TrimRight(getenv("GA4_ENDPOINT", defaultGA4Endpoint), "/"),
		},
		Meta: MetaConfig{
			PixelID:     strings.TrimSpace(os.Getenv("META_PIXEL_ID")),
			AccessToken: strings.TrimSpace(os.Getenv("META_ACCESS_TOKEN")),
			Endpoint:    strings.TrimRight(getenv("META_ENDPOINT", defaultMetaEndpoint), "/"),
			APIVersion:  getenv("META_API_VERSION", defaultMetaAPIVersion),
		},
		Dispatch: DispatchConfig{
			SendTimeout: getenvDuration("DISPATCH_SEND_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
			WebhookRate:   getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 5),
			WebhookBurst:  int(getenvInt64("RATE_LIMIT_WEBHOOK_BURST", 20)),
		},
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
