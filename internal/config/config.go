package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Telemetry  TelemetryConfig
	Settlement SettlementConfig
	Credit     CreditConfig
	Email      EmailConfig
	Scheduler  SchedulerConfig
	RateLimit  RateLimitConfig

	Providers map[string]ProviderConfig
}

// TelemetryConfig feeds logging, tracing and metrics. The OTEL_* names follow the
// OpenTelemetry exporter conventions.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelEndpoint  string
	OtelProtocol  string
	SamplingRatio float64
}

// SettlementConfig controls checkout and reconciliation behavior.
type SettlementConfig struct {
	OrderTTL       time.Duration
	FallbackWindow time.Duration
	NetworkTimeout time.Duration
	PublicBaseURL  string
}

// CreditConfig controls the credit ledger.
type CreditConfig struct {
	ReservationTTL time.Duration
	LockTTL        time.Duration
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	BatchSize   int
	EnabledJobs []string
}

// RateLimitConfig throttles credit reservations per organization. It needs Redis.
type RateLimitConfig struct {
	Enabled          bool
	ReservationRate  float64
	ReservationBurst int
}

// ProviderConfig is the raw per-network configuration handed to adapter factories.
type ProviderConfig struct {
	Enabled bool
	Values  map[string]any
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")

	cfg := Config{
		AppName:           getenv("APP_SERVICE", "settlement"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       environment,
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "settlement"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "settlement.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		RedisAddr:         strings.TrimSpace(getenv("REDIS_ADDR", "")),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", true),
			OtelEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol:  otlpProtocol(),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		Settlement: SettlementConfig{
			OrderTTL:       getenvDuration("SETTLEMENT_ORDER_TTL", 30*time.Minute),
			FallbackWindow: getenvDuration("SETTLEMENT_FALLBACK_WINDOW", 30*time.Minute),
			NetworkTimeout: getenvDuration("SETTLEMENT_NETWORK_TIMEOUT", 15*time.Second),
			PublicBaseURL:  strings.TrimRight(getenv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		},
		Credit: CreditConfig{
			ReservationTTL: getenvDuration("CREDIT_RESERVATION_TTL", 15*time.Minute),
			LockTTL:        getenvDuration("CREDIT_LOCK_TTL", 10*time.Second),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     int(getenvInt64("SMTP_PORT", 587)),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "billing@localhost"),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			BatchSize:   int(getenvInt64("SCHEDULER_BATCH_SIZE", 100)),
			EnabledJobs: parseList(getenv("SCHEDULER_JOBS", "")),
		},
		RateLimit: RateLimitConfig{
			Enabled:          getenvBool("RATE_LIMIT_ENABLED", false),
			ReservationRate:  getenvFloat("RATE_LIMIT_RESERVATION_RATE", 20),
			ReservationBurst: int(getenvInt64("RATE_LIMIT_RESERVATION_BURST", 40)),
		},
		Providers: loadProviders(),
	}

	return cfg
}

func loadProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"stripe": {
			Enabled: getenvBool("STRIPE_ENABLED", false),
			Values: map[string]any{
				"secret_key":     getenv("STRIPE_SECRET_KEY", ""),
				"webhook_secret": getenv("STRIPE_WEBHOOK_SECRET", ""),
				"base_url":       getenv("STRIPE_BASE_URL", "https://api.stripe.com"),
			},
		},
		"adyen": {
			Enabled: getenvBool("ADYEN_ENABLED", false),
			Values: map[string]any{
				"api_key":          getenv("ADYEN_API_KEY", ""),
				"merchant_account": getenv("ADYEN_MERCHANT_ACCOUNT", ""),
				"hmac_key":         getenv("ADYEN_HMAC_KEY", ""),
				"base_url":         getenv("ADYEN_BASE_URL", "https://checkout-test.adyen.com/v71"),
			},
		},
		"webpay": {
			Enabled: getenvBool("WEBPAY_ENABLED", false),
			Values: map[string]any{
				"commerce_code": getenv("WEBPAY_COMMERCE_CODE", ""),
				"api_key":       getenv("WEBPAY_API_KEY", ""),
				"base_url":      getenv("WEBPAY_BASE_URL", "https://webpay3gint.transbank.cl"),
			},
		},
		"mercadopago": {
			Enabled: getenvBool("MERCADOPAGO_ENABLED", false),
			Values: map[string]any{
				"access_token":   getenv("MERCADOPAGO_ACCESS_TOKEN", ""),
				"webhook_secret": getenv("MERCADOPAGO_WEBHOOK_SECRET", ""),
				"base_url":       getenv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"),
			},
		},
	}
}

func otlpProtocol() string {
	protocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}
	return strings.ToLower(strings.TrimSpace(protocol))
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
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

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
