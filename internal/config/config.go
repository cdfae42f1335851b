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
	Port        string
	Environment string

	AdminAPIToken string

	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	// Outbox dispatch knobs, read once at startup.
	OutboxPollInterval    time.Duration
	OutboxCleanupInterval time.Duration
	OutboxMaxRetries      int
	OutboxBatchSize       int
	OutboxRetentionDays   int
	OutboxShutdownGrace   time.Duration

	// Event transport. "memory" keeps events in-process; "kafka" ships
	// them to the configured brokers.
	EventBusDriver string
	KafkaBrokers   []string
	KafkaTopic     string

	PublishRateLimitRPM   int
	PublishRateLimitBurst int
	PublishBreakerEnabled bool
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "ledgerline-cloud"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Port:        getenv("PORT", "8080"),
		Environment: getenv("ENVIRONMENT", "development"),

		AdminAPIToken: strings.TrimSpace(getenv("ADMIN_API_TOKEN", "")),

		DBHost:            getenv("DB_HOST", "localhost"),
		DBPort:            getenv("DB_PORT", "5432"),
		DBName:            getenv("DB_NAME", "ledgerline"),
		DBUser:            getenv("DB_USER", "postgres"),
		DBPassword:        getenv("DB_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DB_SSL_MODE", "disable"),
		DBMaxIdleConn:     getenvInt("DB_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DB_MAX_OPEN_CONN", 100),
		DBConnMaxLifetime: getenvInt("DB_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DB_CONN_MAX_IDLE_TIME", 60),

		OutboxPollInterval:    getenvDurationMS("OUTBOX_POLL_INTERVAL_MS", 5000),
		OutboxCleanupInterval: getenvDurationMS("OUTBOX_CLEANUP_INTERVAL_MS", 3600000),
		OutboxMaxRetries:      getenvInt("OUTBOX_MAX_RETRIES", 3),
		OutboxBatchSize:       getenvInt("OUTBOX_BATCH_SIZE", 50),
		OutboxRetentionDays:   getenvInt("OUTBOX_RETENTION_DAYS", 30),
		OutboxShutdownGrace:   getenvDurationMS("OUTBOX_SHUTDOWN_GRACE_MS", 2000),

		EventBusDriver: getenv("EVENT_BUS_DRIVER", "memory"),
		KafkaBrokers:   splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:     getenv("KAFKA_TOPIC", "ledgerline.domain-events"),

		PublishRateLimitRPM:   getenvInt("PUBLISH_RATE_LIMIT_RPM", 0),
		PublishRateLimitBurst: getenvInt("PUBLISH_RATE_LIMIT_BURST", 10),
		PublishBreakerEnabled: getenvBool("PUBLISH_BREAKER_ENABLED", false),
	}

	return &cfg
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

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDurationMS(key string, defMS int) time.Duration {
	return time.Duration(getenvInt(key, defMS)) * time.Millisecond
}

func splitList(raw string) []string {
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
