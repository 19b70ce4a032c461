package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds MQTT broker settings for the telemetry subscriber.
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // device readings topic, e.g. "soltrack/telemetry/+"
	QoS      byte
}

// LedgerConfig holds settings for the ledger node HTTP client.
type LedgerConfig struct {
	BaseURL        string
	EscrowAddress  string // neutral address funds are held at while a contract is in flight
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	RetryCount     int
}

// EscrowConfig holds lifecycle policy knobs.
type EscrowConfig struct {
	// Fixed fee added on top of the contract price at activation, in ledger units.
	// Kept as a string so it can be parsed into an exact decimal.
	FixedFee string

	// FundingRole decides which party funds the escrow at activation.
	// "buyer" or "seller"; the source behavior was contradictory across
	// revisions so this is a policy parameter. Default: buyer.
	FundingRole string

	// ReleaseOnArrival makes automatic arrival detection also release the
	// escrowed funds to the seller. When false, arrival only records
	// delivered_at and an explicit complete action moves the funds.
	ReleaseOnArrival bool
}

// Config is the full service configuration.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig
	Ledger   LedgerConfig
	Escrow   EscrowConfig

	Telemetry struct {
		CacheKeyPrefix string
		CacheTTL       time.Duration
	}

	Poller struct {
		Enabled  bool
		Interval time.Duration
	}

	HTTP struct {
		Addr string
	}

	Alerts struct {
		Stream string // Redis Stream the poller publishes excursions to
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "soltrack")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Enabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "soltrack-core")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TELEMETRY_TOPIC", "soltrack/telemetry/+")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Ledger.BaseURL = getEnv("LEDGER_BASE_URL", "http://localhost:8545")
	cfg.Ledger.EscrowAddress = getEnv("LEDGER_ESCROW_ADDRESS", "")
	cfg.Ledger.ConfirmTimeout = getEnvDuration("LEDGER_CONFIRM_TIMEOUT", 90*time.Second)
	cfg.Ledger.PollInterval = getEnvDuration("LEDGER_POLL_INTERVAL", 2*time.Second)
	cfg.Ledger.RetryCount = getEnvInt("LEDGER_RETRY_COUNT", 3)

	cfg.Escrow.FixedFee = getEnv("ESCROW_FIXED_FEE", "0.01")
	cfg.Escrow.FundingRole = getEnv("ESCROW_FUNDING_ROLE", "buyer")
	cfg.Escrow.ReleaseOnArrival = getEnv("ESCROW_RELEASE_ON_ARRIVAL", "true") == "true"

	cfg.Telemetry.CacheKeyPrefix = getEnv("TELEMETRY_CACHE_PREFIX", "soltrack:device:")
	cfg.Telemetry.CacheTTL = getEnvDuration("TELEMETRY_CACHE_TTL", 5*time.Minute)

	cfg.Poller.Enabled = getEnv("POLLER_ENABLED", "true") == "true"
	cfg.Poller.Interval = getEnvDuration("POLLER_INTERVAL", 30*time.Second)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Alerts.Stream = getEnv("ALERTS_STREAM", "escrow:alerts")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.Escrow.FundingRole != "buyer" && cfg.Escrow.FundingRole != "seller" {
		return nil, fmt.Errorf("invalid ESCROW_FUNDING_ROLE %q: must be buyer or seller", cfg.Escrow.FundingRole)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return defaultValue
}
