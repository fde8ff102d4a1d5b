// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Storage       StorageConfig
	Pricing       PricingConfig
	Simulation    SimulationConfig
	Authorization AuthorizationConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RateLimit    int
	RateWindow   time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	Enabled  bool
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
}

// StorageConfig selects the persistence backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string
}

// PricingConfig holds the service fee and commission parameters.
type PricingConfig struct {
	UnitPriceUSD   decimal.Decimal
	CommissionRate decimal.Decimal
	ExchangeRate   decimal.Decimal // local currency units per USD
}

// SimulationConfig tunes the bank network simulators.
type SimulationConfig struct {
	UploaderFailureRate   float64
	RecheckFailureRate    float64
	SettlementSuccessRate float64
	PipelineTicks         int
	Seed                  int64         // 0 means time-seeded
	VerificationTTL       time.Duration // how long an uploader pass can be submitted
}

// AuthorizationConfig governs the passphrase+PIN protocol.
type AuthorizationConfig struct {
	PINLength         int
	MaxFailedAttempts int // 0 disables lockout
	LockoutWindow     time.Duration
	SessionTTL        time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
			RateLimit:    getIntEnv("RATE_LIMIT_REQUESTS", 120),
			RateWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		},
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      normalizeRedisURL(getEnv("REDIS_URL", "localhost:6379")),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
			Enabled:  getBoolEnv("REDIS_ENABLED", false),
		},
		JWT: JWTConfig{
			Secret:     getEnv("JWT_SECRET", "change-this-secret"),
			Expiration: getDurationEnv("JWT_EXPIRATION", 30*time.Minute),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(getEnv("STORAGE_DRIVER", "postgres")),
		},
		Pricing: PricingConfig{
			UnitPriceUSD:   getDecimalEnv("PRICING_UNIT_PRICE_USD", decimal.RequireFromString("1.50")),
			CommissionRate: getDecimalEnv("PRICING_COMMISSION_RATE", decimal.RequireFromString("0.025")),
			ExchangeRate:   getDecimalEnv("PRICING_EXCHANGE_RATE", decimal.NewFromInt(2500)),
		},
		Simulation: SimulationConfig{
			UploaderFailureRate:   getFloatEnv("SIM_UPLOADER_FAILURE_RATE", 0.15),
			RecheckFailureRate:    getFloatEnv("SIM_RECHECK_FAILURE_RATE", 0.20),
			SettlementSuccessRate: getFloatEnv("SIM_SETTLEMENT_SUCCESS_RATE", 0.95),
			PipelineTicks:         getIntEnv("SIM_PIPELINE_TICKS", 4),
			Seed:                  int64(getIntEnv("SIM_SEED", 0)),
			VerificationTTL:       getDurationEnv("SIM_VERIFICATION_TTL", 30*time.Minute),
		},
		Authorization: AuthorizationConfig{
			PINLength:         getIntEnv("AUTH_PIN_LENGTH", 6),
			MaxFailedAttempts: getIntEnv("AUTH_MAX_FAILED_ATTEMPTS", 5),
			LockoutWindow:     getDurationEnv("AUTH_LOCKOUT_WINDOW", 15*time.Minute),
			SessionTTL:        getDurationEnv("AUTH_SESSION_TTL", 10*time.Minute),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func normalizeRedisURL(url string) string {
	// Strip redis:// or redis+tls:// scheme if present
	if strings.HasPrefix(url, "redis+tls://") {
		return url[len("redis+tls://"):]
	}
	if strings.HasPrefix(url, "redis://") {
		return url[len("redis://"):]
	}
	return url
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}
