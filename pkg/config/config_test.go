package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "1.5", cfg.Pricing.UnitPriceUSD.String())
	assert.Equal(t, "0.025", cfg.Pricing.CommissionRate.String())
	assert.Equal(t, "2500", cfg.Pricing.ExchangeRate.String())
	assert.Equal(t, 0.15, cfg.Simulation.UploaderFailureRate)
	assert.Equal(t, 0.20, cfg.Simulation.RecheckFailureRate)
	assert.Equal(t, 0.95, cfg.Simulation.SettlementSuccessRate)
	assert.Equal(t, 4, cfg.Simulation.PipelineTicks)
	assert.Equal(t, 30*time.Minute, cfg.Simulation.VerificationTTL)
	assert.Equal(t, 6, cfg.Authorization.PINLength)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PRICING_UNIT_PRICE_USD", "2.25")
	t.Setenv("SIM_PIPELINE_TICKS", "6")
	t.Setenv("AUTH_MAX_FAILED_ATTEMPTS", "0")
	t.Setenv("AUTH_LOCKOUT_WINDOW", "1m")
	t.Setenv("STORAGE_DRIVER", "MEMORY")
	t.Setenv("REDIS_URL", "redis://cache:6379")
	t.Setenv("REDIS_ENABLED", "yes")

	cfg := Load()

	assert.Equal(t, "2.25", cfg.Pricing.UnitPriceUSD.String())
	assert.Equal(t, 6, cfg.Simulation.PipelineTicks)
	assert.Equal(t, 0, cfg.Authorization.MaxFailedAttempts)
	assert.Equal(t, time.Minute, cfg.Authorization.LockoutWindow)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "cache:6379", cfg.Redis.URL)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoad_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("SIM_RECHECK_FAILURE_RATE", "lots")
	t.Setenv("PRICING_EXCHANGE_RATE", "n/a")

	cfg := Load()

	assert.Equal(t, 0.20, cfg.Simulation.RecheckFailureRate)
	assert.Equal(t, "2500", cfg.Pricing.ExchangeRate.String())
}

func TestValidateCore(t *testing.T) {
	t.Setenv("JWT_SECRET", "a-real-secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/korosho")

	assert.NoError(t, Load().ValidateCore())

	t.Run("postgres needs a database url", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		err := Load().ValidateCore()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("memory driver needs no database", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("STORAGE_DRIVER", "memory")
		assert.NoError(t, Load().ValidateCore())
	})

	t.Run("default secret is rejected", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		assert.ErrorContains(t, Load().ValidateCore(), "JWT_SECRET")
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("STORAGE_DRIVER", "mongo")
		assert.ErrorContains(t, Load().ValidateCore(), "STORAGE_DRIVER")
	})

	t.Run("out of range values", func(t *testing.T) {
		t.Setenv("SIM_SETTLEMENT_SUCCESS_RATE", "1.5")
		t.Setenv("SIM_PIPELINE_TICKS", "0")
		err := Load().ValidateCore()
		assert.ErrorContains(t, err, "SIM_SETTLEMENT_SUCCESS_RATE")
		assert.ErrorContains(t, err, "SIM_PIPELINE_TICKS")
	})
}
