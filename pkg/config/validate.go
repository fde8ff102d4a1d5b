package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present and sane.
func (c *Config) ValidateCore() error {
	var missing []string

	switch c.Storage.Driver {
	case "postgres":
		if strings.TrimSpace(c.Database.URL) == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "memory":
	default:
		missing = append(missing, "STORAGE_DRIVER (postgres|memory)")
	}
	if c.Redis.Enabled && strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return c.validateRanges()
}

func (c *Config) validateRanges() error {
	var invalid []string

	if !c.Pricing.UnitPriceUSD.IsPositive() {
		invalid = append(invalid, "PRICING_UNIT_PRICE_USD")
	}
	if c.Pricing.CommissionRate.IsNegative() {
		invalid = append(invalid, "PRICING_COMMISSION_RATE")
	}
	if !c.Pricing.ExchangeRate.IsPositive() {
		invalid = append(invalid, "PRICING_EXCHANGE_RATE")
	}
	for key, rate := range map[string]float64{
		"SIM_UPLOADER_FAILURE_RATE":   c.Simulation.UploaderFailureRate,
		"SIM_RECHECK_FAILURE_RATE":    c.Simulation.RecheckFailureRate,
		"SIM_SETTLEMENT_SUCCESS_RATE": c.Simulation.SettlementSuccessRate,
	} {
		if rate < 0 || rate > 1 {
			invalid = append(invalid, key)
		}
	}
	if c.Simulation.PipelineTicks < 1 {
		invalid = append(invalid, "SIM_PIPELINE_TICKS")
	}
	if c.Authorization.PINLength < 4 {
		invalid = append(invalid, "AUTH_PIN_LENGTH")
	}
	if c.Authorization.MaxFailedAttempts < 0 {
		invalid = append(invalid, "AUTH_MAX_FAILED_ATTEMPTS")
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, ", "))
	}
	return nil
}
