package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/pricing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("TAX_ENABLED", "true")
	t.Setenv("TAX_RATE", "10")
	t.Setenv("TAX_TIMING", "included")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, StoreSQLite, cfg.StoreDriver)
	require.EqualValues(t, 5, cfg.LowStockThreshold)
	require.Equal(t, "TRX", cfg.OrderNumberPrefix)

	policy, err := cfg.TaxPolicy()
	require.NoError(t, err)
	require.True(t, policy.Enabled)
	require.True(t, policy.Rate.Equal(decimal.NewFromInt(10)))
	require.Equal(t, pricing.TaxIncluded, policy.Timing)
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			StoreDriver:        StoreSQLite,
			SQLitePath:         "pos.db",
			RateLimitPerMinute: 60,
			OrderNumberPrefix:  "TRX",
			TaxRate:            "11",
			TaxTiming:          "after_discount",
		}
	}
	cfg := valid()
	require.NoError(t, cfg.Validate())

	cases := map[string]func(*Config){
		"unknown driver":  func(c *Config) { c.StoreDriver = "mysql" },
		"missing dsn":     func(c *Config) { c.StoreDriver = StorePostgres; c.PGDSN = "" },
		"negative low":    func(c *Config) { c.LowStockThreshold = -1 },
		"zero rate limit": func(c *Config) { c.RateLimitPerMinute = 0 },
		"empty prefix":    func(c *Config) { c.OrderNumberPrefix = " " },
		"bad tax rate":    func(c *Config) { c.TaxEnabled = true; c.TaxRate = "abc" },
		"bad tax timing":  func(c *Config) { c.TaxEnabled = true; c.TaxTiming = "later" },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestTaxPolicyDisabled(t *testing.T) {
	cfg := Config{TaxRate: "abc"}
	policy, err := cfg.TaxPolicy()
	require.NoError(t, err)
	require.False(t, policy.Enabled)
}
