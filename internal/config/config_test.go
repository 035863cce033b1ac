package config

import (
	"testing"
	"time"

	"github.com/GoPolymarket/polyvault/internal/risk"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("VAULT_AUTH_OWNER", "0x00000000000000000000000000000000000000a0")
	t.Setenv("VAULT_VAULT_MODE", "multi")
	t.Setenv("VAULT_VAULT_PERFORMANCE_FEE_BPS", "1500")
	t.Setenv("VAULT_STORE_SNAPSHOT", "none")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0x00000000000000000000000000000000000000a0", cfg.Auth.Owner)
	assert.Equal(t, "multi", cfg.Vault.Mode)
	assert.EqualValues(t, 1500, cfg.Vault.PerformanceFeeBps)
	assert.Equal(t, "none", cfg.Store.Snapshot)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 6*time.Hour, cfg.Vault.ProfitUnlockWindow)
	assert.Equal(t, 5*time.Minute, cfg.Auth.MaxSkew)
	assert.Equal(t, risk.DefaultConfig(), cfg.Breaker)
	assert.Equal(t, "0 */5 * * * *", cfg.Keeper.QueueSpec)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		v := viper.New()
		SetDefaults(v)
		var c Config
		require.NoError(t, v.Unmarshal(&c))
		c.Auth.Owner = "0x00000000000000000000000000000000000000a0"
		return c
	}

	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"mode", func(c *Config) { c.Vault.Mode = "both" }, "vault.mode"},
		{"snapshot", func(c *Config) { c.Store.Snapshot = "s3" }, "store.snapshot"},
		{"owner", func(c *Config) { c.Auth.Owner = "" }, "auth.owner"},
		{"single with two strategies", func(c *Config) {
			c.Strategies = []StrategyConfig{{Name: "a"}, {Name: "b"}}
		}, "at most one strategy"},
		{"breaker", func(c *Config) { c.Breaker.MaxLossBps = 20000 }, "max_loss_bps"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
