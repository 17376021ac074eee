package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "")
	setEnv(t, "ENV", "")
	setEnv(t, "COMMISSION_RATE", "")
	setEnv(t, "CURRENCY", "")
	setEnv(t, "GATEWAY_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultCommissionRate, cfg.CommissionRate)
	assert.Equal(t, DefaultCurrency, cfg.Currency)
	assert.Equal(t, DefaultGatewayTimeout, cfg.GatewayTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9090")
	setEnv(t, "COMMISSION_RATE", "0.12")
	setEnv(t, "CURRENCY", "eur")
	setEnv(t, "GATEWAY_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "0.12", cfg.CommissionRate)
	assert.Equal(t, "eur", cfg.Currency)
	assert.Equal(t, 3*time.Second, cfg.GatewayTimeout)
}

func TestLoad_RejectsBadCommissionRate(t *testing.T) {
	setEnv(t, "COMMISSION_RATE", "1.5")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "COMMISSION_RATE")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name: "valid config",
			config: Config{
				Env:            "development",
				Currency:       "usd",
				CommissionRate: "0.08",
				GatewayTimeout: time.Second,
			},
			wantErr: "",
		},
		{
			name: "rate of one",
			config: Config{
				Env:            "development",
				Currency:       "usd",
				CommissionRate: "1",
				GatewayTimeout: time.Second,
			},
			wantErr: "COMMISSION_RATE",
		},
		{
			name: "empty currency",
			config: Config{
				Env:            "development",
				Currency:       "",
				CommissionRate: "0.08",
				GatewayTimeout: time.Second,
			},
			wantErr: "CURRENCY",
		},
		{
			name: "zero gateway timeout",
			config: Config{
				Env:            "development",
				Currency:       "usd",
				CommissionRate: "0.08",
			},
			wantErr: "GATEWAY_TIMEOUT",
		},
		{
			name: "production requires stripe key",
			config: Config{
				Env:            "production",
				Currency:       "usd",
				CommissionRate: "0.08",
				GatewayTimeout: time.Second,
			},
			wantErr: "STRIPE_SECRET_KEY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_EnvHelpers(t *testing.T) {
	cfg := Config{Env: "production"}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.Env = "development"
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}
