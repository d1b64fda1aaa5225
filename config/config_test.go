package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("API_BASE_URL", "")

	cfg := Load()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, "USD", cfg.Cart.Currency)
	assert.Equal(t, 15*time.Second, cfg.GetAPITimeoutDuration())
	assert.Equal(t, 5*time.Minute, cfg.GetReconcileIntervalDuration())
	assert.Equal(t, time.Duration(0), cfg.GetReadinessDrainDelayDuration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantError string
	}{
		{
			name: "redis store: ok",
			env:  map[string]string{"STORE_DRIVER": "redis"},
		},
		{
			name:      "postgres without database url: error",
			env:       map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": ""},
			wantError: "DATABASE_URL is required",
		},
		{
			name:      "unknown driver: error",
			env:       map[string]string{"STORE_DRIVER": "sqlite"},
			wantError: `STORE_DRIVER "sqlite"`,
		},
		{
			name:      "relative api url: error",
			env:       map[string]string{"API_BASE_URL": "/api"},
			wantError: "API_BASE_URL",
		},
		{
			name:      "bad currency: error",
			env:       map[string]string{"CART_CURRENCY": "XYZW"},
			wantError: "CART_CURRENCY",
		},
		{
			name:      "bad duration: error",
			env:       map[string]string{"API_TIMEOUT": "soon"},
			wantError: "API_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			err := Load().Validate()
			if tt.wantError != "" {
				require.ErrorContains(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
		})
	}
}
