package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		prev, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, prev)
			}
		})
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t, "DB_URL", "BUS_BOOTSTRAP", "ACTIVATION_GATE", "WORKER_COUNT")
	t.Setenv("DB_URL", "postgres://localhost/patternctl")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 25, cfg.DBMaxOpenConns)
	assert.Equal(t, 0.5, cfg.PairingConfidenceFloor)
	assert.False(t, cfg.ConsumersEnabled())
}

func TestFromEnv_MissingDBURL(t *testing.T) {
	clearEnv(t, "DB_URL")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_ActivationGateRequiresBus(t *testing.T) {
	clearEnv(t, "DB_URL", "ACTIVATION_GATE", "BUS_BOOTSTRAP")
	t.Setenv("DB_URL", "postgres://localhost/patternctl")
	t.Setenv("ACTIVATION_GATE", "on")

	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("BUS_BOOTSTRAP", "localhost:9092")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.ConsumersEnabled())
}

func TestValidate_IdleExceedsOpen(t *testing.T) {
	cfg := Config{DBURL: "x", DBMaxOpenConns: 5, DBMaxIdleConns: 10, WorkerCount: 1, PairingConfidenceFloor: 0.5}
	assert.Error(t, cfg.Validate())
}
