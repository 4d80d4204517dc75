package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setRequiredEnv sets the minimum environment for Load to succeed.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STREAM_WS_URL", "wss://stream.example.com")
	t.Setenv("RPC_URL", "https://rpc.example.com")
	t.Setenv("PROGRAM_ID", "ArbBot1111111111111111111111111111111111111")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/arbwatch")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, CommitmentConfirmed, cfg.Commitment)
	assert.Equal(t, 8, cfg.EnrichWorkers)
	assert.Equal(t, 10, cfg.EnrichRPS)
	assert.Equal(t, 256, cfg.StreamBuffer)
	assert.Equal(t, 10*time.Second, cfg.EnrichTimeout)
	assert.Equal(t, 20*time.Second, cfg.ShutdownGrace)
	assert.Empty(t, cfg.NATSURL)
	assert.Empty(t, cfg.BotAccount)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("STREAM_WS_URL", "")
	t.Setenv("RPC_URL", "")
	t.Setenv("PROGRAM_ID", "")
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STREAM_WS_URL")
	assert.Contains(t, err.Error(), "RPC_URL")
	assert.Contains(t, err.Error(), "PROGRAM_ID")
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_InvalidCommitment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("COMMITMENT", "instant")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COMMITMENT")
}

func TestLoad_CommitmentLevels(t *testing.T) {
	for _, level := range []string{CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized} {
		t.Run(level, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv("COMMITMENT", level)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, level, cfg.Commitment)
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENRICH_WORKERS", "32")
	t.Setenv("ENRICH_TIMEOUT", "5s")
	t.Setenv("STREAM_BUFFER", "1024")
	t.Setenv("BOT_ACCOUNT", "FeePayerAccount111111111111111111111111111")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.EnrichWorkers)
	assert.Equal(t, 5*time.Second, cfg.EnrichTimeout)
	assert.Equal(t, 1024, cfg.StreamBuffer)
	assert.Equal(t, "FeePayerAccount111111111111111111111111111", cfg.BotAccount)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
}

func TestLoad_InvalidInteger(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENRICH_WORKERS", "many")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENRICH_WORKERS")
}

func TestValidate(t *testing.T) {
	valid := Config{
		StreamWSURL:   "wss://stream.example.com",
		RPCURL:        "https://rpc.example.com",
		ProgramID:     "ArbBot1111111111111111111111111111111111111",
		DatabaseURL:   "postgres://localhost:5432/arbwatch",
		Commitment:    CommitmentConfirmed,
		EnrichWorkers: 8,
		EnrichRPS:     10,
		StreamBuffer:  256,
		EnrichTimeout: 10 * time.Second,
	}

	t.Run("valid", func(t *testing.T) {
		cfg := valid
		require.NoError(t, cfg.Validate())
	})

	t.Run("zero workers", func(t *testing.T) {
		cfg := valid
		cfg.EnrichWorkers = 0
		require.Error(t, cfg.Validate())
	})

	t.Run("sub-second enrich timeout", func(t *testing.T) {
		cfg := valid
		cfg.EnrichTimeout = 100 * time.Millisecond
		require.Error(t, cfg.Validate())
	})
}
