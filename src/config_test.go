package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("WORKER_VARS", "GREETING:hi,REGION:eu")
	t.Setenv("WORKER_CRONS", "*/5 * * * *;@daily")
	t.Setenv("WORKER_QUEUES", "jobs,emails")
	t.Setenv("QUEUE_BATCH_TIMEOUT", "100ms")
	t.Setenv("INIT_FAILURE_POLICY", "poison")

	cfg, err := loadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "counter", cfg.Module)
	assert.Equal(t, map[string]string{"GREETING": "hi", "REGION": "eu"}, cfg.Vars)
	assert.Equal(t, []string{"*/5 * * * *", "@daily"}, cfg.Crons)
	assert.Equal(t, []string{"jobs", "emails"}, cfg.Queues)
	assert.Equal(t, "poison", cfg.InitFailurePolicy)
	assert.Equal(t, time.Second, cfg.QueueBatchTimeout)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpire)
}

func TestLoadConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")

	_, err := loadConfig()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		tweak   func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown policy", func(c *Config) { c.InitFailurePolicy = "sometimes" }, true},
		{"bad rate", func(c *Config) { c.RateLimit = "lots" }, true},
		{"zero batch", func(c *Config) { c.QueueBatchSize = 0 }, true},
		{"zero attempts", func(c *Config) { c.SetupAttempts = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.tweak(cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.GreaterOrEqual(t, cfg.SetupAttempts, 1)
		})
	}
}
