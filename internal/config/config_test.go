package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receiptflow/receiptflow/internal/common"
)

func testViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.Set("backend.endpoint", "https://extract.example.com/v1")
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(testViper())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Backend.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Backend.CallTimeout)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 10000, cfg.Cache.Size)
	assert.Equal(t, "USD", cfg.Normalize.DefaultCurrency)
	assert.InDelta(t, 0.7, cfg.Normalize.ConfidenceThreshold, 0.001)
	assert.Equal(t, 26*time.Hour, cfg.Normalize.ClockSkew)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 64, cfg.Pipeline.QueueDepth)
	assert.NotEmpty(t, cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidateBackend(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	// Commands that never call the backend load fine without an endpoint.
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.ErrorIs(t, cfg.ValidateBackend(), common.ErrMissingConfig)

	cfg.Backend.Endpoint = "https://extract.example.com/v1"
	assert.NoError(t, cfg.ValidateBackend())
}

func TestLoadOverrides(t *testing.T) {
	v := testViper()
	v.Set("backend.max_attempts", 5)
	v.Set("pipeline.workers", 8)
	v.Set("normalize.keyword_rules", []map[string]any{
		{"category": "Pets", "regex": `\bPETCO\b`, "priority": 70},
	})

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Backend.MaxAttempts)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	require.Len(t, cfg.Normalize.KeywordRules, 1)
	assert.Equal(t, "Pets", cfg.Normalize.KeywordRules[0].Category)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"zero attempts", "backend.max_attempts", 0},
		{"threshold above one", "normalize.confidence_threshold", 1.5},
		{"no workers", "pipeline.workers", 0},
		{"no queue depth", "pipeline.queue_depth", 0},
		{"empty db path", "database.path", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := testViper()
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
		})
	}
}
