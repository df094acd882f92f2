package application

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qaforge/botshield/internal/domain"
)

func TestDefaultEngineConfigIsValid(t *testing.T) {
	cfg := DefaultEngineConfig()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 1.0, cfg.Weights.Sum(), 1e-12, "fusion weights must sum to 1.0")
}

func TestEngineConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{
			name:   "weights must sum to one",
			mutate: func(c *EngineConfig) { c.Weights.Signature = 0.9 },
		},
		{
			name:   "band thresholds must be ordered",
			mutate: func(c *EngineConfig) { c.Thresholds.BehavioralBlock = 0.99 },
		},
		{
			name:   "instant block must top the bands",
			mutate: func(c *EngineConfig) { c.Thresholds.InstantBlock = 0.5 },
		},
		{
			name:   "weight out of range",
			mutate: func(c *EngineConfig) { c.Weights.Realtime = 1.5 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFusionWeightsForLayer(t *testing.T) {
	w := DefaultEngineConfig().Weights
	assert.InDelta(t, 0.35, w.ForLayer(domain.LayerSignature), 1e-9)
	assert.InDelta(t, 0.25, w.ForLayer(domain.LayerBehavioral), 1e-9)
	assert.InDelta(t, 0.20, w.ForLayer(domain.LayerAuthorship), 1e-9)
	assert.InDelta(t, 0.20, w.ForLayer(domain.LayerRealtime), 1e-9)
	assert.Zero(t, w.ForLayer("unknown"))
}

func TestLoadServiceConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen_addr: ":9090"
requests_per_minute: 200
engine:
  cache_ttl: 30m
  thresholds:
    instant_block: 0.95
    consensus_block: 0.85
    behavioral_block: 0.70
    signature_short_circuit: 0.9
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadServiceConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 200, cfg.RequestsPerMinute)
	assert.Equal(t, 50000, cfg.RequestsPerHour, "absent fields keep their defaults")
	assert.Equal(t, float64(30*60), cfg.Engine.CacheTTL.Std().Seconds())
}

func TestLoadServiceConfigRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen_addr: ":9090"
engine:
  weights:
    signature: 0.9
    behavioral: 0.25
    authorship: 0.20
    realtime: 0.20
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	_, err := LoadServiceConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestLoadServiceConfigMissingFile(t *testing.T) {
	_, err := LoadServiceConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
