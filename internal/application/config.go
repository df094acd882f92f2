// Package application wires the detection layers, cache, and rate
// limiter into the consensus engine and its execution coordinator.
package application

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/qaforge/botshield/internal/domain"
)

// Package-level validator instance for configuration validation.
var validate = validator.New()

// Duration is a time.Duration that unmarshals from YAML strings like
// "30m" or "750ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// FusionWeights are the fixed per-layer weights of the weighted
// consensus. Only layers that actually ran contribute; the engine
// renormalizes over the active subset.
type FusionWeights struct {
	// Signature weights the stateless pattern layer.
	Signature float64 `yaml:"signature" json:"signature" validate:"min=0,max=1"`

	// Behavioral weights the posting-history layer.
	Behavioral float64 `yaml:"behavioral" json:"behavioral" validate:"min=0,max=1"`

	// Authorship weights the AI-authorship layer.
	Authorship float64 `yaml:"authorship" json:"authorship" validate:"min=0,max=1"`

	// Realtime weights the coordinator's own constant-time opinion.
	Realtime float64 `yaml:"realtime" json:"realtime" validate:"min=0,max=1"`
}

// Sum returns the total weight mass.
func (w FusionWeights) Sum() float64 {
	return w.Signature + w.Behavioral + w.Authorship + w.Realtime
}

// ForLayer returns the fusion weight of the given layer ID, or 0 for an
// unknown layer.
func (w FusionWeights) ForLayer(layerID string) float64 {
	switch layerID {
	case domain.LayerSignature:
		return w.Signature
	case domain.LayerBehavioral:
		return w.Behavioral
	case domain.LayerAuthorship:
		return w.Authorship
	case domain.LayerRealtime:
		return w.Realtime
	}
	return 0
}

// Thresholds are the decision boundaries of the consensus engine.
type Thresholds struct {
	// InstantBlock is the single-layer confidence that overrides the
	// weighted consensus outright.
	InstantBlock float64 `yaml:"instant_block" json:"instant_block" validate:"min=0,max=1"`

	// ConsensusBlock is the high consensus band boundary.
	ConsensusBlock float64 `yaml:"consensus_block" json:"consensus_block" validate:"min=0,max=1"`

	// BehavioralBlock is the medium consensus band boundary; it is also
	// the bot decision gate.
	BehavioralBlock float64 `yaml:"behavioral_block" json:"behavioral_block" validate:"min=0,max=1"`

	// SignatureShortCircuit is the signature confidence at which
	// high-priority execution stops without running further layers.
	SignatureShortCircuit float64 `yaml:"signature_short_circuit" json:"signature_short_circuit" validate:"min=0,max=1"`
}

// EngineConfig tunes the consensus engine and its coordinator.
type EngineConfig struct {
	// Weights are the per-layer fusion weights.
	Weights FusionWeights `yaml:"weights" json:"weights"`

	// Thresholds are the decision boundaries.
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`

	// CacheTTL is how long a computed verdict stays servable from cache.
	CacheTTL Duration `yaml:"cache_ttl" json:"cache_ttl" validate:"min=0"`

	// LayerTimeout is the per-request soft bound on layer execution.
	// On expiry, completed layers are used and missing layers are
	// excluded from consensus.
	LayerTimeout Duration `yaml:"layer_timeout" json:"layer_timeout" validate:"min=0"`
}

// DefaultEngineConfig returns the production engine tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Weights: FusionWeights{
			Signature:  0.35,
			Behavioral: 0.25,
			Authorship: 0.20,
			Realtime:   0.20,
		},
		Thresholds: Thresholds{
			InstantBlock:          0.95,
			ConsensusBlock:        0.85,
			BehavioralBlock:       0.70,
			SignatureShortCircuit: 0.9,
		},
		CacheTTL:     Duration(time.Hour),
		LayerTimeout: Duration(750 * time.Millisecond),
	}
}

// Validate checks the configuration for internal consistency.
func (c EngineConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("engine configuration validation failed: %w", err)
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("fusion weights must sum to 1.0, got %v", sum)
	}
	if c.Thresholds.BehavioralBlock > c.Thresholds.ConsensusBlock {
		return fmt.Errorf("behavioral block threshold %v exceeds consensus block threshold %v",
			c.Thresholds.BehavioralBlock, c.Thresholds.ConsensusBlock)
	}
	if c.Thresholds.ConsensusBlock > c.Thresholds.InstantBlock {
		return fmt.Errorf("consensus block threshold %v exceeds instant block threshold %v",
			c.Thresholds.ConsensusBlock, c.Thresholds.InstantBlock)
	}
	return nil
}

// ServiceConfig is the full deployable configuration: engine tuning plus
// the infrastructure knobs the command wires up.
type ServiceConfig struct {
	// Engine tunes consensus fusion and coordination.
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// ListenAddr is the HTTP listen address for serve mode.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`

	// CachePath is the SQLite cache file. Empty selects the in-memory
	// cache.
	CachePath string `yaml:"cache_path" json:"cache_path"`

	// RequestsPerMinute is the per-client minute quota.
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute" validate:"min=1"`

	// RequestsPerHour is the per-client hour quota.
	RequestsPerHour int `yaml:"requests_per_hour" json:"requests_per_hour" validate:"min=1"`

	// Burst bounds back-to-back traffic per client.
	Burst int `yaml:"burst" json:"burst" validate:"min=1"`
}

// DefaultServiceConfig returns the production service configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Engine:            DefaultEngineConfig(),
		ListenAddr:        ":8080",
		RequestsPerMinute: 1000,
		RequestsPerHour:   50000,
		Burst:             100,
	}
}

// LoadServiceConfig reads a YAML configuration file, applying defaults
// for absent fields.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("parsing config file: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("config validation failed: %w", err)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return ServiceConfig{}, err
	}
	return cfg, nil
}
