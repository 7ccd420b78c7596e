package haiku

import (
	"fmt"
	"slices"

	"github.com/CTAG07/Haikoo/pkg/markov"
)

// ModelConfig names the model sources to merge and their weights.
type ModelConfig struct {
	Sources []string  `json:"sources" yaml:"sources"`
	Weights []float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Validate checks that there is at least one source and that weights, when
// given, are finite, positive and match the sources one to one.
func (c ModelConfig) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: model config has no sources", ErrValidation)
	}
	if c.Weights == nil {
		return nil
	}
	if len(c.Weights) != len(c.Sources) {
		return fmt.Errorf("%w: %d sources but %d weights", ErrValidation, len(c.Sources), len(c.Weights))
	}
	for i, w := range c.Weights {
		if !markov.ValidWeight(w) {
			return fmt.Errorf("%w: weight for %q must be finite and positive, got %g", ErrValidation, c.Sources[i], w)
		}
	}
	return nil
}

const (
	classicSource     = "classic_haiku_model"
	frostSource       = "robert_frost"
	sonnetsSource     = "shakespeare_sonnets"
	romeoJulietSource = "shakespeare_romeo_and_juliet"
	hamletSource      = "shakespeare_hamlet"
)

// DefaultPreset is used when no model is named.
const DefaultPreset = "fusion"

var presets = map[string]ModelConfig{
	"classic": {
		Sources: []string{classicSource},
		Weights: []float64{1},
	},
	"frost": {
		Sources: []string{frostSource},
		Weights: []float64{1},
	},
	"shakespeare": {
		Sources: []string{sonnetsSource, romeoJulietSource, hamletSource},
		Weights: []float64{1, 1, 1},
	},
	"fusion": {
		Sources: []string{classicSource, frostSource, sonnetsSource, romeoJulietSource, hamletSource},
		Weights: []float64{1, 1, 1, 1, 1},
	},
}

// Preset returns a copy of a named preset configuration.
func Preset(name string) (ModelConfig, error) {
	cfg, ok := presets[name]
	if !ok {
		return ModelConfig{}, fmt.Errorf("%w: unknown preset %q, valid presets are %v", ErrValidation, name, PresetNames())
	}
	return ModelConfig{
		Sources: slices.Clone(cfg.Sources),
		Weights: slices.Clone(cfg.Weights),
	}, nil
}

// PresetNames lists the preset names in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ResolveConfig returns the preset called name, or a single-source config
// using name as a model source when no preset matches.
func ResolveConfig(name string) ModelConfig {
	if name == "" {
		name = DefaultPreset
	}
	if cfg, err := Preset(name); err == nil {
		return cfg
	}
	return ModelConfig{Sources: []string{name}, Weights: []float64{1}}
}
