package haiku_test

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CTAG07/Haikoo/pkg/haiku"
	"github.com/CTAG07/Haikoo/pkg/markov"
)

func TestPresets(t *testing.T) {
	assert.Equal(t, []string{"classic", "frost", "fusion", "shakespeare"}, haiku.PresetNames())

	tests := []struct {
		name    string
		sources int
	}{
		{"classic", 1},
		{"frost", 1},
		{"shakespeare", 3},
		{"fusion", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := haiku.Preset(tt.name)
			require.NoError(t, err)
			assert.Len(t, cfg.Sources, tt.sources)
			assert.Len(t, cfg.Weights, tt.sources)
			assert.NoError(t, cfg.Validate())
		})
	}

	_, err := haiku.Preset("limerick")
	assert.ErrorIs(t, err, haiku.ErrValidation)

	// Presets hand out copies.
	cfg, _ := haiku.Preset("classic")
	cfg.Sources[0] = "changed"
	again, _ := haiku.Preset("classic")
	assert.Equal(t, "classic_haiku_model", again.Sources[0])
}

func TestResolveConfig(t *testing.T) {
	assert.Len(t, haiku.ResolveConfig("").Sources, 5)
	assert.Equal(t, []string{"robert_frost"}, haiku.ResolveConfig("frost").Sources)
	assert.Equal(t, haiku.ModelConfig{Sources: []string{"my_model"}, Weights: []float64{1}}, haiku.ResolveConfig("my_model"))
}

func TestModelConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     haiku.ModelConfig
		wantErr bool
	}{
		{"no sources", haiku.ModelConfig{}, true},
		{"default weights", haiku.ModelConfig{Sources: []string{"a", "b"}}, false},
		{"weight count mismatch", haiku.ModelConfig{Sources: []string{"a", "b"}, Weights: []float64{1}}, true},
		{"zero weight", haiku.ModelConfig{Sources: []string{"a"}, Weights: []float64{0}}, true},
		{"NaN weight", haiku.ModelConfig{Sources: []string{"a", "b"}, Weights: []float64{1, math.NaN()}}, true},
		{"infinite weight", haiku.ModelConfig{Sources: []string{"a"}, Weights: []float64{math.Inf(1)}}, true},
		{"valid", haiku.ModelConfig{Sources: []string{"a", "b"}, Weights: []float64{2, 0.5}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, haiku.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func writeModel(t *testing.T, dir, name, corpus string, stateSize int) {
	t.Helper()
	m, err := markov.NewTextModel(strings.NewReader(corpus), stateSize, nil, true)
	require.NoError(t, err)
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644))
}

func TestLoadModel(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "pond", "old pond. frog jumps.", 1)
	writeModel(t, dir, "moon", "old moon. frog sleeps.", 1)
	writeModel(t, dir, "pairs", "old pond frog.", 2)
	ctx := context.Background()

	cfg := haiku.ModelConfig{Sources: []string{"pond", "moon"}, Weights: []float64{2, 1}}
	m, err := haiku.LoadModel(ctx, haiku.DirLoader{Dir: dir}, cfg, []string{"old", "frog", "pond"})
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "frog", "pond"}, m.Keywords)
	assert.Len(t, m.Sentences(), 4)

	next := m.Table().Transitions([]string{"old"})
	require.Len(t, next, 2)
	assert.Equal(t, markov.Transition{Token: "pond", Weight: 2, Syllables: 1}, next[0])
	assert.Equal(t, markov.Transition{Token: "moon", Weight: 1, Syllables: 1}, next[1])

	_, err = haiku.LoadModel(ctx, haiku.DirLoader{Dir: dir}, haiku.ModelConfig{Sources: []string{"pond", "pairs"}}, nil)
	assert.ErrorIs(t, err, haiku.ErrValidation)

	_, err = haiku.LoadModel(ctx, haiku.DirLoader{Dir: dir}, haiku.ModelConfig{Sources: []string{"missing"}}, nil)
	assert.ErrorIs(t, err, haiku.ErrModelNotFound)
}

func TestDirLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"chain": 1}`), 0o644))
	l := haiku.DirLoader{Dir: dir}
	ctx := context.Background()

	_, err := l.Load(ctx, "broken")
	assert.ErrorIs(t, err, markov.ErrFormat)

	_, err = l.Load(ctx, "../escape")
	assert.ErrorIs(t, err, haiku.ErrValidation)
}

func TestMultiLoader(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeModel(t, first, "pond", "old pond.", 1)
	writeModel(t, second, "moon", "old moon.", 1)
	require.NoError(t, os.WriteFile(filepath.Join(first, "broken.json"), []byte(`nope`), 0o644))
	writeModel(t, second, "broken", "fine here.", 1)

	ml := haiku.MultiLoader{haiku.DirLoader{Dir: first}, haiku.DirLoader{Dir: second}}
	ctx := context.Background()

	m, err := ml.Load(ctx, "moon")
	require.NoError(t, err)
	assert.NotEmpty(t, m.Table().Transitions([]string{"old"}))

	_, err = ml.Load(ctx, "pond")
	assert.NoError(t, err)

	_, err = ml.Load(ctx, "broken")
	assert.ErrorIs(t, err, markov.ErrFormat, "a broken model is an error, not a miss")

	_, err = ml.Load(ctx, "nowhere")
	assert.ErrorIs(t, err, haiku.ErrModelNotFound)
}

func TestGeneratorLoadsModelOnce(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "river", riverCorpus, 1)

	g, err := haiku.NewGenerator(
		haiku.KeywordSourceFunc(func(context.Context, string) ([]string, error) {
			return []string{"river", "stone", "wind"}, nil
		}),
		haiku.DirLoader{Dir: dir},
		haiku.ResolveConfig("river"),
		haiku.WithSeed(7),
	)
	require.NoError(t, err)

	ctx := context.Background()
	m1, err := g.Model(ctx)
	require.NoError(t, err)
	m2, err := g.Model(ctx)
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	g.Reload()
	m3, err := g.Model(ctx)
	require.NoError(t, err)
	assert.NotSame(t, m1, m3)

	text, err := g.CreateText(ctx, "x")
	require.NoError(t, err)
	assert.Len(t, text.Lines, 3)
}
