package haiku

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/CTAG07/Haikoo/pkg/markov"
)

// ModelLoader loads a text model by source name. markov.Store satisfies it.
type ModelLoader interface {
	Load(ctx context.Context, name string) (*markov.TextModel, error)
}

// DirLoader reads models from <Dir>/<name>.json.
type DirLoader struct {
	Dir string
}

// Load implements ModelLoader.
func (l DirLoader) Load(_ context.Context, name string) (*markov.TextModel, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, fmt.Errorf("%w: invalid model name %q", ErrValidation, name)
	}
	f, err := os.Open(filepath.Join(l.Dir, name+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
		}
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	m, err := markov.ReadTextModel(f)
	if err != nil {
		return nil, fmt.Errorf("could not read model %q: %w", name, err)
	}
	return m, nil
}

// MultiLoader tries each loader in order and returns the first model found.
type MultiLoader []ModelLoader

// Load implements ModelLoader.
func (ml MultiLoader) Load(ctx context.Context, name string) (*markov.TextModel, error) {
	for _, l := range ml {
		m, err := l.Load(ctx, name)
		if err == nil {
			return m, nil
		}
		if !errors.Is(err, ErrModelNotFound) && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
}

// LoadModel loads every source of cfg and merges them with their weights.
// The merged model carries keywords for logging.
func LoadModel(ctx context.Context, loader ModelLoader, cfg ModelConfig, keywords []string) (*markov.TextModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	models := make([]*markov.TextModel, 0, len(cfg.Sources))
	for _, source := range cfg.Sources {
		m, err := loader.Load(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("could not load model source %q: %w", source, err)
		}
		models = append(models, m)
	}

	combined, err := markov.CombineText(models, cfg.Weights)
	if err != nil {
		return nil, err
	}
	combined.Keywords = keywords
	return combined, nil
}
