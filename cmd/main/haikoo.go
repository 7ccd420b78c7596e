package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/CTAG07/Haikoo/pkg/describe"
	"github.com/CTAG07/Haikoo/pkg/haiku"
	"github.com/CTAG07/Haikoo/pkg/markov"
	"github.com/prometheus/client_golang/prometheus"
)

// errNoDescriber is returned by the keyword source used when no service key
// is configured.
var errNoDescriber = errors.New("no image describer configured: set describer_config.cv_key or " + envDescriberKey)

// Haikoo bundles the long-lived dependencies shared by the CLI commands and
// the API server.
type Haikoo struct {
	config    Config
	logger    *slog.Logger
	db        *sql.DB
	store     *markov.Store
	cache     *describe.RedisCache
	metrics   *haiku.Metrics
	generator *haiku.Generator
}

// NewHaikoo opens the database and builds the generator described by cfg.
// A non-empty keywords list replaces the image describer. reg may be nil.
func NewHaikoo(ctx context.Context, cfg Config, logger *slog.Logger, reg prometheus.Registerer, keywords []string) (*Haikoo, error) {
	db, store, err := openStore(ctx, cfg.Server.DatabasePath, logger)
	if err != nil {
		return nil, err
	}

	h := &Haikoo{
		config:  cfg,
		logger:  logger,
		db:      db,
		store:   store,
		metrics: haiku.NewMetrics(reg),
	}

	var source haiku.KeywordSource
	if len(keywords) > 0 {
		source = describe.Static(keywords)
	} else {
		source, err = h.newDescriber(ctx)
		if err != nil {
			h.Close()
			return nil, err
		}
	}

	opts := []haiku.Option{
		haiku.WithLogger(logger),
		haiku.WithMetrics(h.metrics),
		haiku.WithMaxRetries(cfg.Generator.MaxRetries),
		haiku.WithMaxDownloadBytes(cfg.Server.MaxUploadBytes),
	}
	if cfg.Generator.Seed != 0 {
		opts = append(opts, haiku.WithSeed(cfg.Generator.Seed))
	}

	h.generator, err = haiku.NewGenerator(source, h.Loader(), haiku.ResolveConfig(cfg.Generator.Model), opts...)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}
	return h, nil
}

// Loader returns the model loader: models stored in the database first,
// then model files under the configured models directory.
func (h *Haikoo) Loader() haiku.ModelLoader {
	return haiku.MultiLoader{
		h.store,
		haiku.DirLoader{Dir: h.config.Generator.ModelsDir},
	}
}

// newDescriber builds the image-tagging client, or a source that always
// fails when no key is configured so the server can still start.
func (h *Haikoo) newDescriber(ctx context.Context) (haiku.KeywordSource, error) {
	key := h.config.DescriberKey()
	if key == "" {
		h.logger.WarnContext(ctx, "No describer key configured, image descriptions will fail")
		return haiku.KeywordSourceFunc(func(context.Context, string) ([]string, error) {
			return nil, errNoDescriber
		}), nil
	}

	dc := h.config.Describer
	opts := []describe.Option{describe.WithLogger(h.logger)}
	if dc.Endpoint != "" {
		opts = append(opts, describe.WithEndpoint(dc.Endpoint))
	}
	if dc.Language != "" {
		opts = append(opts, describe.WithLanguage(dc.Language))
	}
	if dc.Proxy != "" {
		opts = append(opts, describe.WithProxy(dc.Proxy))
	}
	if dc.Cache != nil && dc.Cache.RedisAddr != "" {
		h.cache = describe.NewRedisCache(dc.Cache.RedisAddr, dc.Cache.RedisPassword, dc.Cache.RedisDB,
			describe.WithTTL(time.Duration(dc.Cache.TTLSeconds)*time.Second))
		if err := h.cache.Ping(ctx); err != nil {
			// Descriptions still work uncached.
			h.logger.WarnContext(ctx, "Description cache unreachable", slog.String("addr", dc.Cache.RedisAddr), slog.String("error", err.Error()))
		}
		opts = append(opts, describe.WithCache(h.cache))
	}

	client, err := describe.NewClient(key, dc.Region, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create describer: %w", err)
	}
	return client, nil
}

// Generator returns the shared haiku generator.
func (h *Haikoo) Generator() *haiku.Generator {
	return h.generator
}

// WithKeywords returns a generator that uses keywords instead of describing
// the image. It shares the merged model of the main generator.
func (h *Haikoo) WithKeywords(ctx context.Context, keywords []string) (*haiku.Generator, error) {
	model, err := h.generator.Model(ctx)
	if err != nil {
		return nil, err
	}
	return haiku.NewGenerator(describe.Static(keywords), nil, haiku.ModelConfig{},
		haiku.WithModel(model),
		haiku.WithLogger(h.logger),
		haiku.WithMetrics(h.metrics),
		haiku.WithMaxRetries(h.config.Generator.MaxRetries),
		haiku.WithMaxDownloadBytes(h.config.Server.MaxUploadBytes),
	)
}

// Close releases the cache connection, the model store, and the database.
func (h *Haikoo) Close() {
	if h.cache != nil {
		if err := h.cache.Close(); err != nil {
			h.logger.Error("Failed to close description cache", "error", err)
		}
	}
	if h.store != nil {
		h.store.Close()
	}
	if h.db != nil {
		if err := h.db.Close(); err != nil {
			h.logger.Error("Failed to close database", "error", err)
		}
	}
}
