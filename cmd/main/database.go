package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/Haikoo/pkg/markov"
)

// openStore opens the SQLite database at path, creates every schema the
// binary uses and returns the model store over it.
func openStore(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, *markov.Store, error) {
	file := path
	if i := strings.IndexByte(file, '?'); i >= 0 {
		file = file[:i]
	}
	if dir := filepath.Dir(file); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := initDB(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err = db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err = markov.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to setup markov schema: %w", err)
	}
	if err = setupAuthSchema(db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to setup auth schema: %w", err)
	}

	store, err := markov.NewStore(db, markov.NewDefaultTokenizer())
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("error creating markov store: %w", err)
	}
	store.SetLogger(logger)
	logger.DebugContext(ctx, "Database opened", slog.String("path", file), slog.String("driver", sqliteDriver))
	return db, store, nil
}
