package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/CTAG07/Haikoo/pkg/markov"
)

// Every word has a one-syllable successor, so budgeted walks land exactly.
const riverCorpus = `river stone wind pond cold moon river.
stone wind river moon pond cold stone.
wind pond moon cold river stone wind.`

type testEnv struct {
	dir        string
	cm         *ConfigManager
	haikoo     *Haikoo
	server     *Server
	handler    http.Handler
	actionChan chan string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeTestConfig writes a configuration rooted at dir whose generator uses
// the "river" model.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Server.DatabasePath = filepath.Join(dir, "haikoo.db")
	cfg.Server.OutputDir = filepath.Join(dir, "images")
	cfg.Server.DataDir = dir
	cfg.Generator.Model = "river"
	cfg.Generator.ModelsDir = filepath.Join(dir, "models")
	cfg.Generator.Seed = 42

	path := filepath.Join(dir, "config.json")
	data, err := marshalConfig(path, cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// trainRiver stores the river corpus as the model "river".
func trainRiver(t *testing.T, dbPath string) {
	t.Helper()
	ctx := context.Background()
	db, store, err := openStore(ctx, dbPath, discardLogger())
	require.NoError(t, err)
	defer func() {
		store.Close()
		_ = db.Close()
	}()

	model := markov.ModelInfo{Name: "river", StateSize: 1, Retain: false}
	require.NoError(t, store.InsertModel(ctx, model))
	model, err = store.GetModelInfo(ctx, "river")
	require.NoError(t, err)
	require.NoError(t, store.Train(ctx, model, strings.NewReader(riverCorpus)))
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(envDescriberKey, "")
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	cm.SetLogger(discardLogger())
	cfg := cm.Get()
	trainRiver(t, cfg.Server.DatabasePath)

	reg := prometheus.NewRegistry()
	h, err := NewHaikoo(context.Background(), cfg, discardLogger(), reg, nil)
	require.NoError(t, err)
	t.Cleanup(h.Close)

	actionChan := make(chan string, 1)
	server := NewServer(cm, h, discardLogger(), reg, actionChan)
	return &testEnv{
		dir:        dir,
		cm:         cm,
		haikoo:     h,
		server:     server,
		handler:    server.Handler(),
		actionChan: actionChan,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 0x20, G: 0x60, B: 0x40, A: 0xff})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
