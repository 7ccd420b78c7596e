package haiku

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/CTAG07/Haikoo/pkg/markov"
	"github.com/CTAG07/Haikoo/pkg/render"
	"github.com/CTAG07/Haikoo/pkg/syllable"
)

const (
	// HaikuSyllables is the syllable total of a 5-7-5 haiku.
	HaikuSyllables = 17
	// SyllableTolerance is how far an attempt may miss HaikuSyllables and
	// still be accepted without a retry.
	SyllableTolerance = 2
	// MinKeywords is the fewest keywords a generation accepts.
	MinKeywords = 3
	// DefaultMaxRetries bounds the retries of a single generation.
	DefaultMaxRetries = 5
	// DefaultMaxDownloadBytes caps the size of an image fetched from a URL.
	DefaultMaxDownloadBytes = 10 << 20
	// DefaultDownloadTimeout bounds a URL fetch when no client is given.
	DefaultDownloadTimeout = 30 * time.Second
	// ErrorHaiku is rendered in place of a haiku when generation fails.
	ErrorHaiku = "an error occurs\nas frustrated you may be\nmy heart weeps more so"
)

// lineBudgets are the syllable budgets of the two generated lines. The first
// line is split into the haiku's first two lines.
var lineBudgets = [2]int{12, 5}

// KeywordSource describes an image as an ordered list of keywords.
type KeywordSource interface {
	Describe(ctx context.Context, imagePath string) ([]string, error)
}

// Renderer draws haiku text over an image. render.Renderer satisfies it.
type Renderer interface {
	Render(inPath, outPath, text string) error
	RenderBlank(outPath, text string) error
}

// Text is a composed haiku.
type Text struct {
	// Lines holds the three lower-cased lines.
	Lines []string
	// Keywords holds one slot per generated line, nil for a line that was
	// not seeded by a keyword.
	Keywords []*string
	// Syllables is the estimated total of the accepted attempt.
	Syllables int
	// Attempts counts the attempts made, retries included.
	Attempts int
}

func (t Text) String() string {
	return strings.Join(t.Lines, "\n")
}

// Generator creates haiku from images. It is safe for concurrent use.
type Generator struct {
	source     KeywordSource
	loader     ModelLoader
	config     ModelConfig
	maxRetries int
	renderer   Renderer
	client     *http.Client
	maxBytes   int64
	logger     *slog.Logger
	metrics    *Metrics

	mu    sync.Mutex
	rng   *rand.Rand
	model *markov.TextModel
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxRetries sets how many times an attempt that misses the syllable
// target is retried. Default: 5
func WithMaxRetries(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// WithRand sets the random source every generation derives its own from.
// A fixed-seed source makes output reproducible.
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) {
		if rng != nil {
			g.rng = rng
		}
	}
}

// WithSeed is WithRand with a PCG source seeded by seed.
func WithSeed(seed uint64) Option {
	return WithRand(rand.New(rand.NewPCG(seed, seed)))
}

// WithLogger sets the logger. By default, all logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics sets the collectors updated by the generator.
func WithMetrics(m *Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// WithRenderer sets the image renderer. Default: render.New()
func WithRenderer(r Renderer) Option {
	return func(g *Generator) {
		if r != nil {
			g.renderer = r
		}
	}
}

// WithHTTPClient sets the client used to download URL inputs.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Generator) {
		if c != nil {
			g.client = c
		}
	}
}

// WithMaxDownloadBytes caps the size of images fetched from URL inputs.
// Default: DefaultMaxDownloadBytes
func WithMaxDownloadBytes(n int64) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxBytes = n
		}
	}
}

// WithModel uses m instead of loading the configured sources.
func WithModel(m *markov.TextModel) Option {
	return func(g *Generator) {
		g.model = m
	}
}

// NewGenerator creates a Generator that describes images with source and
// loads the models of cfg through loader on first use.
func NewGenerator(source KeywordSource, loader ModelLoader, cfg ModelConfig, opts ...Option) (*Generator, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: a keyword source is required", ErrValidation)
	}
	g := &Generator{
		source:     source,
		loader:     loader,
		config:     cfg,
		maxRetries: DefaultMaxRetries,
		client:     &http.Client{Timeout: DefaultDownloadTimeout},
		maxBytes:   DefaultMaxDownloadBytes,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		rng:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.model == nil {
		if g.loader == nil {
			return nil, fmt.Errorf("%w: a model loader is required", ErrValidation)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if g.renderer == nil {
		g.renderer = render.New()
	}
	return g, nil
}

// Model returns the merged model, loading it on first use.
func (g *Generator) Model(ctx context.Context) (*markov.TextModel, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.model != nil {
		return g.model, nil
	}
	m, err := LoadModel(ctx, g.loader, g.config, nil)
	if err != nil {
		return nil, err
	}
	g.model = m
	g.logger.InfoContext(ctx, "Model loaded",
		slog.Any("sources", g.config.Sources),
		slog.Int("states", m.Table().Len()),
	)
	return m, nil
}

// Reload drops the cached model so the next generation loads it again.
func (g *Generator) Reload() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loader != nil {
		g.model = nil
	}
}

// nextRand derives an independent source for one generation.
func (g *Generator) nextRand() *rand.Rand {
	g.mu.Lock()
	defer g.mu.Unlock()
	return rand.New(rand.NewPCG(g.rng.Uint64(), g.rng.Uint64()))
}

// CreateText describes the image at imagePath and composes a haiku from the
// keywords.
func (g *Generator) CreateText(ctx context.Context, imagePath string) (Text, error) {
	keywords, err := g.source.Describe(ctx, imagePath)
	if err != nil {
		return Text{}, fmt.Errorf("could not describe image: %w", err)
	}
	if len(keywords) < MinKeywords {
		return Text{}, fmt.Errorf("%w: description needs at least %d keywords, got %d", ErrValidation, MinKeywords, len(keywords))
	}

	model, err := g.Model(ctx)
	if err != nil {
		return Text{}, err
	}
	return g.Compose(ctx, model, keywords)
}

// Compose writes a haiku from model seeded by keywords. Attempts that miss
// 17 syllables by more than the tolerance are retried up to the configured
// limit; the last attempt is accepted regardless.
func (g *Generator) Compose(ctx context.Context, model *markov.TextModel, keywords []string) (Text, error) {
	if len(keywords) < MinKeywords {
		return Text{}, fmt.Errorf("%w: need at least %d keywords, got %d", ErrValidation, MinKeywords, len(keywords))
	}
	rng := g.nextRand()

	for attempt := 0; ; attempt++ {
		lines, used, total, err := writeLines(rng, model, keywords)
		if err != nil {
			return Text{}, err
		}
		g.logger.DebugContext(ctx, "Haiku attempt",
			slog.Int("attempt", attempt),
			slog.Any("keywords", derefAll(used)),
			slog.Int("syllables", total),
		)

		miss := total - HaikuSyllables
		if miss < 0 {
			miss = -miss
		}
		if miss <= SyllableTolerance || attempt >= g.maxRetries {
			g.metrics.accepted(total)
			return Text{
				Lines:     assemble(lines),
				Keywords:  used,
				Syllables: total,
				Attempts:  attempt + 1,
			}, nil
		}
		g.metrics.retried()
	}
}

// writeLines makes the two budgeted lines, seeding each with the next keyword
// that yields a sentence. Lines the keywords cannot seed are made from the
// begin state.
func writeLines(rng *rand.Rand, model *markov.TextModel, keywords []string) ([]string, []*string, int, error) {
	lines := make([]string, 0, len(lineBudgets))
	used := make([]*string, 0, len(lineBudgets))
	total := 0

	for _, word := range keywords {
		sentence, walk, err := model.MakeSentenceWithStart(rng, word, markov.WithBudget(lineBudgets[len(lines)]))
		if err != nil {
			if isNoSentence(err) {
				continue
			}
			return nil, nil, 0, err
		}
		lines = append(lines, sentence)
		used = append(used, &word)
		total += walk.Syllables
		if len(lines) == len(lineBudgets) {
			return lines, used, total, nil
		}
	}

	for len(lines) < len(lineBudgets) {
		sentence, walk, err := model.MakeSentence(rng, markov.WithBudget(lineBudgets[len(lines)]))
		if err != nil {
			if isNoSentence(err) {
				return nil, nil, 0, fmt.Errorf("%w: model produced no sentence for line %d", ErrGeneration, len(lines)+1)
			}
			return nil, nil, 0, err
		}
		lines = append(lines, sentence)
		used = append(used, nil)
		total += walk.Syllables
	}
	return lines, used, total, nil
}

// assemble splits the first line at five syllables, marks the end of the
// second line, and strips punctuation from the closing line.
func assemble(lines []string) []string {
	first, second := syllable.SplitSentence(lines[0], 5)
	out := []string{
		first,
		second + " --",
		syllable.RemovePunctuation(lines[1]),
	}
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// CreateImage creates a haiku for the image at input, which may be a local
// path or an http(s) URL, and renders it over the image at out. On failure
// the error haiku is rendered on a blank image instead and the Result carries
// the error message.
func (g *Generator) CreateImage(ctx context.Context, input, out string) *Result {
	result, err := g.createImage(ctx, input, out)
	if err == nil {
		g.metrics.generated("success")
		return result
	}

	g.logger.ErrorContext(ctx, "Error generating haikoo image",
		slog.String("input", input),
		slog.String("error", err.Error()),
	)
	g.metrics.generated("error")

	msg := err.Error()
	result = &Result{
		Text:         ErrorHaiku,
		Image:        absPath(out),
		ErrorMessage: &msg,
	}
	if rerr := g.renderer.RenderBlank(out, ErrorHaiku); rerr != nil {
		g.logger.ErrorContext(ctx, "Error rendering error image", slog.String("error", rerr.Error()))
		result.Image = ""
	}
	return result
}

func (g *Generator) createImage(ctx context.Context, input, out string) (*Result, error) {
	imagePath := input
	if isURL(input) {
		downloaded, err := g.download(ctx, input)
		if err != nil {
			return nil, err
		}
		defer func(name string) {
			_ = os.Remove(name)
		}(downloaded)
		imagePath = downloaded
	}

	text, err := g.CreateText(ctx, imagePath)
	if err != nil {
		return nil, err
	}
	if err = g.renderer.Render(imagePath, out, text.String()); err != nil {
		return nil, fmt.Errorf("could not render haiku: %w", err)
	}

	g.logger.InfoContext(ctx, "Haiku created",
		slog.String("input", input),
		slog.String("output", out),
		slog.Any("keywords", derefAll(text.Keywords)),
		slog.Int("syllables", text.Syllables),
		slog.Int("attempts", text.Attempts),
	)
	return &Result{
		Text:     text.String(),
		Keywords: text.Keywords,
		Image:    absPath(out),
	}, nil
}

// download fetches url into a temporary file and returns its path.
func (g *Generator) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("could not download image: %w", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("could not download image: %s", resp.Status)
	}

	f, err := os.CreateTemp("", "haikoo-*"+path.Ext(req.URL.Path))
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, g.maxBytes+1))
	if err == nil && n > g.maxBytes {
		err = fmt.Errorf("image is larger than %d bytes", g.maxBytes)
	}
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("could not download image: %w", err)
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isNoSentence(err error) bool {
	return errors.Is(err, markov.ErrNoSentence)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func derefAll(words []*string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		if w != nil {
			out[i] = *w
		}
	}
	return out
}

// KeywordSourceFunc adapts a function to KeywordSource.
type KeywordSourceFunc func(ctx context.Context, imagePath string) ([]string, error)

// Describe implements KeywordSource.
func (f KeywordSourceFunc) Describe(ctx context.Context, imagePath string) ([]string, error) {
	return f(ctx, imagePath)
}
