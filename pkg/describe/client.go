package describe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// KeyHeader carries the subscription key.
	KeyHeader = "Ocp-Apim-Subscription-Key"
	// DefaultTimeout bounds a single describe request.
	DefaultTimeout = 30 * time.Second
	// maxImageBytes is the largest image the service accepts.
	maxImageBytes = 4 << 20
)

// ErrService is returned when the tagging service answers with an error.
var ErrService = errors.New("describe service error")

// Cache stores descriptions by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool, error)
	Set(ctx context.Context, key string, tags []string) error
}

// Client describes images with a remote tagging service.
type Client struct {
	key           string
	endpoint      string
	proxyAddr     string
	language      string
	maxCandidates int
	httpClient    *http.Client
	cache         Cache
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the describe URL derived from the region.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithHTTPClient sets the HTTP client. It takes precedence over WithProxy.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithProxy routes requests through a proxy. socks5:// and socks:// addresses
// use a SOCKS dialer, http:// and https:// addresses an HTTP proxy.
func WithProxy(addr string) Option {
	return func(c *Client) {
		c.proxyAddr = addr
	}
}

// WithCache caches descriptions of image bytes.
func WithCache(cache Cache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithLanguage sets the tag language. Default: "en"
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// WithLogger sets the logger. By default, all logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Endpoint returns the describe URL of a region.
func Endpoint(region string) string {
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com/vision/v2.0/describe", region)
}

// NewClient creates a Client for the given subscription key and region.
func NewClient(key, region string, opts ...Option) (*Client, error) {
	c := &Client{
		key:           key,
		language:      "en",
		maxCandidates: 1,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.key == "" {
		return nil, errors.New("describe: a subscription key is required")
	}
	if c.endpoint == "" {
		if region == "" {
			return nil, errors.New("describe: a region or endpoint is required")
		}
		c.endpoint = Endpoint(region)
	}
	if c.httpClient == nil {
		transport, err := newTransport(c.proxyAddr)
		if err != nil {
			return nil, err
		}
		c.httpClient = &http.Client{Transport: transport, Timeout: DefaultTimeout}
	}
	return c, nil
}

// newTransport builds a transport that dials through addr, if set.
func newTransport(addr string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if addr == "" {
		return transport, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("describe: invalid proxy address: %w", err)
	}
	if u.Scheme == "socks" {
		u.Scheme = "socks5"
	}

	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	default:
		direct := &net.Dialer{Timeout: DefaultTimeout}
		dialer, err := proxy.FromURL(u, direct)
		if err != nil {
			return nil, fmt.Errorf("describe: unsupported proxy %q: %w", addr, err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, address string) (net.Conn, error) {
				return dialer.Dial(network, address)
			}
		}
	}
	return transport, nil
}

// Describe returns the tags of the image file at imagePath.
func (c *Client) Describe(ctx context.Context, imagePath string) ([]string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	return c.DescribeBytes(ctx, data)
}

// DescribeBytes returns the tags of an encoded image. Answers are cached by
// the SHA-256 of the bytes when a cache is configured.
func (c *Client) DescribeBytes(ctx context.Context, data []byte) ([]string, error) {
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("describe: image is %d bytes, limit is %d", len(data), maxImageBytes)
	}

	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	if tags, ok := c.cached(ctx, key); ok {
		return tags, nil
	}

	tags, err := c.post(ctx, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, tags)
	return tags, nil
}

// DescribeURL asks the service to fetch and describe the image at imageURL.
func (c *Client) DescribeURL(ctx context.Context, imageURL string) ([]string, error) {
	body, err := json.Marshal(map[string]string{"url": imageURL})
	if err != nil {
		return nil, err
	}
	return c.post(ctx, "application/json", bytes.NewReader(body))
}

type describeResponse struct {
	Description struct {
		Tags     []string `json:"tags"`
		Captions []struct {
			Text       string  `json:"text"`
			Confidence float64 `json:"confidence"`
		} `json:"captions"`
	} `json:"description"`
}

type serviceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, contentType string, body io.Reader) ([]string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("describe: invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("maxCandidates", fmt.Sprint(c.maxCandidates))
	q.Set("language", c.language)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(KeyHeader, c.key)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("describe: request failed: %w", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("describe: could not read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseServiceError(resp.StatusCode, data)
	}

	var parsed describeResponse
	if err = json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("describe: invalid response: %w", err)
	}

	attrs := []any{
		slog.Int("tags", len(parsed.Description.Tags)),
		slog.Duration("elapsed", time.Since(start)),
	}
	if len(parsed.Description.Captions) > 0 {
		attrs = append(attrs, slog.String("caption", parsed.Description.Captions[0].Text))
	}
	c.logger.DebugContext(ctx, "Image described", attrs...)

	if parsed.Description.Tags == nil {
		return []string{}, nil
	}
	return parsed.Description.Tags, nil
}

func parseServiceError(status int, data []byte) error {
	var se serviceError
	if json.Unmarshal(data, &se) == nil {
		code, msg := se.Code, se.Message
		if se.Error != nil {
			code, msg = se.Error.Code, se.Error.Message
		}
		if msg != "" {
			return fmt.Errorf("%w: %d %s: %s", ErrService, status, code, msg)
		}
	}
	return fmt.Errorf("%w: status %d", ErrService, status)
}

func (c *Client) cached(ctx context.Context, key string) ([]string, bool) {
	if c.cache == nil {
		return nil, false
	}
	tags, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.WarnContext(ctx, "Description cache read failed", slog.String("error", err.Error()))
		return nil, false
	}
	return tags, ok
}

func (c *Client) store(ctx context.Context, key string, tags []string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, key, tags); err != nil {
		c.logger.WarnContext(ctx, "Description cache write failed", slog.String("error", err.Error()))
	}
}
