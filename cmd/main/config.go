package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/CTAG07/Haikoo/pkg/haiku"
	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// envDescriberKey overrides DescriberConfig.Key when set.
const envDescriberKey = "HAIKOO_CV_KEY"

// ServerConfig holds the configuration for the HTTP API and local storage.
type ServerConfig struct {
	ApiAddr        string   `json:"api_addr" yaml:"api_addr"`
	LogLevel       string   `json:"log_level" yaml:"log_level"`
	LogFile        string   `json:"log_file" yaml:"log_file"`
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`
	DataDir        string   `json:"data_dir" yaml:"data_dir"`
	DatabasePath   string   `json:"database_path" yaml:"database_path"`
	OutputDir      string   `json:"output_dir" yaml:"output_dir"`
	MaxUploadBytes int64    `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// GeneratorConfig holds the haiku generator settings.
type GeneratorConfig struct {
	// Model is a preset name or the name of a single model source.
	Model      string `json:"model" yaml:"model"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
	// Seed fixes the random source when non-zero.
	Seed      uint64 `json:"seed" yaml:"seed"`
	ModelsDir string `json:"models_dir" yaml:"models_dir"`
}

// CacheConfig holds the Redis description cache settings. An empty
// RedisAddr disables the cache.
type CacheConfig struct {
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	TTLSeconds    int    `json:"ttl_seconds" yaml:"ttl_seconds"`
}

// DescriberConfig holds the image-tagging service settings.
type DescriberConfig struct {
	Key      string       `json:"cv_key" yaml:"cv_key"`
	Region   string       `json:"cv_region" yaml:"cv_region"`
	Endpoint string       `json:"endpoint" yaml:"endpoint"`
	Language string       `json:"language" yaml:"language"`
	Proxy    string       `json:"proxy" yaml:"proxy"`
	Cache    *CacheConfig `json:"cache" yaml:"cache"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig    `json:"server_config" yaml:"server_config"`
	Generator *GeneratorConfig `json:"generator_config" yaml:"generator_config"`
	Describer *DescriberConfig `json:"describer_config" yaml:"describer_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ApiAddr:        ":7278",
		LogLevel:       "info",
		LogFile:        "",
		TrustedProxies: []string{},
		DataDir:        "./data",
		DatabasePath:   "./data/haikoo.db",
		OutputDir:      "./data/images",
		MaxUploadBytes: 10 << 20,
	}
}

// DefaultGeneratorConfig creates a generator configuration with default values.
func DefaultGeneratorConfig() *GeneratorConfig {
	return &GeneratorConfig{
		Model:      haiku.DefaultPreset,
		MaxRetries: haiku.DefaultMaxRetries,
		ModelsDir:  "./data/models",
	}
}

// DefaultDescriberConfig creates a describer configuration with default values.
func DefaultDescriberConfig() *DescriberConfig {
	return &DescriberConfig{
		Region:   "westus",
		Language: "en",
		Cache: &CacheConfig{
			TTLSeconds: 86400,
		},
	}
}

// DefaultConfig returns a complete configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Generator: DefaultGeneratorConfig(),
		Describer: DefaultDescriberConfig(),
	}
}

// DescriberKey returns the service key, preferring the environment.
func (c *Config) DescriberKey() string {
	if key := os.Getenv(envDescriberKey); key != "" {
		return key
	}
	return c.Describer.Key
}

// Validate checks the settings that cannot fall back to a default.
func (c *Config) Validate() error {
	if c.Server == nil || c.Generator == nil || c.Describer == nil {
		return fmt.Errorf("%w: missing configuration section", haiku.ErrValidation)
	}
	if c.Generator.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", haiku.ErrValidation)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: max_upload_bytes must be positive", haiku.ErrValidation)
	}
	return haiku.ResolveConfig(c.Generator.Model).Validate()
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// LoadConfig reads the configuration from a JSON or YAML file at the given
// path. If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The defaults still work without a file.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = unmarshalConfig(path, file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	// Sections missing from the file keep their defaults.
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Generator == nil {
		config.Generator = DefaultGeneratorConfig()
	}
	if config.Describer == nil {
		config.Describer = DefaultDescriberConfig()
	}
	if err = config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// ConfigManager handles thread-safe access to configuration and derived state (trusted proxies).
type ConfigManager struct {
	config       *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Path returns the file the configuration is persisted to.
func (cm *ConfigManager) Path() string {
	return cm.configPath
}

// Get returns a copy of the current configuration. The sections are copied
// too, so callers may modify the result freely.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	server := *cm.config.Server
	server.TrustedProxies = append([]string(nil), server.TrustedProxies...)
	generator := *cm.config.Generator
	describer := *cm.config.Describer
	if describer.Cache != nil {
		cache := *describer.Cache
		describer.Cache = &cache
	}
	return Config{Server: &server, Generator: &generator, Describer: &describer}
}

// Update validates the configuration, saves it to disk, and refreshes derived state.
func (cm *ConfigManager) Update(newConfig Config) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := marshalConfig(cm.configPath, &newConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	*cm.config = newConfig
	cm.refreshCache()
	return nil
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}

	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}

	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
		} else {
			ip := net.ParseIP(t)
			if ip != nil {
				ips = append(ips, ip)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
			}
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}
