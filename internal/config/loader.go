package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const configPathEnvVar = "AGENT_CONFIG_PATH"

// Loader assembles a Config from layered sources: defaults, then an
// optional YAML file, then environment variables (highest precedence).
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
}

// NewLoader builds a Loader with the default config file search paths.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"agent.yaml",
			"config/agent.yaml",
			"/etc/titancompute/agent.yaml",
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths overrides the YAML file search paths.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) { l.configPaths = paths }
}

// Load returns the assembled, validated Config.
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := &Config{
		AgentID:             l.k.String("agent_id"),
		CoordinatorEndpoint: l.k.String("coordinator_endpoint"),
		PublicHost:          l.k.String("public_host"),
		AgentPort:           l.k.Int("agent_port"),
		BackendURL:          l.k.String("ollama_host"),
		MaxConcurrentJobs:   l.k.Int("max_concurrent_jobs"),
		SupportedModels:     splitModels(l.k.String("supported_models")),
		HeartbeatInterval:   l.k.Duration("heartbeat_interval"),
		LogLevel:            l.k.String("log_level"),
		LogFormat:           l.k.String("log_format"),
		MetricsEnabled:      l.k.Bool("metrics_enabled"),
		MetricsPort:         l.k.Int("metrics_port"),
		TracingEnabled:      l.k.Bool("tracing_enabled"),
		TracingEndpoint:     l.k.String("tracing_endpoint"),
		TracingSampleRate:   l.k.Float64("tracing_sample_rate"),
		CacheBackend:        l.k.String("cache_backend"),
		CacheRedisAddr:      l.k.String("cache_redis_addr"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		"agent_id":             "",
		"coordinator_endpoint": "",
		"public_host":          "",
		"agent_port":           7400,
		"ollama_host":          "http://localhost:11434",
		"max_concurrent_jobs":  4,
		"supported_models":     "",
		"heartbeat_interval":   15 * time.Second,

		"log_level":  "info",
		"log_format": "json",

		"metrics_enabled": true,
		"metrics_port":    9090,

		"tracing_enabled":     false,
		"tracing_endpoint":    "localhost:4317",
		"tracing_sample_rate": 0.1,

		"cache_backend":    "memory",
		"cache_redis_addr": "localhost:6379",
	}
	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

func (l *Loader) loadConfigFile() error {
	if path := os.Getenv(configPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return l.k.Load(file.Provider(path), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		if _, err := os.Stat(path); err == nil {
			return l.k.Load(file.Provider(path), yaml.Parser())
		}
	}
	return fmt.Errorf("agent config file not found in paths: %v", l.configPaths)
}

func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil)
}

func splitModels(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MustLoad loads the config or panics — used by cmd/agent at startup,
// where a config error is fatal before logging is even configured.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load agent config: %v", err))
	}
	return cfg
}
