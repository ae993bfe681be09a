package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// ${VAR} references are expanded from the environment before parsing, and
// defaults are applied afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault loads explicit when set. Otherwise it searches
// ./writefactory.yaml and ~/.writefactory/config.yaml, and returns the
// built-in defaults when neither exists.
func LoadDefault(explicit string) (*Config, string, error) {
	if explicit != "" {
		cfg, err := Load(explicit)
		return cfg, explicit, err
	}
	candidates := []string{"writefactory.yaml"}
	if dir, err := HomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	return Default(), "", nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadDotEnv loads KEY=value pairs from the given files (default ".env")
// into the environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// HomeDir returns ~/.writefactory.
func HomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".writefactory"), nil
}

// applyDefaults fills every unset field.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stderr"
	}
	if cfg.Storage.Dir == "" {
		if dir, err := HomeDir(); err == nil {
			cfg.Storage.Dir = dir
		} else {
			cfg.Storage.Dir = ".writefactory"
		}
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = 1024
	}
	if cfg.Cache.TTL == "" {
		cfg.Cache.TTL = "24h"
	}
	if cfg.Cache.RedisPrefix == "" {
		cfg.Cache.RedisPrefix = "writefactory:cache:"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BaseDelay == "" {
		cfg.Retry.BaseDelay = "2s"
	}
	if cfg.Retry.MaxDelay == "" {
		cfg.Retry.MaxDelay = "60s"
	}
	if cfg.Retry.Jitter == nil {
		on := true
		cfg.Retry.Jitter = &on
	}
	if cfg.Pool.FailureThreshold == 0 {
		cfg.Pool.FailureThreshold = 3
	}
	if cfg.Pool.Cooldown == "" {
		cfg.Pool.Cooldown = "60s"
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 4
	}
	if cfg.Pipeline.Images.Max == 0 {
		cfg.Pipeline.Images.Max = 4
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = []ProviderConfig{
			{ID: "offline", Kind: "offline", Capability: "text"},
			{ID: "offline-image", Kind: "offline", Capability: "image"},
		}
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Weight == 0 {
			p.Weight = 1
		}
		if p.Capability == "" {
			if caps := providerCapabilities(p.Kind); len(caps) > 0 {
				p.Capability = string(caps[0])
			}
		}
	}
}
