package config

import (
	"time"
)

// Config is the top-level configuration parsed from writefactory YAML.
type Config struct {
	Server    ServerConfig             `yaml:"server"`
	Log       LogConfig                `yaml:"log"`
	Storage   StorageConfig            `yaml:"storage"`
	Cache     CacheConfig              `yaml:"cache"`
	Retry     RetryConfig              `yaml:"retry"`
	Pool      PoolConfig               `yaml:"pool"`
	Pipeline  PipelineConfig           `yaml:"pipeline"`
	Templates string                   `yaml:"templates"` // prompt template override directory
	Providers []ProviderConfig         `yaml:"providers"`
	Profiles  map[string]ProfileConfig `yaml:"profiles"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
	EventGrace      string `yaml:"event_grace"` // how long finished runs stay replayable
}

// LogConfig configures zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
	Output string `yaml:"output"` // stderr, stdout or a file path
}

// StorageConfig selects where finished runs are saved.
type StorageConfig struct {
	Dir         string `yaml:"dir"`
	DatabaseURL string `yaml:"database_url"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	Capacity    int    `yaml:"capacity"`
	TTL         string `yaml:"ttl"`
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// RetryConfig configures backoff for transient provider failures.
type RetryConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	BaseDelay   string `yaml:"base_delay"`
	MaxDelay    string `yaml:"max_delay"`
	Jitter      *bool  `yaml:"jitter"`
}

// PoolConfig configures provider circuit breaking.
type PoolConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	Cooldown         string `yaml:"cooldown"`
}

// PipelineConfig configures step execution.
type PipelineConfig struct {
	Concurrency int          `yaml:"concurrency"`
	Images      ImagesConfig `yaml:"images"`
}

// ImagesConfig toggles the article image steps.
type ImagesConfig struct {
	Enabled bool `yaml:"enabled"`
	Max     int  `yaml:"max"`
}

// ProviderConfig declares one provider instance.
type ProviderConfig struct {
	ID         string            `yaml:"id"`
	Kind       string            `yaml:"kind"`
	Capability string            `yaml:"capability"`
	Model      string            `yaml:"model"`
	Weight     float64           `yaml:"weight"`
	APIKey     string            `yaml:"api_key"`
	BaseURL    string            `yaml:"base_url"`
	Params     map[string]string `yaml:"params"`
}

// ProfileConfig is a client profile.
type ProfileConfig struct {
	Tone           string            `yaml:"tone"`
	ChannelName    string            `yaml:"channel_name"`
	PresenterNames []string          `yaml:"presenter_names"`
	Images         *bool             `yaml:"images"`
	MaxImages      int               `yaml:"max_images"`
	Preferences    map[string]string `yaml:"preferences"` // step or capability -> provider id
}

// duration parses s, falling back to def when s is empty or invalid.
// Validate reports invalid values.
func duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func (c ServerConfig) ShutdownTimeoutDuration() time.Duration {
	return duration(c.ShutdownTimeout, 10*time.Second)
}

func (c ServerConfig) EventGraceDuration() time.Duration {
	return duration(c.EventGrace, 5*time.Minute)
}

func (c CacheConfig) TTLDuration() time.Duration {
	return duration(c.TTL, 24*time.Hour)
}

func (c PoolConfig) CooldownDuration() time.Duration {
	return duration(c.Cooldown, time.Minute)
}
