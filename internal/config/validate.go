package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/writefactory/internal/pipeline"
	"github.com/lucasnoah/writefactory/internal/provider"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	recognizedLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	recognizedFormats = map[string]bool{"console": true, "json": true}
)

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !recognizedLevels[cfg.Log.Level] {
		add("log.level", "unrecognized level %q", cfg.Log.Level)
	}
	if !recognizedFormats[cfg.Log.Format] {
		add("log.format", "unrecognized format %q", cfg.Log.Format)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		add("server.port", "out of range: %d", cfg.Server.Port)
	}

	for field, v := range map[string]string{
		"server.shutdown_timeout": cfg.Server.ShutdownTimeout,
		"server.event_grace":      cfg.Server.EventGrace,
		"cache.ttl":               cfg.Cache.TTL,
		"retry.base_delay":        cfg.Retry.BaseDelay,
		"retry.max_delay":         cfg.Retry.MaxDelay,
		"pool.cooldown":           cfg.Pool.Cooldown,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil {
			add(field, "invalid duration %q", v)
		} else if d < 0 {
			add(field, "must not be negative")
		}
	}
	if base, max := duration(cfg.Retry.BaseDelay, 0), duration(cfg.Retry.MaxDelay, 0); base > max {
		add("retry.max_delay", "must be at least base_delay (%s)", base)
	}
	if cfg.Retry.MaxAttempts < 1 {
		add("retry.max_attempts", "must be at least 1")
	}
	if cfg.Cache.Capacity < 1 {
		add("cache.capacity", "must be at least 1")
	}
	if cfg.Pipeline.Concurrency < 1 {
		add("pipeline.concurrency", "must be at least 1")
	}

	// providers
	ids := make(map[string]provider.Capability)
	hasText := false
	for i, p := range cfg.Providers {
		prefix := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			add(prefix+".id", "is required")
		} else if _, dup := ids[p.ID]; dup {
			add(prefix+".id", "duplicate provider ID %q", p.ID)
		}
		caps, known := provider.Capabilities[p.Kind]
		if !known {
			add(prefix+".kind", "unknown provider kind %q", p.Kind)
		}
		c := provider.Capability(p.Capability)
		if !c.Valid() {
			add(prefix+".capability", "unknown capability %q", p.Capability)
		} else if known && !containsCap(caps, c) {
			add(prefix+".capability", "kind %q cannot serve %q", p.Kind, p.Capability)
		}
		if p.Weight <= 0 {
			add(prefix+".weight", "must be positive")
		}
		switch p.Kind {
		case provider.KindOpenAI, provider.KindOpenAIImage:
			if p.APIKey == "" {
				add(prefix+".api_key", "is required for kind %q", p.Kind)
			}
		case provider.KindOllama:
			if p.Model == "" {
				add(prefix+".model", "is required for kind %q", p.Kind)
			}
		}
		if p.ID != "" {
			ids[p.ID] = c
		}
		hasText = hasText || c == provider.Text
	}
	if !hasText {
		add("providers", "at least one text provider is required")
	}

	// profiles
	stepCaps := stepCapabilities()
	for _, name := range cfg.ProfileNames() {
		prof := cfg.Profiles[name]
		prefix := "profiles." + name
		if n := len(prof.PresenterNames); n != 0 && n < 2 {
			add(prefix+".presenter_names", "dialogue needs two presenters, got %d", n)
		}
		for key, id := range prof.Preferences {
			field := prefix + ".preferences." + key
			want, ok := stepCaps[key]
			if !ok {
				add(field, "unknown step or capability %q", key)
				continue
			}
			have, ok := ids[id]
			if !ok {
				add(field, "references undefined provider %q", id)
				continue
			}
			if have != want {
				add(field, "provider %q serves %s, %s needs %s", id, have, key, want)
			}
		}
	}
	return errs
}

// stepCapabilities maps every step name and capability name to the
// capability it needs.
func stepCapabilities() map[string]provider.Capability {
	m := map[string]provider.Capability{
		string(provider.Text):  provider.Text,
		string(provider.Image): provider.Image,
	}
	for _, ct := range pipeline.ContentTypes {
		steps, _ := pipeline.Steps(ct, pipeline.StepOptions{Images: true})
		for _, s := range steps {
			m[s.Name] = s.Capability
		}
	}
	return m
}

func containsCap(caps []provider.Capability, c provider.Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}

// Summary joins validation errors for display.
func Summary(errs []ValidationError) string {
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = "  " + e.Error()
	}
	return strings.Join(lines, "\n")
}
