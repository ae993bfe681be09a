package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/lucasnoah/writefactory/internal/pipeline"
	"github.com/lucasnoah/writefactory/internal/provider"
	"github.com/lucasnoah/writefactory/internal/retry"
)

func providerCapabilities(kind string) []provider.Capability {
	return provider.Capabilities[kind]
}

// ProviderSettings converts the providers section.
func (c *Config) ProviderSettings() []provider.Settings {
	out := make([]provider.Settings, len(c.Providers))
	for i, p := range c.Providers {
		out[i] = provider.Settings{
			ID:         p.ID,
			Kind:       p.Kind,
			Capability: provider.Capability(p.Capability),
			Model:      p.Model,
			APIKey:     p.APIKey,
			BaseURL:    p.BaseURL,
			Weight:     p.Weight,
			Params:     provider.Params(p.Params),
		}
	}
	return out
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		BaseDelay:   duration(c.Retry.BaseDelay, retry.DefaultBaseDelay),
		MaxDelay:    duration(c.Retry.MaxDelay, retry.DefaultMaxDelay),
		MaxAttempts: c.Retry.MaxAttempts,
		Jitter:      c.Retry.Jitter == nil || *c.Retry.Jitter,
	}
}

// PoolOptions converts the pool section.
func (c *Config) PoolOptions() provider.PoolOptions {
	return provider.PoolOptions{FailureThreshold: c.Pool.FailureThreshold, Cooldown: c.Pool.CooldownDuration()}
}

// Profile resolves a client profile by name. The empty name yields the
// pipeline defaults.
func (c *Config) Profile(name string) (pipeline.Profile, error) {
	p := pipeline.Profile{
		Images:    c.Pipeline.Images.Enabled,
		MaxImages: c.Pipeline.Images.Max,
	}
	if name == "" {
		return p, nil
	}
	pc, ok := c.Profiles[name]
	if !ok {
		return pipeline.Profile{}, fmt.Errorf("unknown client profile %q", name)
	}
	p.Name = name
	p.Tone = pc.Tone
	p.ChannelName = pc.ChannelName
	p.Presenters = pc.PresenterNames
	p.Preferences = pc.Preferences
	if pc.Images != nil {
		p.Images = *pc.Images
	}
	if pc.MaxImages > 0 {
		p.MaxImages = pc.MaxImages
	}
	return p, nil
}

// ProfileNames lists configured client profiles, sorted.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for n := range c.Profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EventGrace is how long finished runs stay replayable.
func (c *Config) EventGrace() time.Duration {
	return c.Server.EventGraceDuration()
}
