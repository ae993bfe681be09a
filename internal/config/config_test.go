package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
server:
  port: 9090
  event_grace: "2m"
log:
  level: debug
  format: json
cache:
  capacity: 64
  ttl: "1h"
retry:
  max_attempts: 4
  base_delay: "500ms"
  max_delay: "10s"
  jitter: false
pool:
  failure_threshold: 2
  cooldown: "30s"
pipeline:
  concurrency: 2
  images:
    enabled: true
    max: 3
providers:
  - id: gpt
    kind: openai
    model: gpt-4o-mini
    api_key: ${WRITEFACTORY_TEST_OPENAI_KEY}
    weight: 3
  - id: local
    kind: ollama
    model: llama3
    params:
      temperature: "0.7"
  - id: dalle
    kind: openai_image
    api_key: sk-image
profiles:
  acme:
    tone: 丁寧
    channel_name: ACMEチャンネル
    presenter_names: [霊夢, 魔理沙]
    images: false
    preferences:
      body: local
      image: dalle
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "writefactory.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	t.Setenv("WRITEFACTORY_TEST_OPENAI_KEY", "sk-test")
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.EventGrace() != 2*time.Minute {
		t.Errorf("EventGrace = %v, want 2m", cfg.EventGrace())
	}
	if cfg.Cache.TTLDuration() != time.Hour {
		t.Errorf("TTL = %v, want 1h", cfg.Cache.TTLDuration())
	}
	if len(cfg.Providers) != 3 {
		t.Fatalf("Providers = %d, want 3", len(cfg.Providers))
	}
	gpt := cfg.Providers[0]
	if gpt.APIKey != "sk-test" {
		t.Errorf("api_key = %q, want expanded env value", gpt.APIKey)
	}
	if gpt.Capability != "text" {
		t.Errorf("openai capability = %q, want text from kind", gpt.Capability)
	}
	if cfg.Providers[1].Weight != 1 {
		t.Errorf("default weight = %v, want 1", cfg.Providers[1].Weight)
	}
	if cfg.Providers[2].Capability != "image" {
		t.Errorf("openai_image capability = %q, want image", cfg.Providers[2].Capability)
	}

	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("expected valid config, got:\n%s", Summary(errs))
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/writefactory.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeTestConfig(t, "providers: [\n  - id: x")); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestDefaultIsOfflineAndValid(t *testing.T) {
	cfg := Default()
	if len(cfg.Providers) != 2 {
		t.Fatalf("Providers = %d, want 2 offline providers", len(cfg.Providers))
	}
	for _, p := range cfg.Providers {
		if p.Kind != "offline" {
			t.Errorf("provider %s kind = %q, want offline", p.ID, p.Kind)
		}
	}
	if cfg.Server.Port != 8080 || cfg.Pipeline.Concurrency != 4 || cfg.Cache.Capacity != 1024 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Retry.Jitter == nil || !*cfg.Retry.Jitter {
		t.Error("jitter should default to on")
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("default config invalid:\n%s", Summary(errs))
	}
}

func TestLoadDefaultExplicitPath(t *testing.T) {
	t.Setenv("WRITEFACTORY_TEST_OPENAI_KEY", "sk-test")
	path := writeTestConfig(t, validConfig)
	cfg, used, err := LoadDefault(path)
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if used != path {
		t.Errorf("used = %q, want %q", used, path)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
}

func TestLoadDefaultFallsBackToBuiltin(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, used, err := LoadDefault("")
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if used != "" {
		t.Errorf("used = %q, want built-in defaults", used)
	}
	if cfg.Providers[0].Kind != "offline" {
		t.Errorf("expected offline defaults, got %+v", cfg.Providers)
	}
}

func TestLoadDefaultFindsWorkingDirFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile("writefactory.yaml", []byte("server:\n  port: 7000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, used, err := LoadDefault("")
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if used != "writefactory.yaml" || cfg.Server.Port != 7000 {
		t.Errorf("used=%q port=%d", used, cfg.Server.Port)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("WRITEFACTORY_DOTENV_SAMPLE=from-file\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WRITEFACTORY_DOTENV_SAMPLE", "")
	os.Unsetenv("WRITEFACTORY_DOTENV_SAMPLE")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error: %v", err)
	}
	if got := os.Getenv("WRITEFACTORY_DOTENV_SAMPLE"); got != "from-file" {
		t.Errorf("env = %q, want from-file", got)
	}
}

func TestProfile(t *testing.T) {
	t.Setenv("WRITEFACTORY_TEST_OPENAI_KEY", "sk-test")
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}

	p, err := cfg.Profile("acme")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if p.Tone != "丁寧" || p.ChannelName != "ACMEチャンネル" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.Images {
		t.Error("profile images:false should override pipeline default")
	}
	if p.MaxImages != 3 {
		t.Errorf("MaxImages = %d, want pipeline value 3", p.MaxImages)
	}
	if p.Preferences["body"] != "local" {
		t.Errorf("preferences not carried: %v", p.Preferences)
	}

	base, err := cfg.Profile("")
	if err != nil {
		t.Fatal(err)
	}
	if !base.Images || base.Name != "" {
		t.Errorf("empty profile should use pipeline defaults, got %+v", base)
	}

	if _, err := cfg.Profile("nope"); err == nil {
		t.Error("expected error for unknown profile")
	}
}

func TestConversions(t *testing.T) {
	t.Setenv("WRITEFACTORY_TEST_OPENAI_KEY", "sk-test")
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}

	settings := cfg.ProviderSettings()
	if settings[1].Params["temperature"] != "0.7" || settings[0].Weight != 3 {
		t.Errorf("unexpected settings: %+v", settings)
	}
	policy := cfg.RetryPolicy()
	if policy.MaxAttempts != 4 || policy.BaseDelay != 500*time.Millisecond || policy.MaxDelay != 10*time.Second || policy.Jitter {
		t.Errorf("unexpected policy: %+v", policy)
	}
	opts := cfg.PoolOptions()
	if opts.FailureThreshold != 2 || opts.Cooldown != 30*time.Second {
		t.Errorf("unexpected pool options: %+v", opts)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"unknown kind", "providers:\n  - {id: a, kind: claude}\n", "providers[0].kind"},
		{"duplicate id", "providers:\n  - {id: a, kind: offline}\n  - {id: a, kind: offline}\n", "providers[1].id"},
		{"missing id", "providers:\n  - {kind: offline}\n", "providers[0].id"},
		{"capability mismatch", "providers:\n  - {id: a, kind: ollama, model: m, capability: image}\n  - {id: b, kind: offline}\n", "providers[0].capability"},
		{"negative weight", "providers:\n  - {id: a, kind: offline, weight: -1}\n", "providers[0].weight"},
		{"openai without key", "providers:\n  - {id: a, kind: openai}\n", "providers[0].api_key"},
		{"ollama without model", "providers:\n  - {id: a, kind: ollama}\n", "providers[0].model"},
		{"no text provider", "providers:\n  - {id: a, kind: offline, capability: image}\n", "providers"},
		{"bad duration", "cache:\n  ttl: forever\n", "cache.ttl"},
		{"base above max", "retry:\n  base_delay: 2m\n  max_delay: 1m\n", "retry.max_delay"},
		{"bad log level", "log:\n  level: loud\n", "log.level"},
		{"unknown preference key", "profiles:\n  p:\n    preferences: {conclusion: offline}\n", "profiles.p.preferences.conclusion"},
		{"undefined preference provider", "profiles:\n  p:\n    preferences: {body: ghost}\n", "profiles.p.preferences.body"},
		{"preference capability mismatch", "providers:\n  - {id: t, kind: offline}\n  - {id: i, kind: offline, capability: image}\nprofiles:\n  p:\n    preferences: {images: t}\n", "profiles.p.preferences.images"},
		{"single presenter", "profiles:\n  p:\n    presenter_names: [霊夢]\n", "profiles.p.presenter_names"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			errs := Validate(cfg)
			for _, e := range errs {
				if e.Field == tt.field {
					return
				}
			}
			t.Errorf("expected error on %s, got:\n%s", tt.field, Summary(errs))
		})
	}
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{Field: "providers[0].kind", Message: "unknown provider kind \"x\""}
	if !strings.HasPrefix(e.Error(), "providers[0].kind: ") {
		t.Errorf("unexpected message %q", e.Error())
	}
}
