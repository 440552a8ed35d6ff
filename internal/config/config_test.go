package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: file
  path: ./store
emulator:
  package: com.example.siege
  taps_per_sec: 4
  vision:
    base_url: http://127.0.0.1:8089
    timeout: 10s
engine:
  retry_backoff: 7m
profiles:
  - id: main
    name: Main keep
    device: emulator-5554
    stamina:
      cap: 120
      regen_every: 6m
    duties:
      arena:
        schedule: "30m"
        settings:
          keep_tickets: 1
      tribute:
        schedule: "0 0 * * *"
      patrol:
        enabled: false
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Emulator.Package != "com.example.siege" {
		t.Fatalf("Package = %q", cfg.Emulator.Package)
	}
	p, ok := cfg.Profile("main")
	if !ok {
		t.Fatal("profile main missing")
	}
	if p.Device != "emulator-5554" {
		t.Fatalf("Device = %q", p.Device)
	}
	if len(p.Duties) != 3 {
		t.Fatalf("duties = %d, want 3", len(p.Duties))
	}
	if !p.Duties["arena"].IsEnabled() {
		t.Fatal("arena should default to enabled")
	}
	if p.Duties["patrol"].IsEnabled() {
		t.Fatal("patrol should be disabled")
	}
	if got := p.Duties["tribute"].Schedule; got != "0 0 * * *" {
		t.Fatalf("tribute schedule = %q", got)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, sampleYAML+"\nbogus_key: 1\n"))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{name: "missing package", mut: func(c *Config) { c.Emulator.Package = "" }},
		{name: "no profiles", mut: func(c *Config) { c.Profiles = nil }},
		{name: "duplicate profile id", mut: func(c *Config) {
			c.Profiles = append(c.Profiles, c.Profiles[0])
		}},
		{name: "missing device", mut: func(c *Config) { c.Profiles[0].Device = "" }},
		{name: "bad duration", mut: func(c *Config) { c.Engine.RetryBackoff = "soon" }},
		{name: "notify without token", mut: func(c *Config) { c.Notify.Enabled = true }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(writeConfig(t, sampleYAML))
			cfg, err := m.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration should be rejected")
	}
}
