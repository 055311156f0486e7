package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const minimalYAML = `
clan:
  tag: "#ABC123"
api:
  keys:
    - name: primary
      value_env: WARBOARD_KEY_PRIMARY
`

func TestLoad_Valid(t *testing.T) {
	yaml := `
clan:
  tag: "#ABC123"
api:
  base_url: "http://localhost:9000/v1"
  timeout: 5s
  keys:
    - name: primary
      value_env: WARBOARD_KEY_PRIMARY
    - name: backup
      value_env: WARBOARD_KEY_BACKUP
fetch:
  batch_size: 5
  max_attempts: 4
  base_delay: 1s
  max_fetches: 200
scoring:
  decay_rate: 0.1
  grace_days: [1, 2]
  weights:
    current: 2
    participation: 5
recruit:
  keywords: ["x", "y"]
  capacity: 25
  exclusion_window: 240h
`
	cfg := loadFromString(t, yaml)

	if cfg.Clan.Tag != "#ABC123" {
		t.Errorf("clan.tag: got %q", cfg.Clan.Tag)
	}
	if cfg.API.BaseURL != "http://localhost:9000/v1" {
		t.Errorf("api.base_url: got %q", cfg.API.BaseURL)
	}
	if cfg.API.Timeout != 5*time.Second {
		t.Errorf("api.timeout: got %v", cfg.API.Timeout)
	}
	if len(cfg.API.Keys) != 2 {
		t.Fatalf("api.keys: got %d, want 2", len(cfg.API.Keys))
	}
	if cfg.Fetch.BatchSize != 5 || cfg.Fetch.MaxAttempts != 4 || cfg.Fetch.MaxFetches != 200 {
		t.Errorf("fetch: got %+v", cfg.Fetch)
	}
	if cfg.Scoring.Weights.Current != 2 || cfg.Scoring.Weights.Participation != 5 {
		t.Errorf("scoring.weights: got %+v", cfg.Scoring.Weights)
	}
	// Weights absent from the file keep their defaults.
	if cfg.Scoring.Weights.Average != 1.0 {
		t.Errorf("scoring.weights.average: got %v, want default 1.0", cfg.Scoring.Weights.Average)
	}
	if diff := cmp.Diff([]int{1, 2}, cfg.Scoring.GraceDays); diff != "" {
		t.Errorf("grace_days mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"x", "y"}, cfg.Recruit.Keywords); diff != "" {
		t.Errorf("keywords mismatch (-want +got):\n%s", diff)
	}
	if cfg.Recruit.ExclusionWindow != 240*time.Hour {
		t.Errorf("exclusion_window: got %v", cfg.Recruit.ExclusionWindow)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, minimalYAML)

	if cfg.API.BaseURL != DefaultBaseURL {
		t.Errorf("default base_url: got %q", cfg.API.BaseURL)
	}
	if cfg.Fetch.BatchSize != DefaultBatchSize {
		t.Errorf("default batch_size: got %d, want %d", cfg.Fetch.BatchSize, DefaultBatchSize)
	}
	if cfg.Fetch.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("default max_attempts: got %d, want %d", cfg.Fetch.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Recruit.Capacity != DefaultCapacity {
		t.Errorf("default capacity: got %d, want %d", cfg.Recruit.Capacity, DefaultCapacity)
	}
	if len(cfg.Recruit.Keywords) != 36 {
		t.Errorf("default keywords: got %d, want 36", len(cfg.Recruit.Keywords))
	}
	if diff := cmp.Diff(DefaultGraceDays, cfg.Scoring.GraceDays); diff != "" {
		t.Errorf("default grace_days mismatch (-want +got):\n%s", diff)
	}
	if cfg.Storage.ChunkSize != DefaultChunkSize {
		t.Errorf("default chunk_size: got %d", cfg.Storage.ChunkSize)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing clan tag", `
api:
  keys:
    - name: k
      value_env: K
`},
		{"no keys", `
clan:
  tag: "#A"
`},
		{"key without env", `
clan:
  tag: "#A"
api:
  keys:
    - name: k
`},
		{"duplicate key names", `
clan:
  tag: "#A"
api:
  keys:
    - name: k
      value_env: K1
    - name: k
      value_env: K2
`},
		{"grace day out of range", minimalYAML + `
scoring:
  grace_days: [7]
`},
		{"decay rate of one", minimalYAML + `
scoring:
  decay_rate: 1
`},
		{"zero batch size", minimalYAML + `
fetch:
  batch_size: 0
`},
		{"unknown timezone", minimalYAML + `
schedule:
  timezone: Mars/Olympus
`},
		{"malformed yaml", "clan: [unterminated"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestKeyConfig_Value(t *testing.T) {
	t.Setenv("TEST_WARBOARD_KEY", "supersecret")
	k := KeyConfig{Name: "primary", ValueEnv: "TEST_WARBOARD_KEY"}
	if got := k.Value(); got != "supersecret" {
		t.Errorf("Value(): got %q, want %q", got, "supersecret")
	}
}

func TestKeyConfig_Value_Empty(t *testing.T) {
	k := KeyConfig{Name: "primary"}
	if got := k.Value(); got != "" {
		t.Errorf("Value() with no ValueEnv: got %q, want empty", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	updated := minimalYAML + "recruit:\n  capacity: 7\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case c := <-got:
		if c.Recruit.Capacity != 7 {
			t.Errorf("reloaded capacity: got %d, want 7", c.Recruit.Capacity)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func TestWatch_ReloadsOnAtomicSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()
	time.Sleep(100 * time.Millisecond)

	// Two saves in a row, each written to a temp file and renamed over the
	// config, the way many editors save.
	for _, capacity := range []int{7, 9} {
		tmp := filepath.Join(dir, "config.yaml.tmp")
		body := minimalYAML + "recruit:\n  capacity: " + strconv.Itoa(capacity) + "\n"
		if err := os.WriteFile(tmp, []byte(body), 0o600); err != nil {
			t.Fatalf("write temp: %v", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatalf("rename over config: %v", err)
		}

		select {
		case c := <-got:
			if c.Recruit.Capacity != capacity {
				t.Errorf("reloaded capacity: got %d, want %d", c.Recruit.Capacity, capacity)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("save with capacity %d never triggered a reload", capacity)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, path, func(c *Config) { got <- c }) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("write sibling: %v", err)
	}
	select {
	case <-got:
		t.Error("write to a sibling file triggered a reload")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatch_InvalidReloadKeepsWatching(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, path, func(c *Config) { got <- c }) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("clan: [not: valid"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)
	if err := os.WriteFile(path, []byte(minimalYAML+"recruit:\n  capacity: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-got:
		if c.Recruit.Capacity != 3 {
			t.Errorf("first delivered config has capacity %d, want 3", c.Recruit.Capacity)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after a valid write following an invalid one")
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load("../../../config.example.yaml")
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if len(cfg.API.Keys) != 2 || cfg.Schedule.Rank == "" || cfg.Recruit.ExclusionWindow != DefaultExclusionWindow {
		t.Errorf("unexpected example config: %+v", cfg)
	}
	if len(cfg.Recruit.Keywords) != len(DefaultKeywords) {
		t.Errorf("keywords = %d, want defaults", len(cfg.Recruit.Keywords))
	}
}
