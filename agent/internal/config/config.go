package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBaseURL        = "https://api.clashroyale.com/v1"
	DefaultRequestTimeout = 10 * time.Second

	DefaultBatchSize   = 10
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
	DefaultBatchPause  = 250 * time.Millisecond
	DefaultMaxFetches  = 1500

	DefaultDecayGraceDays = 3
	DefaultDecayRate      = 0.05

	DefaultTournamentPool   = 40
	DefaultTournamentSample = 10
	DefaultPlayerPool       = 50
	DefaultPlayerSample     = 20
	DefaultCapacity         = 50
	DefaultExclusionWindow  = 30 * 24 * time.Hour
	DefaultBaselineFloor    = 4000
	DefaultWarBonus         = 10

	DefaultDBPath    = "warboard.db"
	DefaultChunkSize = 8000
	DefaultLockTTL   = 10 * time.Minute

	DefaultTimezone = "UTC"
	DefaultHTTPAddr = ":8080"
)

// DefaultKeywords covers the full alphanumeric namespace for discovery.
var DefaultKeywords = []string{
	"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m",
	"n", "o", "p", "q", "r", "s", "t", "u", "v", "w", "x", "y", "z",
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9",
}

// DefaultGraceDays are the weekday indices (Sunday = 0) during which a missing
// current-week participation is not yet penalised.
var DefaultGraceDays = []int{1, 2, 3}

// Config is the top-level configuration. Fields map 1:1 to config.example.yaml.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Clan     ClanConfig     `yaml:"clan"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Recruit  RecruitConfig  `yaml:"recruit"`
	Storage  StorageConfig  `yaml:"storage"`
	Schedule ScheduleConfig `yaml:"schedule"`
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// APIConfig describes the external stats API.
type APIConfig struct {
	// BaseURL is prefixed to every request path.
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-request transport timeout. A stalled request counts
	// as a network error for that attempt.
	Timeout time.Duration `yaml:"timeout"`

	// Keys is the pool of bearer tokens. Values come from the environment.
	Keys []KeyConfig `yaml:"keys"`
}

// KeyConfig names one API key. The secret itself is never stored in the file.
type KeyConfig struct {
	Name string `yaml:"name"`

	// ValueEnv is the name of the environment variable that holds the token.
	ValueEnv string `yaml:"value_env"`
}

// Value returns the key resolved from the environment.
// Returns empty string if ValueEnv is unset or the variable is not found.
func (k KeyConfig) Value() string {
	if k.ValueEnv == "" {
		return ""
	}
	return os.Getenv(k.ValueEnv)
}

// FetchConfig tunes the batched fetch engine.
type FetchConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	BatchPause  time.Duration `yaml:"batch_pause"`

	// MaxFetches is the hard per-run network request budget.
	MaxFetches int `yaml:"max_fetches"`
}

// ClanConfig identifies the clan being ranked.
type ClanConfig struct {
	Tag string `yaml:"tag"`
}

// ScoringConfig holds the member scoring weights and decay parameters.
type ScoringConfig struct {
	Weights Weights `yaml:"weights"`

	// DecayGraceDays is the number of inactive days tolerated before decay.
	DecayGraceDays int `yaml:"decay_grace_days"`

	// DecayRate is the fraction removed per inactive day beyond the grace.
	DecayRate float64 `yaml:"decay_rate"`

	// GraceDays lists weekday indices (0 = Sunday) in the early part of the
	// weekly cycle where a missing current-week value is not yet counted.
	GraceDays []int `yaml:"grace_days"`
}

// Weights are the composite score coefficients.
type Weights struct {
	Current       float64 `yaml:"current"`
	Average       float64 `yaml:"average"`
	Secondary     float64 `yaml:"secondary"`
	Tertiary      float64 `yaml:"tertiary"`
	Participation float64 `yaml:"participation"`
}

// RecruitConfig holds the recruiting funnel parameters.
type RecruitConfig struct {
	Keywords         []string       `yaml:"keywords"`
	TournamentPool   int            `yaml:"tournament_pool"`
	TournamentSample int            `yaml:"tournament_sample"`
	PlayerPool       int            `yaml:"player_pool"`
	PlayerSample     int            `yaml:"player_sample"`
	Capacity         int            `yaml:"capacity"`
	ExclusionWindow  time.Duration  `yaml:"exclusion_window"`
	BaselineFloor    int            `yaml:"baseline_floor"`
	WarBonus         int            `yaml:"war_bonus"`
	Weights          RecruitWeights `yaml:"weights"`
}

// RecruitWeights are the candidate raw score coefficients.
type RecruitWeights struct {
	Trophies  float64 `yaml:"trophies"`
	Donations float64 `yaml:"donations"`
	War       float64 `yaml:"war"`
}

// StorageConfig configures the SQLite persistence backend.
type StorageConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`

	// ChunkSize is the maximum byte length of one stored chunk of a large value.
	ChunkSize int `yaml:"chunk_size"`

	// LockTTL bounds how long a crashed run can hold the run lock.
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// ScheduleConfig holds cron expressions for daemon mode.
type ScheduleConfig struct {
	Timezone string `yaml:"timezone"`
	Rank     string `yaml:"rank"`
	Recruit  string `yaml:"recruit"`
}

// HTTPConfig configures the read-only API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	// TextfilePath, when set, receives the metrics of every run in the
	// Prometheus text exposition format.
	TextfilePath string `yaml:"textfile_path"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: DefaultRequestTimeout,
		},
		Fetch: FetchConfig{
			BatchSize:   DefaultBatchSize,
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultBaseDelay,
			BatchPause:  DefaultBatchPause,
			MaxFetches:  DefaultMaxFetches,
		},
		Scoring: ScoringConfig{
			Weights: Weights{
				Current:       1.0,
				Average:       1.0,
				Secondary:     2.0,
				Tertiary:      0.5,
				Participation: 10.0,
			},
			DecayGraceDays: DefaultDecayGraceDays,
			DecayRate:      DefaultDecayRate,
			GraceDays:      append([]int(nil), DefaultGraceDays...),
		},
		Recruit: RecruitConfig{
			Keywords:         append([]string(nil), DefaultKeywords...),
			TournamentPool:   DefaultTournamentPool,
			TournamentSample: DefaultTournamentSample,
			PlayerPool:       DefaultPlayerPool,
			PlayerSample:     DefaultPlayerSample,
			Capacity:         DefaultCapacity,
			ExclusionWindow:  DefaultExclusionWindow,
			BaselineFloor:    DefaultBaselineFloor,
			WarBonus:         DefaultWarBonus,
			Weights: RecruitWeights{
				Trophies:  1.0,
				Donations: 0.05,
				War:       20.0,
			},
		},
		Storage: StorageConfig{
			Path:      DefaultDBPath,
			ChunkSize: DefaultChunkSize,
			LockTTL:   DefaultLockTTL,
		},
		Schedule: ScheduleConfig{
			Timezone: DefaultTimezone,
		},
		HTTP: HTTPConfig{
			Addr: DefaultHTTPAddr,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Clan.Tag == "" {
		return fmt.Errorf("clan.tag is required")
	}
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if len(cfg.API.Keys) == 0 {
		return fmt.Errorf("api.keys: at least one key is required")
	}
	seen := make(map[string]bool, len(cfg.API.Keys))
	for i, k := range cfg.API.Keys {
		if k.Name == "" {
			return fmt.Errorf("api.keys[%d]: name is required", i)
		}
		if k.ValueEnv == "" {
			return fmt.Errorf("api.keys[%d] %q: value_env is required", i, k.Name)
		}
		if seen[k.Name] {
			return fmt.Errorf("api.keys[%d]: duplicate name %q", i, k.Name)
		}
		seen[k.Name] = true
	}
	if cfg.Fetch.BatchSize <= 0 {
		return fmt.Errorf("fetch.batch_size must be positive")
	}
	if cfg.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be positive")
	}
	if cfg.Fetch.MaxFetches <= 0 {
		return fmt.Errorf("fetch.max_fetches must be positive")
	}
	if cfg.Scoring.DecayRate < 0 || cfg.Scoring.DecayRate >= 1 {
		return fmt.Errorf("scoring.decay_rate must be in [0, 1)")
	}
	for _, d := range cfg.Scoring.GraceDays {
		if d < 0 || d > 6 {
			return fmt.Errorf("scoring.grace_days: %d is not a weekday index (0-6)", d)
		}
	}
	if len(cfg.Recruit.Keywords) == 0 {
		return fmt.Errorf("recruit.keywords must not be empty")
	}
	if cfg.Recruit.Capacity <= 0 {
		return fmt.Errorf("recruit.capacity must be positive")
	}
	if cfg.Recruit.ExclusionWindow <= 0 {
		return fmt.Errorf("recruit.exclusion_window must be positive")
	}
	if cfg.Storage.ChunkSize <= 0 {
		return fmt.Errorf("storage.chunk_size must be positive")
	}
	if _, err := time.LoadLocation(cfg.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}
