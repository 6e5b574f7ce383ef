// Package config loads and validates the edge agent's configuration.
//
// Precedence: the TOML config file wins for most fields. Process environment variables
// (BREEZE_-style prefix kept for continuity with the fleet's other
// agents would be confusing here, so this agent uses EDGE_AGENT_*) are
// consulted only to fill fields the TOML file leaves empty -- this is
// primarily useful for secrets (auth tokens, hook tokens) that operators
// do not want committed to a config file on disk. EDGE_AGENT_STATUS_PORT,
// EDGE_AGENT_CHILD_STATUS_PORT, EDGE_AGENT_AUTOSTART and
// EDGE_AGENT_CLASSES_FILTER are the exception: when set they override the
// file, which is how the supervisor configures the child it spawns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config is the full set of tunables for the edge agent process and the
// supervisor that wraps it. Fields map 1:1 onto §4.11 of SPEC_FULL.md.
type Config struct {
	DeviceID   string `mapstructure:"device_id"`
	StreamPath string `mapstructure:"stream_path"`

	WorkerAddr string `mapstructure:"worker_addr"`

	StoreBaseURL string `mapstructure:"store_base_url"`
	HookToken    string `mapstructure:"hook_token"`

	Model               string   `mapstructure:"model"`
	FrameWidth          int      `mapstructure:"frame_width"`
	FrameHeight         int      `mapstructure:"frame_height"`
	MaxInflight         int      `mapstructure:"max_inflight"`
	FeederPolicy        string   `mapstructure:"feeder_policy"` // LATEST_WINS | DROP_OLDEST | BLOCK
	ClassesFilter       []string `mapstructure:"classes_filter"`
	ConfidenceThreshold float64  `mapstructure:"confidence_threshold"`
	PreferredFormat     string   `mapstructure:"preferred_format"`

	DwellMs    int `mapstructure:"dwell_ms"`
	SilenceMs  int `mapstructure:"silence_ms"`
	PostRollMs int `mapstructure:"postroll_ms"`

	FPSIdle   float64 `mapstructure:"fps_idle"`
	FPSActive float64 `mapstructure:"fps_active"`

	FrameCacheTTLMs int `mapstructure:"frame_cache_ttl_ms"`

	IngestMaxBodyBytes int `mapstructure:"ingest_max_body_bytes"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogShipLevel  string `mapstructure:"log_ship_level"`

	StatusPort      int    `mapstructure:"status_port"`
	ChildStatusPort int    `mapstructure:"child_status_port"`
	ChildCommand    string `mapstructure:"child_command"`
	ChildArgs       string `mapstructure:"child_args"`
	Autostart       bool   `mapstructure:"autostart"`
	StopTimeoutMs   int    `mapstructure:"stop_timeout_ms"`
	OverridesPath   string `mapstructure:"overrides_path"`

	TracksStoragePath     string `mapstructure:"tracks_storage_path"`
	PlaybackStartOffsetMs int    `mapstructure:"playback_start_offset_ms"`
	PlaybackExtraSeconds  int    `mapstructure:"playback_extra_seconds"`

	ArchiveProvider        string `mapstructure:"archive_provider"` // none | s3 | gcs | azblob
	ArchiveBucket          string `mapstructure:"archive_bucket"`
	ArchiveRegion          string `mapstructure:"archive_region"`
	ArchiveAzureAccountURL string `mapstructure:"archive_azure_account_url"`

	StoreDatabaseURL string `mapstructure:"store_database_url"`
	StoreHTTPPort    int    `mapstructure:"store_http_port"`
}

// Default returns a configuration with safe defaults. Every field that
// can be zero-valued without breaking startup is spelled out here so
// that Load never has to guess.
func Default() *Config {
	return &Config{
		StreamPath: "cam0",

		Model:               "default",
		FrameWidth:          640,
		FrameHeight:         480,
		MaxInflight:         4,
		FeederPolicy:        "LATEST_WINS",
		ClassesFilter:       []string{"person", "car"},
		ConfidenceThreshold: 0.5,
		PreferredFormat:     "jpeg",

		DwellMs:    2000,
		SilenceMs:  10000,
		PostRollMs: 5000,

		FPSIdle:   1,
		FPSActive: 5,

		FrameCacheTTLMs: 2000,

		IngestMaxBodyBytes: 2 * 1024 * 1024,

		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
		LogShipLevel:  "warn",

		StatusPort:      7080,
		ChildStatusPort: 7081,
		StopTimeoutMs:   4000,
		OverridesPath:   "runtime-overrides.json",

		TracksStoragePath:     defaultTracksPath(),
		PlaybackStartOffsetMs: 200,
		PlaybackExtraSeconds:  5,

		ArchiveProvider: "none",

		StoreHTTPPort: 8088,
	}
}

// Load reads the TOML config file (explicit path, or the platform
// default location), falls back to the environment for empty secret
// fields, and validates the result in two tiers. Fatal errors abort
// startup; warnings are logged and clamped.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("agent")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvFallback(cfg)

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		log.Warn("config validation", "error", w)
	}
	if result.HasFatals() {
		for _, f := range result.Fatals {
			log.Error("config validation fatal", "error", f)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

// applyEnvFallback fills secret/endpoint fields from the environment
// when the TOML file left them empty; TOML wins for those. The status
// ports, autostart flag and classes filter are taken from the
// environment whenever set, overriding the file.
func applyEnvFallback(cfg *Config) {
	if cfg.HookToken == "" {
		cfg.HookToken = os.Getenv("EDGE_AGENT_HOOK_TOKEN")
	}
	if cfg.StoreBaseURL == "" {
		cfg.StoreBaseURL = os.Getenv("EDGE_AGENT_STORE_URL")
	}
	if cfg.WorkerAddr == "" {
		cfg.WorkerAddr = os.Getenv("EDGE_AGENT_WORKER_ADDR")
	}
	if csv := os.Getenv("EDGE_AGENT_CLASSES_FILTER"); csv != "" {
		cfg.ClassesFilter = splitCSV(csv)
	}
	if cfg.ChildCommand == "" {
		cfg.ChildCommand = os.Getenv("EDGE_AGENT_CHILD_COMMAND")
	}
	if cfg.ChildArgs == "" {
		cfg.ChildArgs = os.Getenv("EDGE_AGENT_CHILD_ARGS")
	}
	if v := os.Getenv("EDGE_AGENT_STATUS_PORT"); v != "" {
		if p, err := parsePort(v); err == nil {
			cfg.StatusPort = p
		}
	}
	if v := os.Getenv("EDGE_AGENT_CHILD_STATUS_PORT"); v != "" {
		if p, err := parsePort(v); err == nil {
			cfg.ChildStatusPort = p
		}
	}
	if v := os.Getenv("EDGE_AGENT_AUTOSTART"); v == "1" {
		cfg.Autostart = true
	} else if v == "0" {
		cfg.Autostart = false
	}
}

// GetDataDir returns the platform-specific data directory for the agent.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "EdgeAgent", "data")
	case "darwin":
		return "/Library/Application Support/EdgeAgent/data"
	default:
		return "/var/lib/edge-agent"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "EdgeAgent")
	case "darwin":
		return "/Library/Application Support/EdgeAgent"
	default:
		return "/etc/edge-agent"
	}
}

func defaultTracksPath() string {
	return filepath.Join(GetDataDir(), "tracks")
}
