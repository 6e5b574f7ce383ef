package config

import (
	"fmt"
	"net/url"
	"strings"
)

var validPolicies = map[string]bool{
	"LATEST_WINS": true,
	"DROP_OLDEST": true,
	"BLOCK":       true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "warning": true, "error": true,
}

var validArchiveProviders = map[string]bool{
	"none": true, "s3": true, "gcs": true, "azblob": true,
}

// ValidationResult splits errors into a tier that blocks startup
// (Fatals) and a tier that is logged and clamped (Warnings).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal-tier error was recorded.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config for invalid values, mutating c to
// clamp out-of-range warning-tier fields to a safe default. Fatal-tier
// problems are never auto-corrected: they abort startup.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.WorkerAddr == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("worker_addr is required"))
	}

	if c.StoreBaseURL != "" {
		u, err := url.Parse(c.StoreBaseURL)
		if err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("store_base_url %q is not a valid URL: %w", c.StoreBaseURL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			r.Fatals = append(r.Fatals, fmt.Errorf("store_base_url scheme must be http or https, got %q", u.Scheme))
		}
	} else {
		r.Fatals = append(r.Fatals, fmt.Errorf("store_base_url is required"))
	}

	if c.DeviceID == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("device_id is required"))
	}

	if c.MaxInflight <= 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("max_inflight must be > 0, got %d", c.MaxInflight))
	}

	if c.FeederPolicy != "" && !validPolicies[strings.ToUpper(c.FeederPolicy)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("feeder_policy %q is not one of LATEST_WINS, DROP_OLDEST, BLOCK", c.FeederPolicy))
	}

	if !validArchiveProviders[strings.ToLower(c.ArchiveProvider)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("archive_provider %q is not one of none, s3, gcs, azblob", c.ArchiveProvider))
	}
	if c.ArchiveProvider != "none" && c.ArchiveProvider != "" && c.ArchiveBucket == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("archive_bucket is required when archive_provider is %q", c.ArchiveProvider))
	}

	if c.StatusPort <= 0 || c.StatusPort > 65535 {
		r.Fatals = append(r.Fatals, fmt.Errorf("status_port %d out of range", c.StatusPort))
	}
	if c.ChildStatusPort <= 0 || c.ChildStatusPort > 65535 {
		r.Fatals = append(r.Fatals, fmt.Errorf("child_status_port %d out of range", c.ChildStatusPort))
	}

	// Warning tier: clamp to safe bounds, never block startup.
	if c.DwellMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("dwell_ms %d is negative, clamping to 0", c.DwellMs))
		c.DwellMs = 0
	}
	if c.SilenceMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("silence_ms %d is negative, clamping to 0", c.SilenceMs))
		c.SilenceMs = 0
	}
	if c.PostRollMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("postroll_ms %d is negative, clamping to 0", c.PostRollMs))
		c.PostRollMs = 0
	}

	if c.FPSIdle <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("fps_idle %v is below minimum, clamping to 1", c.FPSIdle))
		c.FPSIdle = 1
	}
	if c.FPSActive <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("fps_active %v is below minimum, clamping to 1", c.FPSActive))
		c.FPSActive = 1
	}

	if c.FrameCacheTTLMs < 100 {
		r.Warnings = append(r.Warnings, fmt.Errorf("frame_cache_ttl_ms %d is below minimum 100, clamping", c.FrameCacheTTLMs))
		c.FrameCacheTTLMs = 100
	}

	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("confidence_threshold %v out of [0,1], clamping to 0.5", c.ConfidenceThreshold))
		c.ConfidenceThreshold = 0.5
	}

	if c.IngestMaxBodyBytes <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("ingest_max_body_bytes %d is below minimum, clamping to 2MB", c.IngestMaxBodyBytes))
		c.IngestMaxBodyBytes = 2 * 1024 * 1024
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid, defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid, defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.StopTimeoutMs <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("stop_timeout_ms %d is below minimum, clamping to 4000", c.StopTimeoutMs))
		c.StopTimeoutMs = 4000
	}

	if c.PlaybackStartOffsetMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("playback_start_offset_ms %d is negative, clamping to 0", c.PlaybackStartOffsetMs))
		c.PlaybackStartOffsetMs = 0
	}

	return r
}
