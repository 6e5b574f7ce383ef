package config

import "testing"

func validTestConfig() *Config {
	cfg := Default()
	cfg.WorkerAddr = "127.0.0.1:9000"
	cfg.StoreBaseURL = "http://127.0.0.1:8080"
	cfg.DeviceID = "dev-1"
	return cfg
}

func TestValidateTieredAcceptsDefaultConfig(t *testing.T) {
	cfg := validTestConfig()
	r := cfg.ValidateTiered()
	if r.HasFatals() {
		t.Fatalf("expected no fatals, got %v", r.Fatals)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings for a default config, got %v", r.Warnings)
	}
}

func TestValidateTieredRequiresWorkerAddr(t *testing.T) {
	cfg := validTestConfig()
	cfg.WorkerAddr = ""
	r := cfg.ValidateTiered()
	if !r.HasFatals() {
		t.Fatal("expected fatal for missing worker_addr")
	}
}

func TestValidateTieredRequiresStoreBaseURL(t *testing.T) {
	cfg := validTestConfig()
	cfg.StoreBaseURL = ""
	r := cfg.ValidateTiered()
	if !r.HasFatals() {
		t.Fatal("expected fatal for missing store_base_url")
	}
}

func TestValidateTieredRejectsInvalidStoreBaseURLScheme(t *testing.T) {
	cfg := validTestConfig()
	cfg.StoreBaseURL = "ftp://example.com"
	r := cfg.ValidateTiered()
	if !r.HasFatals() {
		t.Fatal("expected fatal for non-http(s) scheme")
	}
}

func TestValidateTieredRejectsMalformedStoreBaseURL(t *testing.T) {
	cfg := validTestConfig()
	cfg.StoreBaseURL = "://not-a-url"
	r := cfg.ValidateTiered()
	if !r.HasFatals() {
		t.Fatal("expected fatal for malformed URL")
	}
}

func TestValidateTieredRequiresDeviceID(t *testing.T) {
	cfg := validTestConfig()
	cfg.DeviceID = ""
	r := cfg.ValidateTiered()
	if !r.HasFatals() {
		t.Fatal("expected fatal for missing device_id")
	}
}

func TestValidateTieredRequiresPositiveMaxInflight(t *testing.T) {
	cfg := validTestConfig()
	cfg.MaxInflight = 0
	r := cfg.ValidateTiered()
	if !r.HasFatals() {
		t.Fatal("expected fatal for non-positive max_inflight")
	}
}

func TestValidateTieredRejectsUnknownFeederPolicy(t *testing.T) {
	cfg := validTestConfig()
	cfg.FeederPolicy = "WHATEVER"
	r := cfg.ValidateTiered()
	if !r.HasFatals() {
		t.Fatal("expected fatal for unknown feeder_policy")
	}
}

func TestValidateTieredRequiresArchiveBucketWhenProviderSet(t *testing.T) {
	cfg := validTestConfig()
	cfg.ArchiveProvider = "s3"
	cfg.ArchiveBucket = ""
	r := cfg.ValidateTiered()
	if !r.HasFatals() {
		t.Fatal("expected fatal when archive_provider is set without a bucket")
	}
}

func TestValidateTieredRejectsOutOfRangePorts(t *testing.T) {
	cfg := validTestConfig()
	cfg.StatusPort = 70000
	r := cfg.ValidateTiered()
	if !r.HasFatals() {
		t.Fatal("expected fatal for out-of-range status_port")
	}

	cfg2 := validTestConfig()
	cfg2.ChildStatusPort = 0
	r2 := cfg2.ValidateTiered()
	if !r2.HasFatals() {
		t.Fatal("expected fatal for out-of-range child_status_port")
	}
}

func TestValidateTieredClampsNegativeDurationsToZero(t *testing.T) {
	cfg := validTestConfig()
	cfg.DwellMs = -1
	cfg.SilenceMs = -1
	cfg.PostRollMs = -1
	r := cfg.ValidateTiered()
	if r.HasFatals() {
		t.Fatalf("negative durations are warning-tier, not fatal: %v", r.Fatals)
	}
	if len(r.Warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", r.Warnings)
	}
	if cfg.DwellMs != 0 || cfg.SilenceMs != 0 || cfg.PostRollMs != 0 {
		t.Fatalf("expected clamping to 0, got dwell=%d silence=%d postroll=%d", cfg.DwellMs, cfg.SilenceMs, cfg.PostRollMs)
	}
}

func TestValidateTieredClampsFPSBelowMinimum(t *testing.T) {
	cfg := validTestConfig()
	cfg.FPSIdle = 0
	cfg.FPSActive = -5
	cfg.ValidateTiered()
	if cfg.FPSIdle != 1 || cfg.FPSActive != 1 {
		t.Fatalf("expected FPS clamped to 1, got idle=%v active=%v", cfg.FPSIdle, cfg.FPSActive)
	}
}

func TestValidateTieredClampsConfidenceThreshold(t *testing.T) {
	cfg := validTestConfig()
	cfg.ConfidenceThreshold = 1.5
	cfg.ValidateTiered()
	if cfg.ConfidenceThreshold != 0.5 {
		t.Fatalf("expected confidence_threshold clamped to 0.5, got %v", cfg.ConfidenceThreshold)
	}
}

func TestValidateTieredDefaultsInvalidLogLevel(t *testing.T) {
	cfg := validTestConfig()
	cfg.LogLevel = "verbose"
	cfg.ValidateTiered()
	if cfg.LogLevel != "info" {
		t.Fatalf("expected log_level defaulted to info, got %q", cfg.LogLevel)
	}
}

func TestValidateTieredDefaultsInvalidLogFormat(t *testing.T) {
	cfg := validTestConfig()
	cfg.LogFormat = "xml"
	cfg.ValidateTiered()
	if cfg.LogFormat != "text" {
		t.Fatalf("expected log_format defaulted to text, got %q", cfg.LogFormat)
	}
}

func TestValidateTieredClampsStopTimeout(t *testing.T) {
	cfg := validTestConfig()
	cfg.StopTimeoutMs = 0
	cfg.ValidateTiered()
	if cfg.StopTimeoutMs != 4000 {
		t.Fatalf("expected stop_timeout_ms clamped to 4000, got %d", cfg.StopTimeoutMs)
	}
}

func TestValidateTieredClampsNegativePlaybackOffset(t *testing.T) {
	cfg := validTestConfig()
	cfg.PlaybackStartOffsetMs = -100
	cfg.ValidateTiered()
	if cfg.PlaybackStartOffsetMs != 0 {
		t.Fatalf("expected playback_start_offset_ms clamped to 0, got %d", cfg.PlaybackStartOffsetMs)
	}
}
