package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/seenimoa/openedgar/pkg/models"
)

func clearEnv() {
	os.Unsetenv("OPENEDGAR_EDGAR_COMPANY")
	os.Unsetenv("OPENEDGAR_EDGAR_EMAIL")
}

// ── Load / Defaults ──

func TestLoadReturnsDefaults(t *testing.T) {
	clearEnv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Run defaults
	if len(cfg.Run.SICCodes) != 0 {
		t.Errorf("Run.SICCodes: got %v, want empty", cfg.Run.SICCodes)
	}
	if cfg.Run.StartDate != "2001-01-01" {
		t.Errorf("Run.StartDate: got %q, want %q", cfg.Run.StartDate, "2001-01-01")
	}
	if cfg.Run.EndDate != "" {
		t.Errorf("Run.EndDate: got %q, want empty", cfg.Run.EndDate)
	}

	// EDGAR defaults
	if cfg.EDGAR.Company != "openedgar" {
		t.Errorf("EDGAR.Company: got %q, want %q", cfg.EDGAR.Company, "openedgar")
	}
	if cfg.EDGAR.RateRequests != 8 {
		t.Errorf("EDGAR.RateRequests: got %d, want 8", cfg.EDGAR.RateRequests)
	}
	if cfg.EDGAR.RateWindow != time.Second {
		t.Errorf("EDGAR.RateWindow: got %v, want 1s", cfg.EDGAR.RateWindow)
	}
	if cfg.EDGAR.MaxRetries != 3 {
		t.Errorf("EDGAR.MaxRetries: got %d, want 3", cfg.EDGAR.MaxRetries)
	}
	if cfg.EDGAR.CacheTTL != 15*time.Minute {
		t.Errorf("EDGAR.CacheTTL: got %v, want 15m", cfg.EDGAR.CacheTTL)
	}

	// Pipeline defaults
	if cfg.Pipeline.CompanyWorkers != 4 {
		t.Errorf("Pipeline.CompanyWorkers: got %d, want 4", cfg.Pipeline.CompanyWorkers)
	}
	if cfg.Pipeline.FilingWorkers != 3 {
		t.Errorf("Pipeline.FilingWorkers: got %d, want 3", cfg.Pipeline.FilingWorkers)
	}
	if cfg.Pipeline.FailurePolicy != "mark_failed" {
		t.Errorf("Pipeline.FailurePolicy: got %q, want %q", cfg.Pipeline.FailurePolicy, "mark_failed")
	}
	if cfg.Pipeline.KeepRaw {
		t.Error("Pipeline.KeepRaw should default to false")
	}

	// Paths defaults
	if cfg.Paths.OutputDir != "./output" {
		t.Errorf("Paths.OutputDir: got %q, want %q", cfg.Paths.OutputDir, "./output")
	}
	if cfg.Paths.CacheDir != "./cache" {
		t.Errorf("Paths.CacheDir: got %q, want %q", cfg.Paths.CacheDir, "./cache")
	}
	if cfg.Paths.WorkDir != "./work" {
		t.Errorf("Paths.WorkDir: got %q, want %q", cfg.Paths.WorkDir, "./work")
	}

	// API defaults
	if cfg.API.Enabled {
		t.Error("API.Enabled should default to false")
	}
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host: got %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port: got %d, want 8080", cfg.API.Port)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "text")
	}
}

// ── LoadFromFile ──

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "test_config.yaml")
	content := []byte(`
run:
  sic_codes: [7372, 2834]
  start_date: "2010-01-01"
  end_date: "2020-12-31"
edgar:
  company: "Example Research"
  email: "filings@example.com"
  rate_requests: 5
  rate_window: 2s
pipeline:
  company_workers: 8
  filing_workers: 2
  failure_policy: "mark_processed"
paths:
  output_dir: "/data/out"
logging:
  level: "debug"
  format: "json"
`)
	if err := os.WriteFile(cfgPath, content, 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	clearEnv()

	cfg, err := LoadFromFile(cfgPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error: %v", err)
	}
	if len(cfg.Run.SICCodes) != 2 || cfg.Run.SICCodes[0] != 7372 {
		t.Errorf("Run.SICCodes: got %v, want [7372 2834]", cfg.Run.SICCodes)
	}
	if cfg.Run.StartDate != "2010-01-01" {
		t.Errorf("Run.StartDate: got %q", cfg.Run.StartDate)
	}
	if cfg.EDGAR.Company != "Example Research" {
		t.Errorf("EDGAR.Company: got %q", cfg.EDGAR.Company)
	}
	if cfg.EDGAR.Email != "filings@example.com" {
		t.Errorf("EDGAR.Email: got %q", cfg.EDGAR.Email)
	}
	if cfg.EDGAR.RateRequests != 5 {
		t.Errorf("EDGAR.RateRequests: got %d, want 5", cfg.EDGAR.RateRequests)
	}
	if cfg.EDGAR.RateWindow != 2*time.Second {
		t.Errorf("EDGAR.RateWindow: got %v, want 2s", cfg.EDGAR.RateWindow)
	}
	if cfg.Pipeline.CompanyWorkers != 8 {
		t.Errorf("Pipeline.CompanyWorkers: got %d, want 8", cfg.Pipeline.CompanyWorkers)
	}
	if cfg.Pipeline.FailurePolicy != "mark_processed" {
		t.Errorf("Pipeline.FailurePolicy: got %q", cfg.Pipeline.FailurePolicy)
	}
	if cfg.Paths.OutputDir != "/data/out" {
		t.Errorf("Paths.OutputDir: got %q", cfg.Paths.OutputDir)
	}
	// Untouched sections keep defaults
	if cfg.Paths.CacheDir != "./cache" {
		t.Errorf("Paths.CacheDir: got %q, want default", cfg.Paths.CacheDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format: got %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("LoadFromFile() with nonexistent path should return error")
	}
}

// ── overrideFromEnv ──

func TestOverrideFromEnv(t *testing.T) {
	os.Setenv("OPENEDGAR_EDGAR_COMPANY", "Env Research Co")
	os.Setenv("OPENEDGAR_EDGAR_EMAIL", "env@example.com")
	defer clearEnv()

	cfg := &Config{}
	overrideFromEnv(cfg)

	if cfg.EDGAR.Company != "Env Research Co" {
		t.Errorf("EDGAR.Company: got %q", cfg.EDGAR.Company)
	}
	if cfg.EDGAR.Email != "env@example.com" {
		t.Errorf("EDGAR.Email: got %q", cfg.EDGAR.Email)
	}
}

func TestOverrideFromEnvNoEnvSet(t *testing.T) {
	clearEnv()

	cfg := &Config{
		EDGAR: EDGARConfig{Company: "from-config"},
	}
	overrideFromEnv(cfg)

	if cfg.EDGAR.Company != "from-config" {
		t.Errorf("Company should stay as 'from-config' when env is unset, got %q", cfg.EDGAR.Company)
	}
}

// ── Validate ──

func validConfig(t *testing.T) *Config {
	t.Helper()
	clearEnv()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing email", func(c *Config) { c.EDGAR.Email = "" }},
		{"malformed email", func(c *Config) { c.EDGAR.Email = "not-an-email" }},
		{"missing company", func(c *Config) { c.EDGAR.Company = "" }},
		{"rate above ceiling", func(c *Config) { c.EDGAR.RateRequests = 20 }},
		{"zero company workers", func(c *Config) { c.Pipeline.CompanyWorkers = 0 }},
		{"unknown failure policy", func(c *Config) { c.Pipeline.FailurePolicy = "shrug" }},
		{"sic code out of range", func(c *Config) { c.Run.SICCodes = []int{123456} }},
		{"bad start date", func(c *Config) { c.Run.StartDate = "01/02/2010" }},
		{"reversed range", func(c *Config) {
			c.Run.StartDate = "2020-01-01"
			c.Run.EndDate = "2010-01-01"
		}},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"empty output dir", func(c *Config) { c.Paths.OutputDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// ── Accessors ──

func TestDateRange(t *testing.T) {
	r := RunConfig{StartDate: "2010-01-01", EndDate: "2020-12-31"}
	start, end, err := r.DateRange()
	if err != nil {
		t.Fatalf("DateRange() error: %v", err)
	}
	if start.Year() != 2010 || end.Year() != 2020 {
		t.Errorf("range: got %v .. %v", start, end)
	}

	// Empty end date means today.
	r = RunConfig{StartDate: "2010-01-01"}
	_, end, err = r.DateRange()
	if err != nil {
		t.Fatalf("DateRange() error: %v", err)
	}
	if time.Since(end) > time.Minute {
		t.Errorf("empty end date should mean now, got %v", end)
	}
}

func TestUserAgent(t *testing.T) {
	e := EDGARConfig{Company: "Example Research", Email: "filings@example.com"}
	want := "Example Research (filings@example.com)"
	if got := e.UserAgent(); got != want {
		t.Errorf("UserAgent(): got %q, want %q", got, want)
	}
}

func TestPolicy(t *testing.T) {
	p := PipelineConfig{FailurePolicy: "mark_processed"}
	if p.Policy() != models.PolicyMarkProcessed {
		t.Errorf("Policy(): got %q", p.Policy())
	}
}

// ── NewLogger ──

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name       string
		cfg        LoggingConfig
		debugAllow bool
	}{
		{"text info", LoggingConfig{Level: "info", Format: "text"}, false},
		{"json debug", LoggingConfig{Level: "debug", Format: "json"}, true},
		{"unknown falls back", LoggingConfig{Level: "chatty", Format: "xml"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.cfg)
			if logger == nil {
				t.Fatal("NewLogger returned nil")
			}
			got := logger.Enabled(context.Background(), slog.LevelDebug)
			if got != tt.debugAllow {
				t.Errorf("debug enabled = %v, want %v", got, tt.debugAllow)
			}
		})
	}
}

// ── homeDir ──

func TestHomeDirReturnsNonEmpty(t *testing.T) {
	h := homeDir()
	if h == "" {
		t.Error("homeDir() should not return empty string")
	}
}
