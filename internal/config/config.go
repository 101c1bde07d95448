// Package config handles configuration loading for openedgar.
// It supports YAML config files with environment variable overrides
// and validates the result before a run starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/seenimoa/openedgar/pkg/models"
	"github.com/seenimoa/openedgar/pkg/utils"
)

// Config represents the complete application configuration.
type Config struct {
	Run      RunConfig      `mapstructure:"run"      yaml:"run"`
	EDGAR    EDGARConfig    `mapstructure:"edgar"    yaml:"edgar"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Paths    PathsConfig    `mapstructure:"paths"    yaml:"paths"`
	API      APIConfig      `mapstructure:"api"      yaml:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
}

// RunConfig selects what a batch run covers.
type RunConfig struct {
	SICCodes  []int  `mapstructure:"sic_codes"  yaml:"sic_codes"  validate:"dive,gte=1,lte=9999"`
	StartDate string `mapstructure:"start_date" yaml:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string `mapstructure:"end_date"   yaml:"end_date"   validate:"omitempty,datetime=2006-01-02"`
}

// DateRange parses the configured date bounds. An empty end date means
// today; an empty start date falls back to the default.
func (r RunConfig) DateRange() (start, end time.Time, err error) {
	startStr := r.StartDate
	if startStr == "" {
		startStr = defaultStartDate
	}
	start, err = utils.ParseDate(startStr)
	if err != nil {
		return start, end, fmt.Errorf("start_date: %w", err)
	}
	if r.EndDate == "" {
		end = time.Now()
	} else {
		end, err = utils.ParseDate(r.EndDate)
		if err != nil {
			return start, end, fmt.Errorf("end_date: %w", err)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("end_date %s precedes start_date %s", r.EndDate, startStr)
	}
	return start, end, nil
}

// EDGARConfig holds upstream identity, throttling, and retry settings.
// SEC's fair-access policy requires a User-Agent declaring who is
// calling and caps traffic at 10 requests per second.
type EDGARConfig struct {
	Company      string        `mapstructure:"company"       yaml:"company"       validate:"required"`
	Email        string        `mapstructure:"email"         yaml:"email"         validate:"required,email"`
	RateRequests int           `mapstructure:"rate_requests" yaml:"rate_requests" validate:"gte=1,lte=10"`
	RateWindow   time.Duration `mapstructure:"rate_window"   yaml:"rate_window"`
	MaxRetries   int           `mapstructure:"max_retries"   yaml:"max_retries"   validate:"gte=1,lte=10"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"     yaml:"cache_ttl"`
}

// UserAgent renders the declared identity in the form SEC asks for.
func (e EDGARConfig) UserAgent() string {
	return fmt.Sprintf("%s (%s)", e.Company, e.Email)
}

// PipelineConfig sizes the worker pools and sets processing policy.
type PipelineConfig struct {
	CompanyWorkers int    `mapstructure:"company_workers" yaml:"company_workers" validate:"gte=1,lte=64"`
	FilingWorkers  int    `mapstructure:"filing_workers"  yaml:"filing_workers"  validate:"gte=1,lte=64"`
	FailurePolicy  string `mapstructure:"failure_policy"  yaml:"failure_policy"  validate:"oneof=mark_failed mark_processed"`
	KeepRaw        bool   `mapstructure:"keep_raw"        yaml:"keep_raw"`
}

// Policy returns the typed failure policy.
func (p PipelineConfig) Policy() models.FailurePolicy {
	return models.FailurePolicy(p.FailurePolicy)
}

// PathsConfig holds the on-disk layout.
type PathsConfig struct {
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir" validate:"required"`
	CacheDir  string `mapstructure:"cache_dir"  yaml:"cache_dir"  validate:"required"`
	WorkDir   string `mapstructure:"work_dir"   yaml:"work_dir"   validate:"required"`
}

// APIConfig holds the optional run-monitor HTTP server settings.
type APIConfig struct {
	Enabled     bool     `mapstructure:"enabled"      yaml:"enabled"`
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port" validate:"gte=0,lte=65535"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// Addr returns the listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=text json"`
}

const defaultStartDate = "2001-01-01"

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.openedgar/config.yaml (home directory)
//  3. /etc/openedgar/config.yaml (system)
//
// Environment variables override config file values.
// Format: OPENEDGAR_<SECTION>_<KEY>, e.g., OPENEDGAR_EDGAR_EMAIL
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".openedgar"))
	v.AddConfigPath("/etc/openedgar")

	v.SetEnvPrefix("OPENEDGAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)

	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("OPENEDGAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// Validate checks the assembled configuration. Called after CLI flags
// have been merged in, so flag-supplied SIC codes are covered too.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, _, err := c.Run.DateRange(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Run defaults
	v.SetDefault("run.sic_codes", []int{})
	v.SetDefault("run.start_date", defaultStartDate)
	v.SetDefault("run.end_date", "")

	// EDGAR defaults. The declared identity is a placeholder; real
	// deployments set edgar.company and edgar.email.
	v.SetDefault("edgar.company", "openedgar")
	v.SetDefault("edgar.email", "dev@openedgar.local")
	v.SetDefault("edgar.rate_requests", 8)
	v.SetDefault("edgar.rate_window", time.Second)
	v.SetDefault("edgar.max_retries", 3)
	v.SetDefault("edgar.retry_backoff", time.Second)
	v.SetDefault("edgar.cache_ttl", 15*time.Minute)

	// Pipeline defaults
	v.SetDefault("pipeline.company_workers", 4)
	v.SetDefault("pipeline.filing_workers", 3)
	v.SetDefault("pipeline.failure_policy", "mark_failed")
	v.SetDefault("pipeline.keep_raw", false)

	// Paths defaults
	v.SetDefault("paths.output_dir", "./output")
	v.SetDefault("paths.cache_dir", "./cache")
	v.SetDefault("paths.work_dir", "./work")

	// API defaults
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads deployment identity from environment
// variables so a bare binary can run without a config file.
func overrideFromEnv(cfg *Config) {
	if company := os.Getenv("OPENEDGAR_EDGAR_COMPANY"); company != "" {
		cfg.EDGAR.Company = company
	}
	if email := os.Getenv("OPENEDGAR_EDGAR_EMAIL"); email != "" {
		cfg.EDGAR.Email = email
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
