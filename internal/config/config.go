// Package config handles TOML configuration for nightshift.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Environment variables read by LoadFromEnv and ApplyEnv.
const (
	EnvConfigPath = "NIGHTSHIFT_CONFIG"
	EnvWebhookURL = "NIGHTSHIFT_WEBHOOK_URL"
	EnvLogLevel   = "NIGHTSHIFT_LOG_LEVEL"
	EnvDryRun     = "NIGHTSHIFT_DRY_RUN"
)

// Config is the root configuration structure.
type Config struct {
	AWS    AWSConfig    `toml:"aws"`
	Policy PolicyConfig `toml:"policy"`
	Run    RunConfig    `toml:"run"`
	Audit  AuditConfig  `toml:"audit"`
	Notify NotifyConfig `toml:"notify"`
	OTEL   OTELConfig   `toml:"otel"`
	Serve  ServeConfig  `toml:"serve"`
	Log    LogConfig    `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Profile    string `toml:"profile"`
	HomeRegion string `toml:"home_region" validate:"required"`
	// DiscoverRegions asks EC2 for the enabled regions instead of using the static catalog.
	DiscoverRegions bool `toml:"discover_regions"`
}

// PolicyConfig holds the idling policy.
type PolicyConfig struct {
	// ExemptionTags maps a tag key to the values that exempt a resource.
	ExemptionTags map[string][]string `toml:"exemption_tags"`
	ProvenanceKey string              `toml:"provenance_key" validate:"required"`
	ScaleMaxSize  int32               `toml:"scale_max_size" validate:"gte=1"`
}

// RunConfig holds per-invocation settings.
type RunConfig struct {
	TimeoutStr        string        `toml:"timeout"`
	Timeout           time.Duration `toml:"-"`
	DryRun            bool          `toml:"dry_run"`
	ActionConcurrency int           `toml:"action_concurrency" validate:"gte=1,lte=64"`
	APIRPS            float64       `toml:"api_rps" validate:"gte=0"`
}

// AuditConfig holds tag audit settings.
type AuditConfig struct {
	RequiredTags []string `toml:"required_tags" validate:"dive,required"`
}

// NotifyConfig holds notification settings.
type NotifyConfig struct {
	WebhookURL string        `toml:"webhook_url" validate:"omitempty,url"`
	TimeoutStr string        `toml:"timeout"`
	Timeout    time.Duration `toml:"-"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// ServeConfig holds settings of the long-running scheduler.
type ServeConfig struct {
	IntervalStr    string        `toml:"interval"`
	Interval       time.Duration `toml:"-"`
	MetricsAddr    string        `toml:"metrics_addr"`
	RegionPrefixes []string      `toml:"region_prefixes"`
	RunOnStart     bool          `toml:"run_on_start"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn error"`
	Format string `toml:"format" validate:"oneof=json console"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses TOML config data and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("parse config: unknown keys: %s", strings.Join(keys, ", "))
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads the file named by NIGHTSHIFT_CONFIG, or the defaults when
// it is unset, then applies the environment overrides.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvConfigPath); path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. lookup is os.LookupEnv in production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvWebhookURL); ok {
		c.Notify.WebhookURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup(EnvDryRun); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse %s=%q: %w", EnvDryRun, v, err)
		}
		c.Run.DryRun = b
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.AWS.HomeRegion == "" {
		cfg.AWS.HomeRegion = "us-east-1"
	}
	if cfg.Policy.ExemptionTags == nil {
		cfg.Policy.ExemptionTags = map[string][]string{"LIFECYCLE": {"PERSISTENT"}}
	}
	if cfg.Policy.ProvenanceKey == "" {
		cfg.Policy.ProvenanceKey = "ManagedByAutomation"
	}
	if cfg.Policy.ScaleMaxSize == 0 {
		cfg.Policy.ScaleMaxSize = 1
	}
	if cfg.Run.TimeoutStr == "" {
		cfg.Run.TimeoutStr = "5m"
	}
	if cfg.Run.ActionConcurrency == 0 {
		cfg.Run.ActionConcurrency = 4
	}
	if cfg.Notify.TimeoutStr == "" {
		cfg.Notify.TimeoutStr = "10s"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "nightshift"
	}
	if cfg.Serve.IntervalStr == "" {
		cfg.Serve.IntervalStr = "24h"
	}
	if cfg.Serve.MetricsAddr == "" {
		cfg.Serve.MetricsAddr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func parseDurations(cfg *Config) error {
	durations := []struct {
		name string
		in   string
		out  *time.Duration
	}{
		{"run.timeout", cfg.Run.TimeoutStr, &cfg.Run.Timeout},
		{"notify.timeout", cfg.Notify.TimeoutStr, &cfg.Notify.Timeout},
		{"serve.interval", cfg.Serve.IntervalStr, &cfg.Serve.Interval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.in)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", d.name, d.in, err)
		}
		*d.out = v
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		var b strings.Builder
		b.WriteString("invalid config:")
		for _, fe := range verrs {
			fmt.Fprintf(&b, "\n - %s: failed on '%s' (value: '%v')", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return errors.New(b.String())
	}

	if c.Run.Timeout <= 0 {
		return fmt.Errorf("run: timeout must be positive (got %v)", c.Run.Timeout)
	}
	if c.Serve.Interval <= 0 {
		return fmt.Errorf("serve: interval must be positive (got %v)", c.Serve.Interval)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if (c.OTEL.Traces.Enabled || c.OTEL.Metrics.Enabled) && c.OTEL.Endpoint == "" {
		return fmt.Errorf("otel: endpoint required when traces or metrics are enabled")
	}
	for key, values := range c.Policy.ExemptionTags {
		if key == "" {
			return fmt.Errorf("policy: exemption tag with empty key")
		}
		if len(values) == 0 {
			return fmt.Errorf("policy: exemption tag %q has no values", key)
		}
	}
	return nil
}
