// Package config provides configuration structures and loading logic for tracecov.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned when the configuration file or a required key
// is missing or invalid.
var ErrConfiguration = errors.New("configuration error")

// ModeEnv selects which configuration file is loaded.
const ModeEnv = "TRACECOV_MODE"

const (
	ModeLocal   = "local"
	ModeCluster = "cluster"
)

// Config represents the root configuration structure for tracecov.
type Config struct {
	App           AppConfig                `mapstructure:"app"`
	Services      map[string]ServiceConfig `mapstructure:"services"`
	Test          TestConfig               `mapstructure:"test"`
	Observability ObservabilityConfig      `mapstructure:"observability"`
	Coverage      CoverageConfig           `mapstructure:"coverage"`
	History       HistoryConfig            `mapstructure:"history"`
	Output        OutputConfig             `mapstructure:"output"`

	// Mode is the environment mode the file was selected for.
	Mode string `mapstructure:"-"`
}

// AppConfig defines settings for the long-running HTTP mode.
type AppConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// ServiceConfig is the gRPC endpoint of one service under test.
type ServiceConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Endpoint returns host:port.
func (s ServiceConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TestConfig defines test-run settings shared with the harness.
type TestConfig struct {
	Timeout       string `mapstructure:"timeout"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
}

// ObservabilityConfig groups tracing backend settings.
type ObservabilityConfig struct {
	Jaeger JaegerConfig `mapstructure:"jaeger"`
}

// JaegerConfig defines connection settings for the Jaeger query API.
type JaegerConfig struct {
	URL            string `mapstructure:"url"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Timeout        string `mapstructure:"timeout"`
	RetryMax       int    `mapstructure:"retry_max"`
	HarnessService string `mapstructure:"harness_service"`
	Limit          int    `mapstructure:"limit"`
}

// BaseURL returns the explicit URL if set, otherwise one built from host and port.
func (c *JaegerConfig) BaseURL() string {
	if c.URL != "" {
		return strings.TrimRight(c.URL, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// GetTimeoutDuration parses the configured string timeout into a time.Duration.
func (c *JaegerConfig) GetTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// CoverageConfig defines span classification and report settings.
type CoverageConfig struct {
	Namespace         string              `mapstructure:"namespace"`
	BusinessFragments []string            `mapstructure:"business_fragments"`
	Allowlist         []string            `mapstructure:"allowlist"`
	Inventory         map[string][]string `mapstructure:"inventory"`
	InventoryFile     string              `mapstructure:"inventory_file"`
	Output            string              `mapstructure:"output"`
	TimeBuffer        string              `mapstructure:"time_buffer"`
}

// DefaultTimeBuffer pads narrow query windows when coverage.time_buffer is unset.
const DefaultTimeBuffer = 30 * time.Second

// GetTimeBufferDuration returns the query buffer applied to narrow windows.
// An explicit "0s" disables padding.
func (c *CoverageConfig) GetTimeBufferDuration() time.Duration {
	d, err := time.ParseDuration(c.TimeBuffer)
	if c.TimeBuffer == "" || err != nil {
		return DefaultTimeBuffer
	}
	return d
}

// HistoryConfig defines the SQLite report history.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// OutputConfig defines the notification channels for finished reports.
type OutputConfig struct {
	Slack SlackOutputConfig `mapstructure:"slack"`
}

// SlackOutputConfig defines settings for the Slack incoming webhook integration.
type SlackOutputConfig struct {
	WebhookURLEnv string `mapstructure:"webhook_url_env"`
	WebhookURL    string `mapstructure:"-"`
	Enabled       bool   `mapstructure:"enabled"`
}

// FileName returns the config file base name for a mode.
func FileName(mode string) string {
	if mode == ModeCluster {
		return "services-cluster"
	}
	return "services"
}

// Load reads configuration for the mode named by TRACECOV_MODE. When path is
// non-empty it is read directly; otherwise services.yaml (local) or
// services-cluster.yaml (cluster) is searched for in ./config, . and
// /etc/tracecov. A missing file is not an error: defaults and environment
// variables still apply.
func Load(path string) (*Config, error) {
	mode := strings.ToLower(os.Getenv(ModeEnv))
	if mode == "" {
		mode = ModeLocal
	}
	if mode != ModeLocal && mode != ModeCluster {
		return nil, fmt.Errorf("%w: %s must be %q or %q, got %q", ErrConfiguration, ModeEnv, ModeLocal, ModeCluster, mode)
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName(mode))
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tracecov")
	}

	// Allow environment variables to override config
	v.SetEnvPrefix("TRACECOV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrConfiguration, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal config: %v", ErrConfiguration, err)
	}
	cfg.Mode = mode

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Coverage.InventoryFile != "" {
		inv, err := LoadInventory(cfg.Coverage.InventoryFile)
		if err != nil {
			return nil, err
		}
		cfg.Coverage.Inventory = MergeInventory(cfg.Coverage.Inventory, inv)
	}

	if cfg.Output.Slack.WebhookURLEnv != "" {
		cfg.Output.Slack.WebhookURL = os.Getenv(cfg.Output.Slack.WebhookURLEnv)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("test.timeout", "30s")
	v.SetDefault("test.retry_attempts", 3)
	v.SetDefault("observability.jaeger.host", "localhost")
	v.SetDefault("observability.jaeger.port", 16686)
	v.SetDefault("observability.jaeger.timeout", "30s")
	v.SetDefault("observability.jaeger.retry_max", 2)
	v.SetDefault("observability.jaeger.harness_service", "test-framework")
	v.SetDefault("observability.jaeger.limit", 1000)
	v.SetDefault("coverage.namespace", "hipstershop")
	v.SetDefault("coverage.business_fragments", DefaultBusinessFragments)
	v.SetDefault("coverage.output", "reports/coverage.json")
	v.SetDefault("coverage.time_buffer", "30s")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.path", "reports/history.db")
}

// DefaultBusinessFragments are the domain service name fragments that mark a
// span as business logic.
var DefaultBusinessFragments = []string{
	"productcatalog", "cart", "recommendation", "checkout",
	"payment", "shipping", "currency", "email", "ad", "frontend",
}

func (c *Config) validate() error {
	j := c.Observability.Jaeger
	if j.URL == "" && (j.Host == "" || j.Port <= 0) {
		return fmt.Errorf("%w: observability.jaeger needs url or host and port", ErrConfiguration)
	}
	if j.HarnessService == "" {
		return fmt.Errorf("%w: observability.jaeger.harness_service is empty", ErrConfiguration)
	}
	if j.Limit <= 0 {
		return fmt.Errorf("%w: observability.jaeger.limit must be positive", ErrConfiguration)
	}
	if c.Coverage.Namespace == "" {
		return fmt.Errorf("%w: coverage.namespace is empty", ErrConfiguration)
	}
	if c.Coverage.TimeBuffer != "" {
		d, err := time.ParseDuration(c.Coverage.TimeBuffer)
		if err != nil || d < 0 {
			return fmt.Errorf("%w: coverage.time_buffer must be a non-negative duration, got %q", ErrConfiguration, c.Coverage.TimeBuffer)
		}
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("%w: history.path is required when history is enabled", ErrConfiguration)
	}
	for name, svc := range c.Services {
		if svc.Host == "" || svc.Port <= 0 {
			return fmt.Errorf("%w: services.%s needs host and port", ErrConfiguration, name)
		}
	}
	return nil
}

// LoadInventory reads a YAML document mapping service names to the RPC
// methods they expose.
func LoadInventory(path string) (map[string][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read inventory: %v", ErrConfiguration, err)
	}

	var inv map[string][]string
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("%w: failed to parse inventory %s: %v", ErrConfiguration, path, err)
	}
	return inv, nil
}

// MergeInventory returns the union of a and b with duplicate methods removed.
// Service names are lowercased to match attributed service names.
func MergeInventory(a, b map[string][]string) map[string][]string {
	out := make(map[string][]string, len(a)+len(b))
	seen := make(map[string]map[string]struct{})
	for _, src := range []map[string][]string{a, b} {
		for service, methods := range src {
			service = strings.ToLower(service)
			if seen[service] == nil {
				seen[service] = make(map[string]struct{})
				out[service] = []string{}
			}
			for _, m := range methods {
				if _, dup := seen[service][m]; dup {
					continue
				}
				seen[service][m] = struct{}{}
				out[service] = append(out[service], m)
			}
		}
	}
	return out
}
