package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/flexpoint/errors"
	"github.com/c360/flexpoint/pkg/tlsutil"
)

// Defaults for the recognized options.
const (
	DefaultCacheTTL          = 30 * time.Minute
	DefaultAsyncQueueSize    = 1000
	DefaultAsyncCorePoolSize = 2
	DefaultAsyncMaxPoolSize  = 4
	DefaultAsyncKeepAlive    = 60 * time.Second
	DefaultEventWorkers      = 2
	DefaultEventQueueSize    = 1000
	DefaultEventHistorySize  = 100
	DefaultChainName         = "default"
	DefaultMetricsPath       = "/metrics"
	DefaultSubjectPrefix     = "flexpoint.reports"
)

// Duration is a time.Duration that reads and writes as a string such as
// "30m" or "1d".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return d.set(raw)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.set(raw)
}

func (d *Duration) set(raw any) error {
	switch v := raw.(type) {
	case string:
		parsed, err := parseDurationWithDays(v)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	case int:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// parseDurationWithDays extends time.ParseDuration with a "d" suffix.
func parseDurationWithDays(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		var n float64
		if _, err := fmt.Sscanf(days, "%g", &n); err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(s)
}

// Config is the complete runtime configuration.
type Config struct {
	// Enabled is the master switch. When false registration and lookup are no-ops.
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Registry RegistryConfig `json:"registry" yaml:"registry"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Monitor  MonitorConfig  `json:"monitor" yaml:"monitor"`
	Alert    AlertConfig    `json:"alert" yaml:"alert"`
	Event    EventConfig    `json:"event" yaml:"event"`
	Selector SelectorConfig `json:"selector" yaml:"selector"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
}

// RegistryConfig controls registration.
type RegistryConfig struct {
	AllowDuplicateRegistration bool `json:"allow_duplicate_registration" yaml:"allow_duplicate_registration"`
}

// CacheConfig controls the decision cache.
type CacheConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	TTL     Duration `json:"ttl" yaml:"ttl"`
}

// MonitorConfig controls the monitoring pipeline.
type MonitorConfig struct {
	Enabled           bool     `json:"enabled" yaml:"enabled"`
	AsyncEnabled      bool     `json:"async_enabled" yaml:"async_enabled"`
	AsyncQueueSize    int      `json:"async_queue_size" yaml:"async_queue_size"`
	AsyncCorePoolSize int      `json:"async_core_pool_size" yaml:"async_core_pool_size"`
	AsyncMaxPoolSize  int      `json:"async_max_pool_size" yaml:"async_max_pool_size"`
	AsyncKeepAlive    Duration `json:"async_keep_alive" yaml:"async_keep_alive"`
}

// AlertConfig controls the built-in alert strategies. Zero thresholds
// disable the matching strategy.
type AlertConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	SuccessRateFloor float64  `json:"success_rate_floor" yaml:"success_rate_floor"`
	MinSamples       int64    `json:"min_samples" yaml:"min_samples"`
	AverageLatency   Duration `json:"average_latency" yaml:"average_latency"`
	P99Latency       Duration `json:"p99_latency" yaml:"p99_latency"`
	ExceptionLimit   int64    `json:"exception_limit" yaml:"exception_limit"`
	ThrottleInterval Duration `json:"throttle_interval" yaml:"throttle_interval"`
}

// EventConfig controls the event bus.
type EventConfig struct {
	AsyncWorkers int `json:"async_workers" yaml:"async_workers"`
	QueueSize    int `json:"queue_size" yaml:"queue_size"`
	HistorySize  int `json:"history_size" yaml:"history_size"`
}

// SelectorConfig names the default chain and defines additional chains as
// ordered lists of selector names.
type SelectorConfig struct {
	DefaultChain string              `json:"default_chain" yaml:"default_chain"`
	Chains       map[string][]string `json:"chains,omitempty" yaml:"chains,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`

	TLS tlsutil.ServerConfig `json:"tls" yaml:"tls"`
}

// NATSConfig controls report forwarding over NATS.
type NATSConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	URL           string   `json:"url" yaml:"url"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
	SubjectPrefix string   `json:"subject_prefix" yaml:"subject_prefix"`
	Stream        string   `json:"stream,omitempty" yaml:"stream,omitempty"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`

	TLS tlsutil.ClientConfig `json:"tls" yaml:"tls"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Enabled: true,
		Cache:   CacheConfig{Enabled: true, TTL: Duration(DefaultCacheTTL)},
		Monitor: MonitorConfig{
			Enabled:           true,
			AsyncQueueSize:    DefaultAsyncQueueSize,
			AsyncCorePoolSize: DefaultAsyncCorePoolSize,
			AsyncMaxPoolSize:  DefaultAsyncMaxPoolSize,
			AsyncKeepAlive:    Duration(DefaultAsyncKeepAlive),
		},
		Alert: AlertConfig{
			Enabled:          true,
			SuccessRateFloor: 0.9,
			MinSamples:       20,
			P99Latency:       Duration(time.Second),
			ExceptionLimit:   10,
			ThrottleInterval: Duration(time.Minute),
		},
		Event: EventConfig{
			AsyncWorkers: DefaultEventWorkers,
			QueueSize:    DefaultEventQueueSize,
			HistorySize:  DefaultEventHistorySize,
		},
		Selector: SelectorConfig{DefaultChain: DefaultChainName},
		Metrics:  MetricsConfig{Port: 9090, Path: DefaultMetricsPath},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: DefaultSubjectPrefix,
			Timeout:       Duration(5 * time.Second),
		},
	}
}

// Validate checks semantic constraints that the schema cannot express.
// Every violation is reported, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Cache.Enabled && c.Cache.TTL < 0 {
		add("cache.ttl must not be negative")
	}
	if c.Monitor.Enabled && c.Monitor.AsyncEnabled {
		if c.Monitor.AsyncQueueSize <= 0 {
			add("monitor.async_queue_size must be > 0 when async is enabled")
		}
		if c.Monitor.AsyncCorePoolSize <= 0 {
			add("monitor.async_core_pool_size must be > 0 when async is enabled")
		}
		if c.Monitor.AsyncMaxPoolSize > 0 && c.Monitor.AsyncMaxPoolSize < c.Monitor.AsyncCorePoolSize {
			add("monitor.async_max_pool_size (%d) is below async_core_pool_size (%d)",
				c.Monitor.AsyncMaxPoolSize, c.Monitor.AsyncCorePoolSize)
		}
	}
	if c.Alert.SuccessRateFloor < 0 || c.Alert.SuccessRateFloor > 1 {
		add("alert.success_rate_floor must be within [0, 1]")
	}
	if c.Event.AsyncWorkers < 0 || c.Event.QueueSize < 0 || c.Event.HistorySize < 0 {
		add("event sizes must not be negative")
	}
	if c.Selector.DefaultChain == "" {
		add("selector.default_chain is required")
	}
	for _, name := range sortedKeys(c.Selector.Chains) {
		if name == "" {
			add("selector.chains has an unnamed chain")
		}
		if len(c.Selector.Chains[name]) == 0 {
			add("selector chain %q lists no selectors", name)
		}
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		add("metrics.port %d is out of range", c.Metrics.Port)
	}
	if err := c.Metrics.TLS.Validate(); err != nil {
		add("metrics.tls: %v", err)
	}
	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			add("nats.url is required when nats is enabled")
		}
		if !isValidSubject(c.NATS.SubjectPrefix) {
			add("nats.subject_prefix %q is not a valid subject", c.NATS.SubjectPrefix)
		}
		if err := c.NATS.TLS.Validate(); err != nil {
			add("nats.tls: %v", err)
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(problems, "; ")),
		"Config", "Validate", "check configuration")
}

// isValidSubject accepts dot-separated NATS tokens without wildcards.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if part == "" || strings.ContainsAny(part, " \t*>") {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := c
	if c.Selector.Chains != nil {
		out.Selector.Chains = make(map[string][]string, len(c.Selector.Chains))
		for name, selectors := range c.Selector.Chains {
			out.Selector.Chains[name] = append([]string(nil), selectors...)
		}
	}
	out.NATS.TLS.CAFiles = append([]string(nil), c.NATS.TLS.CAFiles...)
	return out
}

// String renders the configuration as JSON with credentials masked.
func (c Config) String() string {
	masked := c.Clone()
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg Config) *SafeConfig {
	return &SafeConfig{config: cfg.Clone()}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update replaces the configuration after validation
func (sc *SafeConfig) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}
