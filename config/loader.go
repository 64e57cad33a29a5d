package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/flexpoint/errors"
)

//go:embed schema.json
var schemaJSON []byte

// DefaultEnvPrefix prefixes the environment overrides, e.g. FLEXPOINT_ENABLED.
const DefaultEnvPrefix = "FLEXPOINT"

type format int

const (
	formatUnknown format = iota
	formatJSON
	formatYAML
)

func formatOf(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatUnknown
	}
}

// Schema returns the JSON schema every configuration document must satisfy.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader with validation enabled
func NewLoader() *Loader {
	return &Loader{validation: true, envPrefix: DefaultEnvPrefix}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables semantic validation of the result.
// Schema checks on each layer always run.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment override prefix. Empty disables overrides.
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// Load reads a single file over the defaults, applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	l := NewLoader()
	l.AddLayer(path)
	return l.Load()
}

// Load merges all layers over Default.
func (l *Loader) Load() (Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		if err := l.apply(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func (l *Loader) apply(cfg *Config, path string) error {
	data, err := safeReadFile(path)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "read "+path)
	}

	doc, err := decode(path, data)
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "Load", "parse "+path)
	}

	if err := ValidateDocument(doc); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%s: %w", path, err), "Loader", "Load", "schema check")
	}

	// Re-encoding the document as JSON lets one set of struct tags drive
	// both formats, and decoding onto cfg keeps fields the layer omits.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "Load", "normalize "+path)
	}
	if err := json.Unmarshal(normalized, cfg); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err),
			"Loader", "Load", "decode "+path)
	}
	return nil
}

func decode(path string, data []byte) (map[string]any, error) {
	doc := map[string]any{}
	switch formatOf(path) {
	case formatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case formatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}
	if err := checkDepth(doc, 1); err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidateDocument checks a decoded configuration document against Schema.
func ValidateDocument(doc any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("%w: schema validation: %v", errors.ErrInvalidConfig, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; "))
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if l.envPrefix == "" {
		return nil
	}

	bools := map[string]*bool{
		"ENABLED":               &cfg.Enabled,
		"CACHE_ENABLED":         &cfg.Cache.Enabled,
		"MONITOR_ENABLED":       &cfg.Monitor.Enabled,
		"MONITOR_ASYNC_ENABLED": &cfg.Monitor.AsyncEnabled,
		"METRICS_ENABLED":       &cfg.Metrics.Enabled,
		"NATS_ENABLED":          &cfg.NATS.Enabled,
	}
	for suffix, target := range bools {
		val, ok, err := l.env(suffix)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return l.envError(suffix, err)
		}
		*target = b
	}

	if val, ok, err := l.env("CACHE_TTL"); err != nil {
		return err
	} else if ok {
		d, err := parseDurationWithDays(val)
		if err != nil {
			return l.envError("CACHE_TTL", err)
		}
		cfg.Cache.TTL = Duration(d)
	}

	if val, ok, err := l.env("METRICS_PORT"); err != nil {
		return err
	} else if ok {
		port, err := strconv.Atoi(val)
		if err != nil {
			return l.envError("METRICS_PORT", err)
		}
		cfg.Metrics.Port = port
	}

	if val, ok, err := l.env("NATS_URL"); err != nil {
		return err
	} else if ok {
		cfg.NATS.URL = val
	}
	if val, ok, err := l.env("NATS_TOKEN"); err != nil {
		return err
	} else if ok {
		cfg.NATS.Token = val
	}
	return nil
}

func (l *Loader) env(suffix string) (string, bool, error) {
	key := l.envPrefix + "_" + suffix
	val := os.Getenv(key)
	if val == "" {
		return "", false, nil
	}
	if err := checkEnvValue(key, val); err != nil {
		return "", false, errors.WrapInvalid(err, "Loader", "Load", "environment override")
	}
	return val, true, nil
}

func (l *Loader) envError(suffix string, err error) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, l.envPrefix, suffix, err),
		"Loader", "Load", "environment override")
}

// SaveToFile writes the configuration as JSON or YAML, chosen by extension.
func (c Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch formatOf(path) {
	case formatYAML:
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "encode")
	}
	return safeWriteFile(path, data)
}
