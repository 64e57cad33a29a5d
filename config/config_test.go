package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flexpoint/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL.Std())
	assert.False(t, cfg.Monitor.AsyncEnabled)
	assert.Equal(t, DefaultAsyncQueueSize, cfg.Monitor.AsyncQueueSize)
	assert.Equal(t, DefaultChainName, cfg.Selector.DefaultChain)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "flexpoint.yaml", `
enabled: true
registry:
  allow_duplicate_registration: true
cache:
  ttl: 5m
monitor:
  async_enabled: true
  async_queue_size: 1
  async_keep_alive: 1d
selector:
  chains:
    tenant-first: [tenant, code, first]
`)
	t.Setenv("FLEXPOINT_ENABLED", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Registry.AllowDuplicateRegistration)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.Std())
	assert.True(t, cfg.Cache.Enabled, "omitted fields keep their defaults")
	assert.True(t, cfg.Monitor.AsyncEnabled)
	assert.Equal(t, 1, cfg.Monitor.AsyncQueueSize)
	assert.Equal(t, DefaultAsyncCorePoolSize, cfg.Monitor.AsyncCorePoolSize)
	assert.Equal(t, 24*time.Hour, cfg.Monitor.AsyncKeepAlive.Std())
	assert.Equal(t, []string{"tenant", "code", "first"}, cfg.Selector.Chains["tenant-first"])
}

func TestLoad_JSONLayers(t *testing.T) {
	base := writeFile(t, "base.json", `{"cache": {"ttl": "10m"}, "event": {"history_size": 5}}`)
	override := writeFile(t, "override.json", `{"cache": {"enabled": false}, "metrics": {"enabled": true, "port": 9191}}`)

	l := NewLoader()
	l.SetEnvPrefix("")
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL.Std())
	assert.Equal(t, 5, cfg.Event.HistorySize)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
}

func TestLoad_SchemaRejections(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown key", "a.yaml", "cache:\n  size: 10\n"},
		{"wrong type", "b.json", `{"enabled": "yes"}`},
		{"bad duration", "c.yaml", "cache:\n  ttl: soon\n"},
		{"negative size", "d.json", `{"monitor": {"async_queue_size": -1}}`},
		{"empty chain", "e.yaml", "selector:\n  chains:\n    broken: []\n"},
		{"floor out of range", "f.json", `{"alert": {"success_rate_floor": 1.5}}`},
		{"tls version", "g.yaml", "metrics:\n  tls:\n    min_version: \"1.0\"\n"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeFile(t, test.file, test.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestLoad_FileErrors(t *testing.T) {
	_, err := Load(writeFile(t, "config.toml", "enabled = true"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "broken.json", `{"enabled": `))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = Load("../outside.yaml")
	assert.ErrorContains(t, err, "escapes working directory")

	deep := strings.Repeat(`{"a":`, maxDocDepth+1) + "1" + strings.Repeat("}", maxDocDepth+1)
	_, err = Load(writeFile(t, "deep.json", deep))
	assert.ErrorContains(t, err, "nesting")
}

func TestCheckEnvValue(t *testing.T) {
	assert.NoError(t, checkEnvValue("K", "nats://localhost:4222"))
	assert.Error(t, checkEnvValue("K", "a\x00b"))
	assert.Error(t, checkEnvValue("K", strings.Repeat("x", maxEnvVarLen+1)))
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "flexpoint.json", `{"enabled": true}`)
	t.Setenv("FLEXPOINT_ENABLED", "false")
	t.Setenv("FLEXPOINT_CACHE_TTL", "2h")
	t.Setenv("FLEXPOINT_NATS_URL", "nats://broker:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Cache.TTL.Std())
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)

	t.Setenv("FLEXPOINT_MONITOR_ENABLED", "maybe")
	_, err = Load(path)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"async without queue", func(c *Config) {
			c.Monitor.AsyncEnabled = true
			c.Monitor.AsyncQueueSize = 0
		}},
		{"async without workers", func(c *Config) {
			c.Monitor.AsyncEnabled = true
			c.Monitor.AsyncCorePoolSize = 0
		}},
		{"max below core", func(c *Config) {
			c.Monitor.AsyncEnabled = true
			c.Monitor.AsyncCorePoolSize = 4
			c.Monitor.AsyncMaxPoolSize = 2
		}},
		{"no default chain", func(c *Config) { c.Selector.DefaultChain = "" }},
		{"empty chain", func(c *Config) { c.Selector.Chains = map[string][]string{"x": nil} }},
		{"metrics port", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = 70000
		}},
		{"nats wildcard subject", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.SubjectPrefix = "reports.>"
		}},
		{"metrics tls without key", func(c *Config) {
			c.Metrics.TLS.Enabled = true
			c.Metrics.TLS.CertFile = "cert.pem"
		}},
		{"nats tls half client cert", func(c *Config) {
			c.NATS.Enabled = true
			c.NATS.TLS.Enabled = true
			c.NATS.TLS.KeyFile = "key.pem"
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
		})
	}

	t.Run("async disabled ignores pool sizes", func(t *testing.T) {
		cfg := Default()
		cfg.Monitor.AsyncQueueSize = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Cache.TTL = Duration(90 * time.Second)
	cfg.Selector.Chains = map[string][]string{"grey": {"code", "first"}}

	for _, name := range []string{"out.yaml", "out.json"} {
		path := filepath.Join(dir, name)
		require.NoError(t, cfg.SaveToFile(path))

		l := NewLoader()
		l.SetEnvPrefix("")
		l.AddLayer(path)
		loaded, err := l.Load()
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
}

func TestString_MasksToken(t *testing.T) {
	cfg := Default()
	cfg.NATS.Token = "s3cr3t"
	assert.NotContains(t, cfg.String(), "s3cr3t")
	assert.Equal(t, "s3cr3t", cfg.NATS.Token)
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(Default())

	bad := Default()
	bad.Selector.DefaultChain = ""
	assert.Error(t, sc.Update(bad))
	assert.Equal(t, DefaultChainName, sc.Get().Selector.DefaultChain)

	got := sc.Get()
	got.Selector.Chains = map[string][]string{"mutated": {"code"}}
	assert.Nil(t, sc.Get().Selector.Chains, "Get returns a copy")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				next := Default()
				next.Event.HistorySize = i
				assert.NoError(t, sc.Update(next))
				return
			}
			_ = sc.Get()
		}(i)
	}
	wg.Wait()
}
