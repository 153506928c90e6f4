package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, CurrentConfigVersion, cfg.Version)
	assert.Equal(t, "eventtime", cfg.Application.Name)
	assert.Equal(t, time.Duration(0), cfg.Watermark.AllowedLateness)
	assert.Equal(t, "default", cfg.Timestamp.Strategy)
	assert.Equal(t, time.Minute, cfg.Window.Size)
	assert.Equal(t, time.Second, cfg.Reclaimer.Interval)
	assert.Equal(t, 10000, cfg.Engine.BufferSize)
	assert.False(t, cfg.Tracing.Enabled)
	assert.NoError(t, Validate(cfg))
}

func TestProductionConfig(t *testing.T) {
	cfg := ProductionConfig()

	assert.Equal(t, "production", cfg.Application.Environment)
	assert.Equal(t, 50000, cfg.Engine.BufferSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 0.1, cfg.Tracing.SamplingRate)
	assert.NoError(t, Validate(cfg))
}

func TestDevelopmentConfig(t *testing.T) {
	cfg := DevelopmentConfig()

	assert.Equal(t, "development", cfg.Application.Environment)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.NoError(t, Validate(cfg))
}

func TestLoadYAMLConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", `
version: v1
application:
  name: clicks
  environment: test
watermark:
  max_out_of_orderness: 2s
  allowed_lateness: 5s
timestamp:
  strategy: path
  path: $.event.ts
window:
  size: 10s
  reducer: collect
reclaimer:
  idle_timeout: 30s
sources:
  nats:
    - name: clicks
      url: nats://localhost:4222
      subject: clicks.>
augment:
  region: header.region
  user: payload.user.id
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "clicks", cfg.Application.Name)
	assert.Equal(t, 2*time.Second, cfg.Watermark.MaxOutOfOrderness)
	assert.Equal(t, 5*time.Second, cfg.Watermark.AllowedLateness)
	assert.Equal(t, "$.event.ts", cfg.Timestamp.Path)
	assert.Equal(t, 10*time.Second, cfg.Window.Size)
	assert.Equal(t, 30*time.Second, cfg.Reclaimer.IdleTimeout)
	require.Len(t, cfg.Sources.NATS, 1)
	assert.Equal(t, "clicks.>", cfg.Sources.NATS[0].Subject)
	assert.Equal(t, "payload.user.id", cfg.Augment["user"])
}

func TestLoadJSONConfig(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "version": "v1",
  "application": {"name": "test-app", "environment": "test"},
  "window": {"size": 5000000000},
  "engine": {"buffer_size": 5000, "max_concurrency": 50},
  "logging": {"level": "info"}
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test-app", cfg.Application.Name)
	assert.Equal(t, 5*time.Second, cfg.Window.Size)
	assert.Equal(t, 5000, cfg.Engine.BufferSize)
}

func TestLoadConfig_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "config.toml", "version = 'v1'")

	_, err := LoadConfig(path)
	assert.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigWithDefaults(t *testing.T) {
	path := writeFile(t, "config.yaml", `
version: v1
application:
  name: minimal-app
sinks:
  timescaledb:
    - name: ts
      host: localhost
      database: metrics
      table: windows
`)

	cfg, err := LoadConfigWithDefaults(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal-app", cfg.Application.Name)
	assert.Equal(t, 10000, cfg.Engine.BufferSize)
	assert.Equal(t, time.Minute, cfg.Window.Size)
	assert.Equal(t, "count", cfg.Window.Reducer)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "eventtime", cfg.Tracing.ServiceName)
	assert.Equal(t, 5432, cfg.Sinks.TimescaleDB[0].Port)
	assert.Equal(t, 100, cfg.Sinks.TimescaleDB[0].BatchSize)
	assert.NoError(t, Validate(cfg))
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Application.Name, cfg.Application.Name)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv("EVENTTIME_APPLICATION_NAME", "env-app")
	t.Setenv("EVENTTIME_WATERMARK_ALLOWED_LATENESS", "5s")
	t.Setenv("EVENTTIME_TIMESTAMP_STRATEGY", "header")
	t.Setenv("EVENTTIME_TIMESTAMP_HEADER", "ts")
	t.Setenv("EVENTTIME_ENGINE_BUFFER_SIZE", "20000")
	t.Setenv("EVENTTIME_TRACING_ENABLED", "true")
	t.Setenv("EVENTTIME_TRACING_SAMPLING_RATE", "0.5")
	t.Setenv("EVENTTIME_LOG_LEVEL", "debug")

	require.NoError(t, ApplyEnvOverrides(cfg))

	assert.Equal(t, "env-app", cfg.Application.Name)
	assert.Equal(t, 5*time.Second, cfg.Watermark.AllowedLateness)
	assert.Equal(t, "header", cfg.Timestamp.Strategy)
	assert.Equal(t, "ts", cfg.Timestamp.Header)
	assert.Equal(t, 20000, cfg.Engine.BufferSize)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 0.5, cfg.Tracing.SamplingRate)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	tests := map[string]string{
		"EVENTTIME_WINDOW_SIZE":        "ten seconds",
		"EVENTTIME_ENGINE_BUFFER_SIZE": "lots",
		"EVENTTIME_METRICS_ENABLED":    "sure",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			err := ApplyEnvOverrides(DefaultConfig())
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing version", func(c *Config) { c.Version = "" }, "version"},
		{"newer version", func(c *Config) { c.Version = "v2" }, "version"},
		{"invalid environment", func(c *Config) { c.Application.Environment = "invalid-env" }, "application.environment"},
		{"negative lateness", func(c *Config) { c.Watermark.AllowedLateness = -time.Second }, "watermark.allowed_lateness"},
		{"negative out-of-orderness", func(c *Config) { c.Watermark.MaxOutOfOrderness = -1 }, "watermark.max_out_of_orderness"},
		{"unknown strategy", func(c *Config) { c.Timestamp.Strategy = "random" }, "timestamp.strategy"},
		{"header strategy without header", func(c *Config) { c.Timestamp.Strategy = "header" }, "timestamp.header"},
		{"path strategy without path", func(c *Config) {
			c.Timestamp.Strategy = "path"
			c.Timestamp.Path = "$."
		}, "timestamp.path"},
		{"sub-millisecond window", func(c *Config) { c.Window.Size = time.Microsecond }, "window.size"},
		{"unknown reducer", func(c *Config) { c.Window.Reducer = "sum" }, "window.reducer"},
		{"zero reclaimer interval", func(c *Config) { c.Reclaimer.Interval = 0 }, "reclaimer.interval"},
		{"invalid buffer size", func(c *Config) { c.Engine.BufferSize = -1 }, "engine.buffer_size"},
		{"kafka source without brokers", func(c *Config) {
			c.Sources.Kafka = []KafkaSourceConfig{{Name: "k", Topics: []string{"t"}, GroupID: "g"}}
		}, "sources.kafka[0].brokers"},
		{"nats source without subject", func(c *Config) {
			c.Sources.NATS = []NATSSourceConfig{{Name: "n", URL: "nats://localhost:4222"}}
		}, "sources.nats[0].subject"},
		{"kafka sink with bad compression", func(c *Config) {
			c.Sinks.Kafka = []KafkaSinkConfig{{Name: "k", Brokers: []string{"b"}, Topic: "t", Compression: "brotli"}}
		}, "sinks.kafka[0].compression"},
		{"empty augment expression", func(c *Config) { c.Augment["region"] = " " }, "augment.region"},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.ExporterType = "otlp"
			c.Tracing.ExporterEndpoint = ""
		}, "tracing.exporter_endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)

			var verrs *ValidationErrors
			require.ErrorAs(t, err, &verrs)
			fields := make([]string, 0, len(verrs.Errors))
			for _, e := range verrs.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidateConfig_Aggregates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Window.Size = 0
	cfg.Engine.MaxConcurrency = 0
	cfg.Logging.Format = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	verrs := err.(*ValidationErrors)
	assert.Len(t, verrs.Errors, 3)
	assert.Contains(t, err.Error(), "found 3 validation error(s)")
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("v1.2")
	require.NoError(t, err)
	assert.Equal(t, ConfigVersion{Major: 1, Minor: 2}, v)
	assert.Equal(t, "v1.2", v.String())
	assert.True(t, v.IsNewerThan(GetCurrentVersion()))

	_, err = ParseVersion("one")
	assert.Error(t, err)
}

func TestSaveConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Application.Name = "save-test"
	cfg.Watermark.AllowedLateness = 3 * time.Second
	dir := t.TempDir()

	for _, name := range []string{"out.yaml", "nested/out.json"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveConfig(cfg, path))

		loaded, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "save-test", loaded.Application.Name)
		assert.Equal(t, 3*time.Second, loaded.Watermark.AllowedLateness)
	}

	assert.Error(t, SaveConfig(cfg, filepath.Join(dir, "out.ini")))
}

func TestMergeConfigs(t *testing.T) {
	base := DefaultConfig()
	base.Application.Name = "base"
	base.Engine.BufferSize = 1000
	base.Augment["region"] = "header.region"

	override := &Config{
		Application: ApplicationConfig{Name: "override"},
		Watermark:   WatermarkConfig{AllowedLateness: time.Minute},
		Engine:      EngineConfig{MaxConcurrency: 200},
		Augment:     map[string]string{"user": "payload.user"},
		Sources: SourcesConfig{
			WebSocket: []WebSocketSourceConfig{{Name: "ws", Address: ":8081", Path: "/ws"}},
		},
	}

	merged := MergeConfigs(base, override)

	assert.Equal(t, "override", merged.Application.Name)
	assert.Equal(t, time.Minute, merged.Watermark.AllowedLateness)
	assert.Equal(t, 1000, merged.Engine.BufferSize)
	assert.Equal(t, 200, merged.Engine.MaxConcurrency)
	assert.Len(t, merged.Augment, 2)
	assert.Len(t, merged.Sources.WebSocket, 1)
}

const reloadBase = `
version: v1
application:
  name: reload
logging:
  level: info
`

func TestReloadableConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", reloadBase)

	rc, err := NewReloadableConfig(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "info", rc.Get().Logging.Level)

	var seen []string
	rc.OnReload(func(oldConfig, newConfig *Config) error {
		seen = append(seen, oldConfig.Logging.Level+"->"+newConfig.Logging.Level)
		return nil
	})

	// Unchanged file is a no-op
	require.NoError(t, rc.Reload())
	assert.Empty(t, seen)

	future := time.Now().Add(time.Minute)
	require.NoError(t, os.WriteFile(path, []byte(`
version: v1
application:
  name: reload
logging:
  level: debug
`), 0644))
	require.NoError(t, os.Chtimes(path, future, future))

	require.NoError(t, rc.Reload())
	assert.Equal(t, []string{"info->debug"}, seen)
	assert.Equal(t, "debug", rc.Get().Logging.Level)
}

func TestReloadableConfig_RejectsCriticalChange(t *testing.T) {
	path := writeFile(t, "config.yaml", reloadBase)

	rc, err := NewReloadableConfig(path, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(reloadBase+"window:\n  size: 5s\n"), 0644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	err = rc.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window geometry changed")
	assert.Equal(t, time.Minute, rc.Get().Window.Size)
}

func TestReloadableConfig_GetReturnsCopy(t *testing.T) {
	path := writeFile(t, "config.yaml", reloadBase)

	rc, err := NewReloadableConfig(path, nil)
	require.NoError(t, err)

	cfg := rc.Get()
	cfg.Augment["x"] = "header.y"
	cfg.Application.Tags["team"] = "data"

	assert.Empty(t, rc.Get().Augment)
	assert.Empty(t, rc.Get().Application.Tags)
}
