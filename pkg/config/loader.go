package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type format struct {
	name      string
	unmarshal func([]byte, interface{}) error
	marshal   func(interface{}) ([]byte, error)
}

var formats = map[string]format{
	".yaml": {name: "YAML", unmarshal: yaml.Unmarshal, marshal: yaml.Marshal},
	".yml":  {name: "YAML", unmarshal: yaml.Unmarshal, marshal: yaml.Marshal},
	".json": {name: "JSON", unmarshal: json.Unmarshal, marshal: func(v interface{}) ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}},
}

func formatFor(path string) (format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	f, ok := formats[ext]
	if !ok {
		return format{}, fmt.Errorf("config file %s: extension %q is not one of .yaml, .yml, .json", path, ext)
	}
	return f, nil
}

// LoadConfig parses a YAML or JSON file as-is, without defaults or validation
func LoadConfig(path string) (*Config, error) {
	f, err := formatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := f.unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s config %s: %w", f.name, path, err)
	}
	return config, nil
}

// LoadConfigWithDefaults loads path and fills every unset field from DefaultConfig
func LoadConfigWithDefaults(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	applyDefaults(config)
	return config, nil
}

// LoadOrDefault falls back to DefaultConfig when path does not exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return LoadConfigWithDefaults(path)
}

// SaveConfig writes config to path, creating parent directories. The
// extension picks the encoding.
func SaveConfig(config *Config, path string) error {
	f, err := formatFor(path)
	if err != nil {
		return err
	}
	data, err := f.marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode config as %s: %w", f.name, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// orDefault replaces the zero value at dst with def
func orDefault[T comparable](dst *T, def T) {
	var zero T
	if *dst == zero {
		*dst = def
	}
}

// override copies src over dst unless src is the zero value
func override[T comparable](dst *T, src T) {
	var zero T
	if src != zero {
		*dst = src
	}
}

func applyDefaults(config *Config) {
	d := DefaultConfig()

	orDefault(&config.Version, d.Version)
	orDefault(&config.Application.Name, d.Application.Name)
	orDefault(&config.Application.Environment, d.Application.Environment)
	if config.Application.Tags == nil {
		config.Application.Tags = map[string]string{}
	}

	orDefault(&config.Timestamp.Strategy, d.Timestamp.Strategy)
	orDefault(&config.Window.Size, d.Window.Size)
	orDefault(&config.Window.Reducer, d.Window.Reducer)
	orDefault(&config.Reclaimer.Interval, d.Reclaimer.Interval)
	orDefault(&config.Reclaimer.ShutdownTimeout, d.Reclaimer.ShutdownTimeout)

	e := &config.Engine
	orDefault(&e.BufferSize, d.Engine.BufferSize)
	orDefault(&e.MaxConcurrency, d.Engine.MaxConcurrency)
	orDefault(&e.WatermarkInterval, d.Engine.WatermarkInterval)
	orDefault(&e.MetricsInterval, d.Engine.MetricsInterval)
	orDefault(&e.ShutdownTimeout, d.Engine.ShutdownTimeout)

	orDefault(&config.ErrorHandling.SideOutputBufferSize, d.ErrorHandling.SideOutputBufferSize)

	for i := range config.Sinks.TimescaleDB {
		ts := &config.Sinks.TimescaleDB[i]
		orDefault(&ts.Port, 5432)
		orDefault(&ts.SSLMode, "disable")
		orDefault(&ts.BatchSize, 100)
		orDefault(&ts.FlushInterval, time.Second)
	}

	orDefault(&config.Schema.Timeout, d.Schema.Timeout)
	if config.Augment == nil {
		config.Augment = map[string]string{}
	}

	orDefault(&config.Metrics.Address, d.Metrics.Address)
	orDefault(&config.Logging.Level, d.Logging.Level)
	orDefault(&config.Logging.Format, d.Logging.Format)
	if len(config.Logging.OutputPaths) == 0 {
		config.Logging.OutputPaths = d.Logging.OutputPaths
	}

	tr := &config.Tracing
	orDefault(&tr.ServiceName, d.Tracing.ServiceName)
	orDefault(&tr.ServiceVersion, d.Tracing.ServiceVersion)
	orDefault(&tr.Environment, config.Application.Environment)
	orDefault(&tr.ExporterType, d.Tracing.ExporterType)
	orDefault(&tr.ExporterEndpoint, d.Tracing.ExporterEndpoint)
	orDefault(&tr.SamplingRate, d.Tracing.SamplingRate)
}

// MergeConfigs folds configs left to right into the first one. Non-zero
// scalars override, maps are merged and source/sink lists are appended.
func MergeConfigs(configs ...*Config) *Config {
	if len(configs) == 0 {
		return DefaultConfig()
	}
	result := configs[0]
	for _, c := range configs[1:] {
		mergeInto(result, c)
	}
	return result
}

func mergeInto(dst, src *Config) {
	override(&dst.Application.Name, src.Application.Name)
	override(&dst.Application.Environment, src.Application.Environment)
	dst.Application.Tags = mergeMap(dst.Application.Tags, src.Application.Tags)

	override(&dst.Watermark.MaxOutOfOrderness, src.Watermark.MaxOutOfOrderness)
	override(&dst.Watermark.AllowedLateness, src.Watermark.AllowedLateness)
	override(&dst.Timestamp.Strategy, src.Timestamp.Strategy)
	override(&dst.Timestamp.Header, src.Timestamp.Header)
	override(&dst.Timestamp.Path, src.Timestamp.Path)
	override(&dst.Window.Size, src.Window.Size)
	override(&dst.Window.Offset, src.Window.Offset)
	override(&dst.Window.Reducer, src.Window.Reducer)

	override(&dst.Reclaimer.Interval, src.Reclaimer.Interval)
	override(&dst.Reclaimer.IdleTimeout, src.Reclaimer.IdleTimeout)
	override(&dst.Reclaimer.ShutdownTimeout, src.Reclaimer.ShutdownTimeout)

	override(&dst.Engine.BufferSize, src.Engine.BufferSize)
	override(&dst.Engine.MaxConcurrency, src.Engine.MaxConcurrency)
	override(&dst.Engine.WatermarkInterval, src.Engine.WatermarkInterval)
	override(&dst.Engine.MetricsInterval, src.Engine.MetricsInterval)
	override(&dst.Engine.ShutdownTimeout, src.Engine.ShutdownTimeout)

	// false is meaningful, so side output switches always follow src
	dst.ErrorHandling.EnableSideOutputs = src.ErrorHandling.EnableSideOutputs
	dst.ErrorHandling.LateSideOutput = src.ErrorHandling.LateSideOutput
	dst.ErrorHandling.DiscardedSideOutput = src.ErrorHandling.DiscardedSideOutput
	dst.ErrorHandling.ErrorSideOutput = src.ErrorHandling.ErrorSideOutput

	dst.Augment = mergeMap(dst.Augment, src.Augment)

	dst.Sources.Kafka = append(dst.Sources.Kafka, src.Sources.Kafka...)
	dst.Sources.NATS = append(dst.Sources.NATS, src.Sources.NATS...)
	dst.Sources.HTTP = append(dst.Sources.HTTP, src.Sources.HTTP...)
	dst.Sources.WebSocket = append(dst.Sources.WebSocket, src.Sources.WebSocket...)
	dst.Sinks.Kafka = append(dst.Sinks.Kafka, src.Sinks.Kafka...)
	dst.Sinks.TimescaleDB = append(dst.Sinks.TimescaleDB, src.Sinks.TimescaleDB...)
}

func mergeMap(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
