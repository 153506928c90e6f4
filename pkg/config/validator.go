package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/timestamp"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/tracing"
)

// ValidationError is one rejected config field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every problem found in one Validate pass
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "config is valid"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "found %d validation error(s):", len(e.Errors))
	for i := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(e.Errors[i].Error())
	}
	return sb.String()
}

func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, ValidationError{Field: field, Message: message})
}

// required records field when value is blank
func (e *ValidationErrors) required(field, value, what string) {
	if strings.TrimSpace(value) == "" {
		e.Add(field, what+" is required")
	}
}

// positive records field when value is zero or negative
func positive[T int | time.Duration](errs *ValidationErrors, field string, value T, what string) {
	if value <= 0 {
		errs.Add(field, what+" must be positive")
	}
}

// Validate checks the whole configuration and returns *ValidationErrors
// listing every problem, or nil
func Validate(config *Config) error {
	errs := &ValidationErrors{}
	for _, check := range []func(*Config, *ValidationErrors){
		validateVersion,
		validateApplication,
		validateWatermark,
		validateTimestamp,
		validateWindow,
		validateReclaimer,
		validateEngine,
		validateErrorHandling,
		validateSources,
		validateSinks,
		validateAugment,
		validateMetrics,
		validateLogging,
		validateTracing,
	} {
		check(config, errs)
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateVersion(config *Config, errs *ValidationErrors) {
	if err := ValidateVersion(config); err != nil {
		errs.Add("version", err.Error())
	}
}

func validateApplication(config *Config, errs *ValidationErrors) {
	errs.required("application.name", config.Application.Name, "application name")
	if config.Application.Environment != "" {
		checkOneOf(errs, "application.environment", "environment", config.Application.Environment,
			"development", "staging", "production", "test")
	}
}

func validateWatermark(config *Config, errs *ValidationErrors) {
	if config.Watermark.MaxOutOfOrderness < 0 {
		errs.Add("watermark.max_out_of_orderness", "max out-of-orderness must not be negative")
	}

	if config.Watermark.AllowedLateness < 0 {
		errs.Add("watermark.allowed_lateness", "allowed lateness must not be negative")
	}
}

func validateTimestamp(config *Config, errs *ValidationErrors) {
	ts := config.Timestamp
	if !checkOneOf(errs, "timestamp.strategy", "strategy", ts.Strategy,
		timestamp.StrategyDefault, timestamp.StrategyHeader, timestamp.StrategyPath, timestamp.StrategyProcessing) {
		return
	}

	switch ts.Strategy {
	case timestamp.StrategyHeader:
		if strings.TrimSpace(ts.Header) == "" {
			errs.Add("timestamp.header", "header name is required for the header strategy")
		}
	case timestamp.StrategyPath:
		if timestamp.ToQuery(timestamp.NormalizePath(ts.Path)) == "" {
			errs.Add("timestamp.path", "field path is required for the path strategy")
		}
	}
}

func validateWindow(config *Config, errs *ValidationErrors) {
	if config.Window.Size < time.Millisecond {
		errs.Add("window.size", "window size must be at least 1ms")
	}

	if config.Window.Offset < 0 {
		errs.Add("window.offset", "window offset must not be negative")
	}

	checkOneOf(errs, "window.reducer", "reducer", config.Window.Reducer, "count", "collect")
}

func validateReclaimer(config *Config, errs *ValidationErrors) {
	r := config.Reclaimer
	positive(errs, "reclaimer.interval", r.Interval, "reclaimer interval")
	if r.IdleTimeout < 0 {
		errs.Add("reclaimer.idle_timeout", "idle timeout must not be negative")
	}
	positive(errs, "reclaimer.shutdown_timeout", r.ShutdownTimeout, "shutdown timeout")
}

func validateEngine(config *Config, errs *ValidationErrors) {
	e := config.Engine
	positive(errs, "engine.buffer_size", e.BufferSize, "buffer size")
	positive(errs, "engine.max_concurrency", e.MaxConcurrency, "max concurrency")
	positive(errs, "engine.watermark_interval", e.WatermarkInterval, "watermark interval")
	positive(errs, "engine.metrics_interval", e.MetricsInterval, "metrics interval")
	positive(errs, "engine.shutdown_timeout", e.ShutdownTimeout, "shutdown timeout")
}

func validateErrorHandling(config *Config, errs *ValidationErrors) {
	if config.ErrorHandling.EnableSideOutputs {
		positive(errs, "error_handling.side_output_buffer_size", config.ErrorHandling.SideOutputBufferSize, "side output buffer size")
	}
}

func validateSources(config *Config, errs *ValidationErrors) {
	for i, k := range config.Sources.Kafka {
		at := fmt.Sprintf("sources.kafka[%d].", i)
		errs.required(at+"name", k.Name, "source name")
		if len(k.Brokers) == 0 {
			errs.Add(at+"brokers", "at least one broker is required")
		}
		if len(k.Topics) == 0 {
			errs.Add(at+"topics", "at least one topic is required")
		}
		errs.required(at+"group_id", k.GroupID, "consumer group")
	}

	for i, n := range config.Sources.NATS {
		at := fmt.Sprintf("sources.nats[%d].", i)
		errs.required(at+"name", n.Name, "source name")
		errs.required(at+"url", n.URL, "server URL")
		errs.required(at+"subject", n.Subject, "subject")
	}

	for i, h := range config.Sources.HTTP {
		at := fmt.Sprintf("sources.http[%d].", i)
		errs.required(at+"name", h.Name, "source name")
		errs.required(at+"address", h.Address, "listen address")
		errs.required(at+"path", h.Path, "path")
	}

	for i, ws := range config.Sources.WebSocket {
		at := fmt.Sprintf("sources.websocket[%d].", i)
		errs.required(at+"name", ws.Name, "source name")
		errs.required(at+"address", ws.Address, "listen address")
		errs.required(at+"path", ws.Path, "path")
	}
}

func validateSinks(config *Config, errs *ValidationErrors) {
	for i, k := range config.Sinks.Kafka {
		at := fmt.Sprintf("sinks.kafka[%d].", i)
		errs.required(at+"name", k.Name, "sink name")
		if len(k.Brokers) == 0 {
			errs.Add(at+"brokers", "at least one broker is required")
		}
		errs.required(at+"topic", k.Topic, "topic")
		if k.Compression != "" {
			checkOneOf(errs, at+"compression", "compression", k.Compression,
				"none", "gzip", "snappy", "lz4", "zstd")
		}
	}

	for i, ts := range config.Sinks.TimescaleDB {
		at := fmt.Sprintf("sinks.timescaledb[%d].", i)
		errs.required(at+"name", ts.Name, "sink name")
		errs.required(at+"host", ts.Host, "host")
		errs.required(at+"database", ts.Database, "database")
		errs.required(at+"table", ts.Table, "table name")
		positive(errs, at+"batch_size", ts.BatchSize, "batch size")
		positive(errs, at+"flush_interval", ts.FlushInterval, "flush interval")
	}
}

func validateAugment(config *Config, errs *ValidationErrors) {
	for name, expr := range config.Augment {
		if strings.TrimSpace(name) == "" {
			errs.Add("augment", "header name must not be empty")
		}
		if strings.TrimSpace(expr) == "" {
			errs.Add("augment."+name, "expression must not be empty")
		}
	}
}

func validateMetrics(config *Config, errs *ValidationErrors) {
	if config.Metrics.Enabled {
		errs.required("metrics.address", config.Metrics.Address, "metrics address")
	}
}

func validateLogging(config *Config, errs *ValidationErrors) {
	checkOneOf(errs, "logging.level", "log level", config.Logging.Level, "debug", "info", "warn", "error")
	checkOneOf(errs, "logging.format", "log format", config.Logging.Format, "json", "console")
}

func validateTracing(config *Config, errs *ValidationErrors) {
	if !config.Tracing.Enabled {
		return
	}

	checkOneOf(errs, "tracing.exporter_type", "exporter", config.Tracing.ExporterType,
		tracing.ExporterStdout, tracing.ExporterOTLP)

	if config.Tracing.ExporterType == tracing.ExporterOTLP && config.Tracing.ExporterEndpoint == "" {
		errs.Add("tracing.exporter_endpoint", "endpoint is required for the otlp exporter")
	}

	if config.Tracing.SamplingRate < 0 || config.Tracing.SamplingRate > 1 {
		errs.Add("tracing.sampling_rate", "sampling rate must be between 0 and 1")
	}
}

// checkOneOf records an error unless value is one of valid
func checkOneOf(errs *ValidationErrors, field, what, value string, valid ...string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	errs.Add(field, fmt.Sprintf("invalid %s %q (valid: %s)", what, value, strings.Join(valid, ", ")))
	return false
}

// ValidateAndLoad loads path with defaults and environment overrides, then
// validates the result
func ValidateAndLoad(path string) (*Config, error) {
	config, err := LoadConfigWithEnv(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}
