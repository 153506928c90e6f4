package config

import (
	"time"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/schema"
	"github.com/therealutkarshpriyadarshi/eventtime/pkg/tracing"
)

// Version represents the configuration file version
const (
	CurrentConfigVersion = "v1"
)

// Config represents the complete eventtime configuration
type Config struct {
	// Version of the configuration schema
	Version string `yaml:"version" json:"version"`

	// Application metadata
	Application ApplicationConfig `yaml:"application" json:"application"`

	// Watermark generation and lateness
	Watermark WatermarkConfig `yaml:"watermark" json:"watermark"`

	// Event timestamp extraction
	Timestamp TimestampConfig `yaml:"timestamp" json:"timestamp"`

	// Tumbling window aggregation
	Window WindowConfig `yaml:"window" json:"window"`

	// Idle-window reclaimer
	Reclaimer ReclaimerConfig `yaml:"reclaimer" json:"reclaimer"`

	// Engine configuration
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Error handling configuration
	ErrorHandling ErrorHandlingConfig `yaml:"error_handling" json:"error_handling"`

	// Sources configuration
	Sources SourcesConfig `yaml:"sources" json:"sources"`

	// Sinks configuration
	Sinks SinksConfig `yaml:"sinks" json:"sinks"`

	// Payload decoding
	Schema schema.Config `yaml:"schema" json:"schema"`

	// Output header name -> "header.<name>" or "payload.<path>"
	Augment map[string]string `yaml:"augment" json:"augment"`

	// Metrics and monitoring configuration
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Tracing configuration
	Tracing tracing.Config `yaml:"tracing" json:"tracing"`
}

// ApplicationConfig holds application-level metadata
type ApplicationConfig struct {
	Name        string            `yaml:"name" json:"name"`
	Environment string            `yaml:"environment" json:"environment"` // development, staging, production
	Tags        map[string]string `yaml:"tags" json:"tags"`
}

// WatermarkConfig bounds out-of-orderness and lateness
type WatermarkConfig struct {
	MaxOutOfOrderness time.Duration `yaml:"max_out_of_orderness" json:"max_out_of_orderness"`
	AllowedLateness   time.Duration `yaml:"allowed_lateness" json:"allowed_lateness"`
}

// TimestampConfig selects the timestamp assigner
type TimestampConfig struct {
	Strategy string `yaml:"strategy" json:"strategy"` // default, header, path, processing
	Header   string `yaml:"header" json:"header"`
	Path     string `yaml:"path" json:"path"`
}

// WindowConfig holds tumbling window configuration
type WindowConfig struct {
	Size    time.Duration `yaml:"size" json:"size"`
	Offset  time.Duration `yaml:"offset" json:"offset"`
	Reducer string        `yaml:"reducer" json:"reducer"` // count, collect
}

// ReclaimerConfig holds idle-window reclaimer configuration
type ReclaimerConfig struct {
	Interval        time.Duration `yaml:"interval" json:"interval"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"` // 0 disables partial release
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// EngineConfig holds stream processing engine configuration
type EngineConfig struct {
	BufferSize        int           `yaml:"buffer_size" json:"buffer_size"`
	MaxConcurrency    int           `yaml:"max_concurrency" json:"max_concurrency"`
	WatermarkInterval time.Duration `yaml:"watermark_interval" json:"watermark_interval"`
	MetricsInterval   time.Duration `yaml:"metrics_interval" json:"metrics_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// ErrorHandlingConfig holds side output configuration
type ErrorHandlingConfig struct {
	EnableSideOutputs    bool `yaml:"enable_side_outputs" json:"enable_side_outputs"`
	SideOutputBufferSize int  `yaml:"side_output_buffer_size" json:"side_output_buffer_size"`
	LateSideOutput       bool `yaml:"late_side_output" json:"late_side_output"`
	DiscardedSideOutput  bool `yaml:"discarded_side_output" json:"discarded_side_output"`
	ErrorSideOutput      bool `yaml:"error_side_output" json:"error_side_output"`
}

// SourcesConfig holds data source configurations
type SourcesConfig struct {
	Kafka     []KafkaSourceConfig     `yaml:"kafka" json:"kafka"`
	NATS      []NATSSourceConfig      `yaml:"nats" json:"nats"`
	HTTP      []HTTPSourceConfig      `yaml:"http" json:"http"`
	WebSocket []WebSocketSourceConfig `yaml:"websocket" json:"websocket"`
}

// KafkaSourceConfig holds Kafka source configuration
type KafkaSourceConfig struct {
	Name       string   `yaml:"name" json:"name"`
	Brokers    []string `yaml:"brokers" json:"brokers"`
	Topics     []string `yaml:"topics" json:"topics"`
	GroupID    string   `yaml:"group_id" json:"group_id"`
	AutoCommit bool     `yaml:"auto_commit" json:"auto_commit"`
}

// NATSSourceConfig holds NATS source configuration
type NATSSourceConfig struct {
	Name    string `yaml:"name" json:"name"`
	URL     string `yaml:"url" json:"url"`
	Subject string `yaml:"subject" json:"subject"`
	Queue   string `yaml:"queue" json:"queue"`
}

// HTTPSourceConfig holds HTTP source configuration
type HTTPSourceConfig struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// WebSocketSourceConfig holds WebSocket source configuration
type WebSocketSourceConfig struct {
	Name    string `yaml:"name" json:"name"`
	Address string `yaml:"address" json:"address"`
	Path    string `yaml:"path" json:"path"`
}

// SinksConfig holds data sink configurations
type SinksConfig struct {
	Kafka       []KafkaSinkConfig     `yaml:"kafka" json:"kafka"`
	TimescaleDB []TimescaleSinkConfig `yaml:"timescaledb" json:"timescaledb"`
}

// KafkaSinkConfig holds Kafka sink configuration
type KafkaSinkConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Brokers     []string `yaml:"brokers" json:"brokers"`
	Topic       string   `yaml:"topic" json:"topic"`
	Compression string   `yaml:"compression" json:"compression"` // none, gzip, snappy, lz4, zstd
}

// TimescaleSinkConfig holds TimescaleDB sink configuration
type TimescaleSinkConfig struct {
	Name          string        `yaml:"name" json:"name"`
	Host          string        `yaml:"host" json:"host"`
	Port          int           `yaml:"port" json:"port"`
	Database      string        `yaml:"database" json:"database"`
	User          string        `yaml:"user" json:"user"`
	Password      string        `yaml:"password" json:"password"`
	Table         string        `yaml:"table" json:"table"`
	SSLMode       string        `yaml:"ssl_mode" json:"ssl_mode"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

// MetricsConfig holds metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Address string `yaml:"address" json:"address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level       string   `yaml:"level" json:"level"`   // debug, info, warn, error
	Format      string   `yaml:"format" json:"format"` // json, console
	OutputPaths []string `yaml:"output_paths" json:"output_paths"`
	Development bool     `yaml:"development" json:"development"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		Application: ApplicationConfig{
			Name:        "eventtime",
			Environment: "development",
			Tags:        make(map[string]string),
		},
		Watermark: WatermarkConfig{
			MaxOutOfOrderness: 0,
			AllowedLateness:   0,
		},
		Timestamp: TimestampConfig{
			Strategy: "default",
		},
		Window: WindowConfig{
			Size:    time.Minute,
			Reducer: "count",
		},
		Reclaimer: ReclaimerConfig{
			Interval:        time.Second,
			ShutdownTimeout: time.Second,
		},
		Engine: EngineConfig{
			BufferSize:        10000,
			MaxConcurrency:    100,
			WatermarkInterval: 5 * time.Second,
			MetricsInterval:   10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		ErrorHandling: ErrorHandlingConfig{
			EnableSideOutputs:    true,
			SideOutputBufferSize: 1000,
			LateSideOutput:       true,
			DiscardedSideOutput:  true,
			ErrorSideOutput:      true,
		},
		Schema: schema.Config{
			Timeout: 10 * time.Second,
		},
		Augment: make(map[string]string),
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9091",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Tracing: *tracing.DefaultConfig(),
	}
}

// ProductionConfig returns a production-ready configuration
func ProductionConfig() *Config {
	config := DefaultConfig()
	config.Application.Environment = "production"
	config.Engine.BufferSize = 50000
	config.Engine.MaxConcurrency = 500
	config.Reclaimer.ShutdownTimeout = 5 * time.Second
	config.Logging.Level = "warn"
	config.Tracing.Environment = "production"
	config.Tracing.SamplingRate = 0.1
	return config
}

// DevelopmentConfig returns a development-friendly configuration
func DevelopmentConfig() *Config {
	config := DefaultConfig()
	config.Application.Environment = "development"
	config.Engine.BufferSize = 1000
	config.Engine.MaxConcurrency = 10
	config.Logging.Level = "debug"
	config.Logging.Format = "console"
	config.Logging.Development = true
	return config
}
