package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "EVENTTIME_"

// ApplyEnvOverrides applies environment variable overrides to the configuration
// Environment variables follow the pattern: EVENTTIME_<SECTION>_<KEY>
// Example: EVENTTIME_WATERMARK_ALLOWED_LATENESS=5s
func ApplyEnvOverrides(config *Config) error {
	// Application overrides
	envString("APPLICATION_NAME", &config.Application.Name)
	envString("APPLICATION_ENVIRONMENT", &config.Application.Environment)

	// Watermark overrides
	if err := envDuration("WATERMARK_MAX_OUT_OF_ORDERNESS", &config.Watermark.MaxOutOfOrderness); err != nil {
		return err
	}
	if err := envDuration("WATERMARK_ALLOWED_LATENESS", &config.Watermark.AllowedLateness); err != nil {
		return err
	}

	// Timestamp overrides
	envString("TIMESTAMP_STRATEGY", &config.Timestamp.Strategy)
	envString("TIMESTAMP_HEADER", &config.Timestamp.Header)
	envString("TIMESTAMP_PATH", &config.Timestamp.Path)

	// Window overrides
	if err := envDuration("WINDOW_SIZE", &config.Window.Size); err != nil {
		return err
	}
	if err := envDuration("WINDOW_OFFSET", &config.Window.Offset); err != nil {
		return err
	}
	envString("WINDOW_REDUCER", &config.Window.Reducer)

	// Reclaimer overrides
	if err := envDuration("RECLAIMER_INTERVAL", &config.Reclaimer.Interval); err != nil {
		return err
	}
	if err := envDuration("RECLAIMER_IDLE_TIMEOUT", &config.Reclaimer.IdleTimeout); err != nil {
		return err
	}
	if err := envDuration("RECLAIMER_SHUTDOWN_TIMEOUT", &config.Reclaimer.ShutdownTimeout); err != nil {
		return err
	}

	// Engine overrides
	if err := envInt("ENGINE_BUFFER_SIZE", &config.Engine.BufferSize); err != nil {
		return err
	}
	if err := envInt("ENGINE_MAX_CONCURRENCY", &config.Engine.MaxConcurrency); err != nil {
		return err
	}
	if err := envDuration("ENGINE_WATERMARK_INTERVAL", &config.Engine.WatermarkInterval); err != nil {
		return err
	}
	if err := envDuration("ENGINE_METRICS_INTERVAL", &config.Engine.MetricsInterval); err != nil {
		return err
	}
	if err := envDuration("ENGINE_SHUTDOWN_TIMEOUT", &config.Engine.ShutdownTimeout); err != nil {
		return err
	}

	// Error handling overrides
	if err := envBool("ERROR_ENABLE_SIDE_OUTPUTS", &config.ErrorHandling.EnableSideOutputs); err != nil {
		return err
	}
	if err := envInt("ERROR_SIDE_OUTPUT_BUFFER_SIZE", &config.ErrorHandling.SideOutputBufferSize); err != nil {
		return err
	}

	// Schema overrides
	envString("SCHEMA_REGISTRY_URL", &config.Schema.RegistryURL)
	envString("SCHEMA_USERNAME", &config.Schema.Username)
	envString("SCHEMA_PASSWORD", &config.Schema.Password)

	// Metrics overrides
	if err := envBool("METRICS_ENABLED", &config.Metrics.Enabled); err != nil {
		return err
	}
	envString("METRICS_ADDRESS", &config.Metrics.Address)

	// Logging overrides
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	if val := os.Getenv(EnvPrefix + "LOG_OUTPUT_PATHS"); val != "" {
		config.Logging.OutputPaths = strings.Split(val, ",")
	}

	// Tracing overrides
	if err := envBool("TRACING_ENABLED", &config.Tracing.Enabled); err != nil {
		return err
	}
	envString("TRACING_EXPORTER_TYPE", &config.Tracing.ExporterType)
	envString("TRACING_EXPORTER_ENDPOINT", &config.Tracing.ExporterEndpoint)
	if val := os.Getenv(EnvPrefix + "TRACING_SAMPLING_RATE"); val != "" {
		rate, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %sTRACING_SAMPLING_RATE: %w", EnvPrefix, err)
		}
		config.Tracing.SamplingRate = rate
	}

	return nil
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) error {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func envBool(key string, dst *bool) error {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = parsed
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(EnvPrefix + key)
	if val == "" {
		return nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*dst = parsed
	return nil
}

// GetEnvWithDefault retrieves an environment variable or returns a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// LoadConfigWithEnv loads configuration from file and applies environment variable overrides
func LoadConfigWithEnv(path string) (*Config, error) {
	config, err := LoadConfigWithDefaults(path)
	if err != nil {
		return nil, err
	}

	if err := ApplyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

// LoadOrDefaultWithEnv loads configuration from file (or uses default) and applies environment overrides
func LoadOrDefaultWithEnv(path string) (*Config, error) {
	config, err := LoadOrDefault(path)
	if err != nil {
		return nil, err
	}

	if err := ApplyEnvOverrides(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}
