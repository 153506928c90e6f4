package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// ReloadCallback sees the active and the candidate config. An error aborts
// the reload and the active config is kept.
type ReloadCallback func(oldConfig, newConfig *Config) error

// pinned lists settings a running engine cannot adopt. Each entry renders
// the setting so a change can be reported.
var pinned = []struct {
	name  string
	value func(*Config) string
}{
	{"version", func(c *Config) string { return c.Version }},
	{"application name", func(c *Config) string { return c.Application.Name }},
	{"max out-of-orderness", func(c *Config) string { return c.Watermark.MaxOutOfOrderness.String() }},
	{"allowed lateness", func(c *Config) string { return c.Watermark.AllowedLateness.String() }},
	{"timestamp strategy", func(c *Config) string { return c.Timestamp.Strategy }},
	{"window geometry", func(c *Config) string { return c.Window.Size.String() + "+" + c.Window.Offset.String() }},
	{"buffer size", func(c *Config) string { return fmt.Sprint(c.Engine.BufferSize) }},
	{"max concurrency", func(c *Config) string { return fmt.Sprint(c.Engine.MaxConcurrency) }},
}

// HotReloadableSettings lists the settings a reload may change
func HotReloadableSettings() []string {
	return []string{"logging.level"}
}

// ReloadableConfig polls a config file and swaps in changed content once it
// validates, keeps pinned settings intact and passes every callback.
type ReloadableConfig struct {
	path   string
	logger *zap.Logger

	mu        sync.RWMutex
	current   *Config
	modTime   time.Time
	interval  time.Duration
	clock     clockz.Clock
	callbacks []ReloadCallback

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewReloadableConfig loads and validates path. The file is not watched
// until Start.
func NewReloadableConfig(path string, logger *zap.Logger) (*ReloadableConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	cfg, err := ValidateAndLoad(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	return &ReloadableConfig{
		path:     path,
		logger:   logger,
		current:  cfg,
		modTime:  info.ModTime(),
		interval: 10 * time.Second,
		clock:    clockz.RealClock,
		stop:     make(chan struct{}),
	}, nil
}

// Get returns a private copy of the active config
func (rc *ReloadableConfig) Get() *Config {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return copyConfig(rc.current)
}

func (rc *ReloadableConfig) OnReload(callback ReloadCallback) {
	rc.mu.Lock()
	rc.callbacks = append(rc.callbacks, callback)
	rc.mu.Unlock()
}

// SetReloadInterval changes the poll period. It applies from the next Start.
func (rc *ReloadableConfig) SetReloadInterval(interval time.Duration) {
	rc.mu.Lock()
	rc.interval = interval
	rc.mu.Unlock()
}

func (rc *ReloadableConfig) SetClock(clock clockz.Clock) {
	rc.mu.Lock()
	rc.clock = clock
	rc.mu.Unlock()
}

// Start polls the file in the background until Stop
func (rc *ReloadableConfig) Start() {
	rc.mu.RLock()
	ticker := rc.clock.NewTicker(rc.interval)
	rc.mu.RUnlock()

	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-rc.stop:
				rc.logger.Info("Configuration watcher stopped", zap.String("path", rc.path))
				return
			case <-ticker.C():
				if err := rc.Reload(); err != nil {
					rc.logger.Error("Configuration reload rejected", zap.String("path", rc.path), zap.Error(err))
				}
			}
		}
	}()
}

func (rc *ReloadableConfig) Stop() {
	rc.once.Do(func() { close(rc.stop) })
	rc.wg.Wait()
}

// Reload applies the file if it was modified since the last successful load
func (rc *ReloadableConfig) Reload() error {
	info, err := os.Stat(rc.path)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}

	rc.mu.RLock()
	unchanged := !info.ModTime().After(rc.modTime)
	active := rc.current
	callbacks := append([]ReloadCallback(nil), rc.callbacks...)
	rc.mu.RUnlock()
	if unchanged {
		return nil
	}

	rc.logger.Info("Configuration file changed", zap.String("path", rc.path), zap.Time("modified", info.ModTime()))

	next, err := ValidateAndLoad(rc.path)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}
	if err := checkPinned(active, next); err != nil {
		return fmt.Errorf("restart required: %w", err)
	}
	for _, cb := range callbacks {
		if err := cb(active, next); err != nil {
			return fmt.Errorf("reload callback failed: %w", err)
		}
	}

	rc.mu.Lock()
	rc.current = next
	rc.modTime = info.ModTime()
	rc.mu.Unlock()

	rc.logger.Info("Configuration reloaded", zap.String("path", rc.path))
	return nil
}

func checkPinned(active, next *Config) error {
	for _, p := range pinned {
		if was, now := p.value(active), p.value(next); was != now {
			return fmt.Errorf("%s changed from %s to %s", p.name, was, now)
		}
	}
	return nil
}

func copyConfig(src *Config) *Config {
	dst := *src
	dst.Application.Tags = mergeMap(nil, src.Application.Tags)
	dst.Augment = mergeMap(nil, src.Augment)
	dst.Sources.Kafka = append([]KafkaSourceConfig(nil), src.Sources.Kafka...)
	dst.Sources.NATS = append([]NATSSourceConfig(nil), src.Sources.NATS...)
	dst.Sources.HTTP = append([]HTTPSourceConfig(nil), src.Sources.HTTP...)
	dst.Sources.WebSocket = append([]WebSocketSourceConfig(nil), src.Sources.WebSocket...)
	dst.Sinks.Kafka = append([]KafkaSinkConfig(nil), src.Sinks.Kafka...)
	dst.Sinks.TimescaleDB = append([]TimescaleSinkConfig(nil), src.Sinks.TimescaleDB...)
	dst.Logging.OutputPaths = append([]string(nil), src.Logging.OutputPaths...)
	return &dst
}
