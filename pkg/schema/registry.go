package schema

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/riferrei/srclient"
	"go.uber.org/zap"
)

// Registry resolves writer schemas from a Confluent-compatible schema
// registry and caches them by id. Schemas are immutable per id, so cached
// entries never expire.
type Registry struct {
	client *srclient.SchemaRegistryClient
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[int]string
}

// NewRegistry creates a new schema registry client
func NewRegistry(config *Config, logger *zap.Logger) (*Registry, error) {
	if config == nil || config.RegistryURL == "" {
		return nil, errors.New("registry URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := srclient.CreateSchemaRegistryClient(config.RegistryURL)
	if config.Username != "" && config.Password != "" {
		client.SetCredentials(config.Username, config.Password)
	}
	client.SetTimeout(timeout)

	logger.Info("Schema registry client initialized",
		zap.String("url", config.RegistryURL),
		zap.Duration("timeout", timeout))

	return &Registry{
		client: client,
		logger: logger,
		cache:  make(map[int]string),
	}, nil
}

// SchemaByID returns the schema text registered under id
func (r *Registry) SchemaByID(ctx context.Context, id int) (string, error) {
	r.mu.RLock()
	cached, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	s, err := r.client.GetSchema(id)
	if err != nil {
		return "", fmt.Errorf("failed to get schema %d: %w", id, err)
	}

	r.mu.Lock()
	r.cache[id] = s.Schema()
	r.mu.Unlock()

	r.logger.Debug("Cached schema", zap.Int("schema_id", id))
	return s.Schema(), nil
}

// StaticLookup serves schemas from a fixed map, for tests and for
// deployments that pin writer schemas in configuration
type StaticLookup map[int]string

// SchemaByID returns the schema text registered under id
func (s StaticLookup) SchemaByID(_ context.Context, id int) (string, error) {
	if schema, ok := s[id]; ok {
		return schema, nil
	}
	return "", fmt.Errorf("schema %d not found", id)
}
