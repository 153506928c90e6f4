package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/therealutkarshpriyadarshi/eventtime/pkg/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		"info":    zap.InfoLevel,
		"warn":    zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"verbose": zap.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, reloader, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, reloader)
	assert.Equal(t, config.DefaultConfig().Window.Size, cfg.Window.Size)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: v1
application:
  name: clicks
window:
  size: 30s
`), 0o644))

	cfg, reloader, err := loadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, reloader)
	assert.Equal(t, "clicks", cfg.Application.Name)
	assert.Equal(t, "30s", cfg.Window.Size.String())
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
window:
  reducer: median
`), 0o644))

	_, _, err := loadConfig(path)
	assert.Error(t, err)
}

func TestBuild_Defaults(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Augment = map[string]string{"user": "payload.user.id"}

	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app.engine)

	require.NoError(t, app.engine.Stop())
	app.shutdownTracing()
}

func TestBuild_InvalidReducer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Window.Reducer = "median"

	_, err := build(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
