package logger

import (
	"os"
	"path/filepath"
	"testing"

	"matrimony_sync_backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestNew_WritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	cfg := &config.Config{GinMode: "release", LogLevel: "info", LogFormat: "json", LogFile: path, LogMaxSizeMB: 1}

	log, err := New(cfg)
	require.NoError(t, err)
	log.Named("test").Info("hello from test")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from test")
	assert.Contains(t, string(data), `"logger":"test"`)
}
