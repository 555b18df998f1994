package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.log")

	cfg := DefaultConfig()
	cfg.File = path
	logger, err := New(cfg)
	require.NoError(t, err)

	logger.Named("relay").Info("frame relayed", zap.String("id", "rp_1"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"frame relayed"`)
	assert.Contains(t, string(data), `"logger":"relay"`)
	assert.Contains(t, string(data), `"id":"rp_1"`)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil).Logger)

	l := NewDevelopment()
	assert.Same(t, l, OrNop(l))
}
