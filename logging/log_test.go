package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bots.log")

	logger, closeLog, err := New("info", path)
	require.NoError(t, err)
	logger.Sugar().Infow("order_submitted", "identity", "random_user")
	logger.Debug("hidden")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"order_submitted"`)
	assert.Contains(t, string(data), `"identity":"random_user"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New("loud", "")
	assert.Error(t, err)
}

func TestCloseReleasesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.log")

	logger, closeLog, err := New("info", path)
	require.NoError(t, err)
	logger.Info("before_close")
	closeLog()

	// Writes after close fail on the file sink; only stdout still takes them.
	logger.Info("after_close")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "before_close")
	assert.NotContains(t, string(data), "after_close")
}

func TestCloseWithoutFileIsSafe(t *testing.T) {
	logger, closeLog, err := New("debug", "")
	require.NoError(t, err)
	logger.Debug("console_only")
	assert.NotPanics(t, closeLog)
}
