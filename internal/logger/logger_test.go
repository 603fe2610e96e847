package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_FileOutputJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orch.log")

	log, err := New(Options{Level: "debug", Format: "json", OutputPath: path, MaxSizeMB: 1})
	require.NoError(t, err)

	log.WithComponent("executor").WithTaskID("t-1").WithRunID("run-001").Debug("spawned", zap.Int("pid", 42))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"msg":"spawned"`)
	assert.Contains(t, line, `"component":"executor"`)
	assert.Contains(t, line, `"task_id":"t-1"`)
	assert.Contains(t, line, `"run_id":"run-001"`)
	assert.Contains(t, line, `"pid":42`)
}

func TestNew_LevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orch.log")

	log, err := New(Options{Level: "warn", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hidden"))
	assert.Contains(t, string(data), "shown")
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orch.log")

	log, err := New(Options{Level: "loud", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestDefaultAndNop(t *testing.T) {
	assert.NotNil(t, Default())

	nop := Nop()
	nop.WithError(assert.AnError).Error("dropped")

	SetDefault(nop)
	assert.Same(t, nop, Default())
}
