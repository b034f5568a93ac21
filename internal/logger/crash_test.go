package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrashContext_Set(t *testing.T) {
	globalContext = &CrashContext{}

	SetBasePath("/tmp/planengine-test")
	SetVersion("1.0.0-test")
	SetCommand("order", []string{"proj-1", strings.Repeat("x", 600)})

	globalContext.mu.RLock()
	defer globalContext.mu.RUnlock()
	assert.Equal(t, "/tmp/planengine-test", globalContext.basePath)
	assert.Equal(t, "1.0.0-test", globalContext.version)
	assert.Equal(t, "order", globalContext.command)
	assert.Contains(t, globalContext.args, "[truncated]")
}

func TestWriteCrashLog(t *testing.T) {
	globalContext = &CrashContext{}
	SetBasePath(t.TempDir())
	SetVersion("2.0.0")
	SetCommand("evm", []string{"base-1"})

	entry := createCrashLog("boom")
	path, err := writeCrashLog(entry)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "PLANENGINE CRASH LOG")
	assert.Contains(t, string(content), "boom")
	assert.Contains(t, string(content), "evm base-1")
	assert.Contains(t, string(content), "2.0.0")
}

func TestPruneCrashLogs(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		name := fmt.Sprintf("crash_%s.log", base.Add(time.Duration(i)*time.Second).Format("20060102_150405"))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0644))

	require.NoError(t, pruneCrashLogs(dir, MaxCrashLogs))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, MaxCrashLogs+1)
	assert.Equal(t, "crash_20240101_000005.log", entries[0].Name())
}

func TestPruneCrashLogs_MissingDir(t *testing.T) {
	assert.NoError(t, pruneCrashLogs(filepath.Join(t.TempDir(), "none"), MaxCrashLogs))
}
