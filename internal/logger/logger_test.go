package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestBuildAndSetLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })

	log, err := Build(Config{Level: "debug", Encoding: "console"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	require.NoError(t, SetLevel("WARN"))
	assert.Equal(t, zapcore.WarnLevel, Level())
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))

	assert.Error(t, SetLevel("chatty"))
	assert.Equal(t, zapcore.WarnLevel, Level())
}

func TestBuild_RejectsBadLevel(t *testing.T) {
	t.Cleanup(func() { _ = SetLevel("info") })
	_, err := Build(Config{Level: "loud"})
	assert.Error(t, err)
}
