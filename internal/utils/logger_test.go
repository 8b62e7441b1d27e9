package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetLogOutput(buf)
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() {
		SetLogOutput(os.Stdout)
		zerolog.SetGlobalLevel(prev)
	})
	return buf
}

func TestLoggerWritesComponentAndFields(t *testing.T) {
	buf := captureLogs(t)

	logger := NewLogger("registry")
	logger.Warn("sync failed", "models", 3, "error", errors.New("upstream down"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "registry", entry["component"])
	assert.Equal(t, "sync failed", entry["message"])
	assert.Equal(t, float64(3), entry["models"])
	assert.Equal(t, "upstream down", entry["error"])
}

func TestLoggerLevelThreshold(t *testing.T) {
	buf := captureLogs(t)

	logger := NewLogger("quiet", Warning)
	logger.Info("dropped")
	logger.Debug("dropped too")
	assert.Zero(t, buf.Len())

	logger.Error("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestLoggerDropsDanglingKey(t *testing.T) {
	buf := captureLogs(t)

	NewLogger("x").Info("odd", "key")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "key")
}

func TestConfigureLogging(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() {
		SetLogOutput(os.Stdout)
		zerolog.SetGlobalLevel(prev)
	})

	require.NoError(t, ConfigureLogging("warn", "json"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	assert.Error(t, ConfigureLogging("loud", "json"))
	assert.Error(t, ConfigureLogging("info", "xml"))
}

func TestPtr(t *testing.T) {
	p := Ptr(1.5)
	require.NotNil(t, p)
	assert.Equal(t, 1.5, *p)

	assert.Nil(t, OptionalString("   "))
	assert.Equal(t, "u1", *OptionalString(" u1 "))
	assert.Equal(t, "", StringPtrValue(nil))
}
