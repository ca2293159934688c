package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithWriterEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := SetupWithWriter("info", &buf)

	log.Info("hello", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "value", entry["key"])
}

func TestSetupWithWriterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := SetupWithWriter("warn", &buf)

	log.Info("dropped")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestSetupWithWriterDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	log := SetupWithWriter("debug", &buf)

	log.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestSetupInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := SetupWithWriter("shouting", &buf)

	log.Debug("dropped")
	assert.Zero(t, buf.Len())

	log.Info("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestSetupSetsDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	SetupWithWriter("info", &buf)

	slog.Info("via default")
	assert.Contains(t, buf.String(), "via default")
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	log := SetupWithWriter("info", &buf)

	ctx := WithContext(context.Background(), log.With("request_id", "abc"))

	FromContext(ctx).Info("scoped")
	assert.Contains(t, buf.String(), `"request_id":"abc"`)
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	got := FromContext(context.Background())
	assert.NotNil(t, got)
}
