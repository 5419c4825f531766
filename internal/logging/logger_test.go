package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traffic-tacos/todo-api/internal/config"
)

func TestNew_JSONWithDefaultFields(t *testing.T) {
	cfg := &config.Config{}
	cfg.Log.Level = "debug"
	cfg.Log.Format = "json"
	cfg.Server.Environment = "test"

	var buf bytes.Buffer
	logger := NewWithOutput(cfg, &buf)
	WithUserID(logger, 42).Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "todo-api", entry["service"])
	assert.Equal(t, "test", entry["environment"])
	assert.Equal(t, float64(42), entry["user_id"])
	assert.Contains(t, entry, "ts")
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	cfg := &config.Config{}
	cfg.Log.Level = "chatty"
	cfg.Log.Format = "text"

	var buf bytes.Buffer
	logger := NewWithOutput(cfg, &buf)

	assert.Equal(t, "info", logger.GetLevel().String())
}
