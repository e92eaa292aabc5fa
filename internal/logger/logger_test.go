package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProdWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "prod", "")

	log.Debug("hidden")
	log.Info("token created", slog.Int("token_number", 3))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "token created", line["msg"])
	assert.Equal(t, "prod", line["env"])
	assert.EqualValues(t, 3, line["token_number"])
}

func TestNewLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "dev", "warn")

	log.Info("quiet")
	assert.Empty(t, buf.String())

	log.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG", slog.LevelInfo))
	assert.Equal(t, slog.LevelWarn, parseLevel(" warning ", slog.LevelInfo))
	assert.Equal(t, slog.LevelError, parseLevel("error", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, parseLevel("", slog.LevelInfo))
	assert.Equal(t, slog.LevelDebug, parseLevel("verbose", slog.LevelDebug))
}
