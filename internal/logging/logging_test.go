package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperbase/internal/config"
)

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(config.LogConfig{Level: "info"}, &buf), "dedup")

	l.Debug().Msg("hidden")
	l.Info().Str("event", "batch_done").Msg("ok")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "dedup", entry["component"])
	assert.Equal(t, "batch_done", entry["event"])
	assert.Equal(t, "ok", entry["msg"])
	assert.NotEmpty(t, entry["ts"])
}

func TestNewWithWriter_InvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.LogConfig{Level: "loud"}, &buf)

	l.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	l.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
