package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "json", zerolog.InfoLevel)

	log.Debug().Msg("hidden")
	log.Info().Str("component", "egarch").Msg("fit done")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "fit done", rec["message"])
	assert.Equal(t, "egarch", rec["component"])
	assert.Equal(t, "info", rec["level"])
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volrisk.log")
	log, closer, err := New(Config{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	log.Info().Msg("dropped")
	log.Warn().Msg("kept")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "kept")
	assert.NotContains(t, string(data), "dropped")
}

func TestNewRejectsLevel(t *testing.T) {
	_, _, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}
