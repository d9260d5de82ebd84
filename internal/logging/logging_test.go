package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.log")
	log, closer, err := New(Options{Level: "warn", Format: "json", File: path})
	require.NoError(t, err)

	log.Info().Msg("dropped")
	log.Warn().Str("topic", "UDP2").Msg("kept")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "UDP2", entry["topic"])
	assert.Equal(t, "warn", entry["level"])
}

func TestDefaults(t *testing.T) {
	log, closer, err := New(Options{})
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
}

func TestRejectsBadOptions(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	require.Error(t, err)

	_, _, err = New(Options{Format: "xml"})
	require.Error(t, err)

	_, _, err = New(Options{File: filepath.Join(t.TempDir(), "missing", "dir", "hub.log")})
	require.Error(t, err)
}
