package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")

	log, err := New(Config{Level: InfoLevel, Environment: "production", FilePath: path})
	require.NoError(t, err)

	log.WithComponent("test").WithVenueID("venue-1").Info("hello file")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, string(data), `"venue_id":"venue-1"`)
}

func TestGlobalLogger(t *testing.T) {
	nop := NewNop()
	SetGlobalLogger(nop)
	assert.Same(t, nop, GetGlobalLogger())
}
