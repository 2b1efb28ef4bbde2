package app

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CSRF_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "America/Argentina/Buenos_Aires", cfg.Location().String())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"timezone":  {"APP_TIMEZONE": "Mars/Olympus"},
		"log level": {"LOG_LEVEL": "chatty"},
		"retention": {"QUEUE_RETENTION": "-1h"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CSRF_SECRET", "secret")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	var cfg *Config
	assert.Equal(t, "UTC", cfg.Location().String())
}
