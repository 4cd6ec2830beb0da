package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_CHUNK", "")
	assert.Equal(t, 1000, envInt("TEST_CHUNK", 1000))

	t.Setenv("TEST_CHUNK", "250")
	assert.Equal(t, 250, envInt("TEST_CHUNK", 1000))

	for _, bad := range []string{"abc", "0", "-3"} {
		t.Setenv("TEST_CHUNK", bad)
		assert.Equal(t, 1000, envInt("TEST_CHUNK", 1000), bad)
	}
}

func TestJobParams(t *testing.T) {
	assert.Empty(t, jobParams(""))
	assert.Equal(t, map[string]any{"day": "2024-01-01", "table": "orders"}, jobParams(" day=2024-01-01 , table=orders,"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLevel("ERROR"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
