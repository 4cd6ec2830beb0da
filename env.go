package main

import (
	"batch-exporter/service"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var errProjectNotDetected = errors.New("GCP_PROJECT_ID is not set and could not be detected from credentials")

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envInt reads a positive integer from key, falling back to def when the
// variable is unset or invalid.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("Ignoring invalid integer env", "key", key, "value", v)
		return def
	}
	return n
}

// jobParams parses "name=value,other=value" into template variables.
func jobParams(s string) map[string]any {
	params := map[string]any{}
	for k, v := range service.ParsePairs(s) {
		params[k] = v
	}
	return params
}
