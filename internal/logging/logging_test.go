package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/player-leaderboard/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	logger, closer := New(config.LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1})

	logger.Debug("rank index rebuilt", "players", 3)
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log failed: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"rank index rebuilt"`) {
		t.Fatalf("unexpected log content: %s", data)
	}
}

func TestNewTextHandlerRespectsLevel(t *testing.T) {
	logger, closer := New(config.LogConfig{Level: "warn", Format: "text"})
	defer closer.Close()

	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatalf("warn should be enabled")
	}
}
