package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"corsproxy-go/internal/config"
)

func TestNewLogHandler_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"json", `"msg":"hello"`},
		{"text", "msg=hello"},
		{"console", "hello"},
		{"", `"msg":"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(newLogHandler(&buf, config.LogConfig{Level: "info", Format: tt.format}))
			logger.Info("hello", "k", "v")

			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestNewLogHandler_ConsoleNoColorOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newLogHandler(&buf, config.LogConfig{Format: "console"}))
	logger.Info("hello")

	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("console output to a non-terminal should not be colored: %q", buf.String())
	}
}

func TestNewLogHandler_Level(t *testing.T) {
	h := newLogHandler(&bytes.Buffer{}, config.LogConfig{Level: "WARN", Format: "json"})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestNewMetrics(t *testing.T) {
	if m := newMetrics(&config.Config{}); m != nil {
		t.Error("newMetrics() should return nil when metrics are disabled")
	}
	if m := newMetrics(&config.Config{Metrics: config.MetricsConfig{Enabled: true}}); m == nil {
		t.Error("newMetrics() returned nil with metrics enabled")
	}
}
