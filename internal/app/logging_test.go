package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", LogLevelDebug},
		{"INFO", LogLevelInfo},
		{"warning", LogLevelWarn},
		{"error", LogLevelError},
		{"bogus", LogLevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LoggerConfig{Level: LogLevelWarn, Output: &buf, Prefix: "test"})

	l.Debug("hidden debug")
	l.Info("hidden info")
	l.Warn("shown warn")
	l.Error("shown error")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("output contains filtered messages: %q", out)
	}
	if !strings.Contains(out, "shown warn") || !strings.Contains(out, "shown error") {
		t.Errorf("output missing expected messages: %q", out)
	}
}

func TestLoggerFormatting(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LoggerConfig{Level: LogLevelInfo, Output: &buf, Prefix: "vellum"})

	l.Info("opened %d documents", 3)

	out := buf.String()
	if !strings.Contains(out, "[INFO]") || !strings.Contains(out, "vellum:") {
		t.Errorf("output = %q, missing level or prefix", out)
	}
	if !strings.Contains(out, "opened 3 documents") {
		t.Errorf("output = %q, args not formatted", out)
	}
}

func TestLoggerWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(LoggerConfig{Level: LogLevelInfo, Output: &buf})

	l.WithComponent("surface").Info("hello")

	if !strings.Contains(buf.String(), "component=surface") {
		t.Errorf("output = %q, missing component field", buf.String())
	}
	// The base logger is unchanged.
	buf.Reset()
	l.Info("plain")
	if strings.Contains(buf.String(), "component=") {
		t.Errorf("base logger output = %q, should have no fields", buf.String())
	}
}
