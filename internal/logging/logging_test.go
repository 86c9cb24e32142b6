package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"WARNING", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestValidLevel(t *testing.T) {
	if !ValidLevel("warn") {
		t.Error("warn should be valid")
	}
	if ValidLevel("verbose") {
		t.Error("verbose should not be valid")
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Output: &buf, Prefix: "test"})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	for _, want := range []string{"[DEBUG]", "[INFO]", "[WARN]", "[ERROR]", "test:"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestLogger_Filtering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")

	output := buf.String()
	if strings.Contains(output, "[DEBUG]") || strings.Contains(output, "[INFO]") {
		t.Errorf("expected debug and info filtered out, got:\n%s", output)
	}
	if !strings.Contains(output, "[WARN]") {
		t.Error("expected WARN in output")
	}
}

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})
	logger.sink.now = func() time.Time {
		return time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	}

	logger.WithFields(map[string]any{"task": "lint", "run": "r1"}).Info("formatted %s %d", "test", 42)

	want := "2024-03-01T10:30:00.000 [INFO] formatted test 42 {run=r1, task=lint}\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestLogger_DerivedSharesSink(t *testing.T) {
	var buf bytes.Buffer
	root := New(Config{Level: LevelError, Output: &buf})
	child := root.WithComponent("pipeline")

	child.Info("hidden")
	if buf.Len() != 0 {
		t.Fatal("expected no output at error level")
	}

	root.SetLevel(LevelInfo)
	child.Info("visible")
	if !strings.Contains(buf.String(), "component=pipeline") {
		t.Errorf("expected component field, got: %s", buf.String())
	}
	if _, ok := root.fields["component"]; ok {
		t.Error("WithComponent must not modify the parent")
	}
}

func TestLogger_SetOutput(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf1})

	logger.Info("to buf1")
	logger.SetOutput(&buf2)
	logger.Info("to buf2")

	if !strings.Contains(buf1.String(), "to buf1") || strings.Contains(buf1.String(), "to buf2") {
		t.Errorf("buf1 = %q", buf1.String())
	}
	if !strings.Contains(buf2.String(), "to buf2") {
		t.Errorf("buf2 = %q", buf2.String())
	}
}

func TestLogger_DisableEnable(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Output: &buf})

	logger.Disable()
	logger.Info("should not appear")
	if buf.Len() != 0 {
		t.Error("expected no output when disabled")
	}

	logger.Enable()
	logger.Info("should appear")
	if buf.Len() == 0 {
		t.Error("expected output when enabled")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	l.WithField("k", "v").Warn("nothing")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelInfo {
		t.Errorf("Level = %v, want INFO", cfg.Level)
	}
	if cfg.Output == nil {
		t.Error("expected default output")
	}
	if cfg.Prefix != "gantry" {
		t.Errorf("Prefix = %q, want gantry", cfg.Prefix)
	}
}
