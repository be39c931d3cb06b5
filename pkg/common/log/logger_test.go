package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("low-level messages leaked through: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("expected warn and error messages, got %q", out)
	}
}

func TestFormatArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	logger.Info("opened %s with %d entries", "file.hfile", 42)
	if !strings.Contains(buf.String(), "opened file.hfile with 42 entries") {
		t.Errorf("formatting failed: %q", buf.String())
	}
}

func TestWithFieldsSortedAndInherited(t *testing.T) {
	var buf bytes.Buffer
	base := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	child := base.WithField("zeta", 1).WithField("alpha", 2)
	child.Info("hello")

	out := buf.String()
	if !strings.Contains(out, "alpha=2 zeta=1") {
		t.Errorf("fields missing or unsorted: %q", out)
	}

	// The parent is unchanged.
	buf.Reset()
	base.Info("plain")
	if strings.Contains(buf.String(), "alpha") {
		t.Errorf("child field leaked into parent: %q", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf))

	logger.Debug("hidden")
	logger.SetLevel(LevelDebug)
	logger.Debug("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug logged before SetLevel: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("debug not logged after SetLevel: %q", out)
	}
}

func TestLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" || LevelError.String() != "ERROR" {
		t.Error("level names wrong")
	}
	if !strings.Contains(Level(42).String(), "42") {
		t.Error("unknown level does not include its value")
	}
}
