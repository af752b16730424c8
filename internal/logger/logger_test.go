package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewJSONFormat(t *testing.T) {
	log := New("json", "info")
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.WithField("pack_id", "p1").Info("probe")
	out := buf.String()
	if !strings.Contains(out, `"msg":"probe"`) {
		t.Errorf("expected JSON output, got %q", out)
	}
	if !strings.Contains(out, `"pack_id":"p1"`) {
		t.Errorf("structured field missing: %q", out)
	}
}

func TestNewTextFormat(t *testing.T) {
	log := New("text", "info")
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.Info("probe")
	out := buf.String()
	if strings.Contains(out, `"msg"`) {
		t.Errorf("text format should not emit JSON: %q", out)
	}
	if !strings.Contains(out, "probe") {
		t.Errorf("message missing: %q", out)
	}
}

func TestNewUnknownFormatDefaultsToJSON(t *testing.T) {
	log := New("unknown", "info")
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.Info("probe")
	if !strings.Contains(buf.String(), `"msg":"probe"`) {
		t.Errorf("unknown format should fall back to JSON, got %q", buf.String())
	}
}

func TestNewLevels(t *testing.T) {
	if got := New("json", "debug").GetLevel(); got != logrus.DebugLevel {
		t.Errorf("debug level: got %v", got)
	}
	if got := New("json", "warn").GetLevel(); got != logrus.WarnLevel {
		t.Errorf("warn level: got %v", got)
	}
	// Garbage levels fall back to info rather than failing startup.
	if got := New("json", "nonsense").GetLevel(); got != logrus.InfoLevel {
		t.Errorf("fallback level: got %v", got)
	}
}

func TestLevelFiltering(t *testing.T) {
	log := New("json", "warn")
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.Info("should not appear")
	log.Warn("should appear")
	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Error("info message leaked through warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn message suppressed")
	}
}
