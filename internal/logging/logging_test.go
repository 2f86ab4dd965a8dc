package logging

import (
	"bytes"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "json", Out: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Debug("collected", zap.Int("signals", 3))
	if !strings.Contains(buf.String(), `"signals":3`) {
		t.Errorf("output = %q, want signals field", buf.String())
	}
}

func TestNewDefaultLevelDropsInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Out: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info logged at default level: %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("New(format=xml) error = nil, want error")
	}
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Error("New(level=loud) error = nil, want error")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Error("OrNop(nil) = nil")
	}
}
