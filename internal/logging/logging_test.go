package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestSetup_InvalidLevel(t *testing.T) {
	if _, err := Setup("chatty", ""); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSetup_WritesToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "tutor.log")
	closer, err := Setup("debug", file)
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	if log.GetLevel() != log.DebugLevel {
		t.Errorf("expected debug level, got %s", log.GetLevel())
	}
	log.Info("logging: hello from test")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("expected message in log file, got %q", data)
	}
}
