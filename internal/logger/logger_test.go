package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestInitialize_FileCores(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "coordinator.log")
	errorFile := filepath.Join(dir, "coordinator.err.log")

	err := Initialize(Configuration{LogFile: logFile, ErrorFile: errorFile, Level: "debug"})
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	t.Cleanup(func() { log = zap.NewNop() })

	Debug("engine: buy tickets...", zap.String("mint", "abc"))
	Error("assembler: settlement failed")
	Sync()

	all, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(all), "buy tickets") || !strings.Contains(string(all), "settlement failed") {
		t.Errorf("Expected both entries in the log file, got %s", all)
	}

	errs, err := os.ReadFile(errorFile)
	if err != nil {
		t.Fatalf("Failed to read error file: %v", err)
	}
	if strings.Contains(string(errs), "buy tickets") {
		t.Errorf("Expected debug entry to stay out of the error file, got %s", errs)
	}
	if !strings.Contains(string(errs), "settlement failed") {
		t.Errorf("Expected error entry in the error file, got %s", errs)
	}
}

func TestInitialize_BadPath(t *testing.T) {
	err := Initialize(Configuration{LogFile: filepath.Join(t.TempDir(), "missing", "x.log")})
	if err == nil {
		t.Fatal("Expected an error for an unwritable log path, but got nil")
	}
}
