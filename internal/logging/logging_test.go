package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestNew_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tierlearn.log")

	logger, err := New(path, false)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Info("promoted", zap.String("learning_id", "pat_042"))
	logger.Debug("hidden at info level")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"learning_id":"pat_042"`) {
		t.Errorf("log missing field: %s", out)
	}
	if strings.Contains(out, "hidden at info level") {
		t.Error("debug line written at info level")
	}
}

func TestNew_EmptyPathIsNop(t *testing.T) {
	logger, err := New("", true)
	if err != nil {
		t.Fatalf("New(\"\") error = %v", err)
	}
	logger.Info("nothing")
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}

