package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestDebugLogger(t *testing.T) (*DebugLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "debug.log")
	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger, path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestDebugLoggerLogsByDefault(t *testing.T) {
	logger, path := newTestDebugLogger(t)
	logger.Log("locator", "discovery reply from %s", "10.0.0.5")
	logger.Close()

	content := readFile(t, path)
	if !strings.Contains(content, "[locator] discovery reply from 10.0.0.5") {
		t.Errorf("expected log line, got: %s", content)
	}
}

func TestDebugLoggerFilter(t *testing.T) {
	logger, path := newTestDebugLogger(t)
	logger.SetFilter("queue")

	logger.Log("queue", "entry READ_SETTINGS attempt 1/3")
	logger.Log("eludp", "bind 10.0.0.5:1775")
	logger.Close()

	content := readFile(t, path)
	if !strings.Contains(content, "entry READ_SETTINGS") {
		t.Error("expected queue message to pass the filter")
	}
	if strings.Contains(content, "bind 10.0.0.5:1775") {
		t.Error("expected eludp message to be filtered out")
	}
}

func TestDebugLoggerFilterRelatedProtocols(t *testing.T) {
	logger, path := newTestDebugLogger(t)
	logger.SetFilter("queue")

	logger.Log("firmware", "emitted block 8")
	logger.Close()

	content := readFile(t, path)
	if !strings.Contains(content, "emitted block 8") {
		t.Error("expected firmware messages to pass the queue filter (queue implies firmware)")
	}
}

func TestDebugLoggerTXRXHexDump(t *testing.T) {
	logger, path := newTestDebugLogger(t)
	logger.LogTX("locator", []byte{0x01, 0x02, 0x03})
	logger.Close()

	content := readFile(t, path)
	if !strings.Contains(content, "TX (3 bytes)") {
		t.Errorf("expected TX hex dump header, got: %s", content)
	}
	if !strings.Contains(content, "01 02 03") {
		t.Errorf("expected hex bytes in dump, got: %s", content)
	}
}

func TestDebugLoggerClosedIsSilent(t *testing.T) {
	logger, path := newTestDebugLogger(t)
	logger.Close()
	logger.Log("locator", "should not appear")

	content := readFile(t, path)
	if strings.Contains(content, "should not appear") {
		t.Error("expected no output after Close")
	}
}

func TestGlobalDebugLogger(t *testing.T) {
	logger, path := newTestDebugLogger(t)
	SetGlobalDebugLogger(logger)
	t.Cleanup(func() { SetGlobalDebugLogger(nil) })

	DebugLog("inventory", "watchdog expired for %s", "AA11")
	logger.Close()

	content := readFile(t, path)
	if !strings.Contains(content, "watchdog expired for AA11") {
		t.Errorf("expected global DebugLog to reach the file, got: %s", content)
	}
}

func TestNilDebugLoggerMethodsDoNotPanic(t *testing.T) {
	var logger *DebugLogger
	logger.Log("locator", "noop")
	logger.LogTX("locator", []byte{1})
	logger.LogRX("locator", []byte{1})
	logger.LogConnect("locator", "1.2.3.4")
	logger.LogError("locator", "ctx", nil)
	if err := logger.Close(); err != nil {
		t.Errorf("Close on nil logger should be a no-op, got %v", err)
	}
}
