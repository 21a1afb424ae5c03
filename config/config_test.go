package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Locator.Port != 1770 {
		t.Errorf("Locator.Port = %d, want 1770", cfg.Locator.Port)
	}
	if cfg.Locator.PollInterval != 2*time.Second {
		t.Errorf("Locator.PollInterval = %v, want 2s", cfg.Locator.PollInterval)
	}
	if cfg.ElUDP.DefaultPort != 1775 {
		t.Errorf("ElUDP.DefaultPort = %d, want 1775", cfg.ElUDP.DefaultPort)
	}
	if cfg.Seed.Path != "devices.ini" {
		t.Errorf("Seed.Path = %q, want devices.ini", cfg.Seed.Path)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("expected telemetry enabled by default")
	}
	if !cfg.API.Enabled {
		t.Error("expected API enabled by default")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Locator.Port != 1770 {
		t.Errorf("Locator.Port = %d, want 1770", cfg.Locator.Port)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected Load to best-effort save defaults: %v", err)
	}
}

func TestLoadAndSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Namespace = "line-1"
	cfg.Locator.Port = 1771
	cfg.Bus.MQTT = &MQTTBusConfig{Enabled: true, Broker: "tcp://localhost:1883", TopicRoot: "dsu"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Namespace != "line-1" {
		t.Errorf("Namespace = %q, want line-1", reloaded.Namespace)
	}
	if reloaded.Locator.Port != 1771 {
		t.Errorf("Locator.Port = %d, want 1771", reloaded.Locator.Port)
	}
	if reloaded.Bus.MQTT == nil || !reloaded.Bus.MQTT.Enabled {
		t.Fatal("expected MQTT bus config to round-trip")
	}
	if reloaded.Bus.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Bus.MQTT.Broker = %q, want tcp://localhost:1883", reloaded.Bus.MQTT.Broker)
	}
}

func TestLoadFillsZeroFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("namespace: test\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Locator.Port != 1770 {
		t.Errorf("Locator.Port = %d, want default 1770", cfg.Locator.Port)
	}
	if cfg.Seed.Path != "devices.ini" {
		t.Errorf("Seed.Path = %q, want default devices.ini", cfg.Seed.Path)
	}
}

func TestOnChangeListeners(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()

	done := make(chan struct{}, 1)
	id := cfg.AddOnChangeListener(func() { done <- struct{}{} })

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener was not invoked after Save")
	}

	cfg.RemoveOnChangeListener(id)

	// A second save after removal should not deliver to the old channel.
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	select {
	case <-done:
		t.Fatal("listener fired after being removed")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLockUnlockAndSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := DefaultConfig()

	cfg.Lock()
	cfg.Namespace = "locked-write"
	if err := cfg.UnlockAndSave(path); err != nil {
		t.Fatalf("UnlockAndSave: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reloaded.Namespace != "locked-write" {
		t.Errorf("Namespace = %q, want locked-write", reloaded.Namespace)
	}
}

func TestDefaultPath(t *testing.T) {
	p := DefaultPath()
	if p == "" {
		t.Fatal("DefaultPath returned empty string")
	}
	if filepath.Base(p) != "config.yaml" {
		t.Errorf("DefaultPath base = %q, want config.yaml", filepath.Base(p))
	}
}
