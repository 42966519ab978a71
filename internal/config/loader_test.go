package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoaderWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n[monitor]\naudit_capacity = 10\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	l.debounce = 10 * time.Millisecond
	defer l.Close()

	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Monitor.AuditCapacity != 10 {
		t.Fatalf("expected 10, got %d", cfg.Monitor.AuditCapacity)
	}

	changed := make(chan *Config, 4)
	l.OnChange(func(c *Config) { changed <- c })
	if err := l.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("version = 1\n[monitor]\naudit_capacity = 20\n"), 0600); err != nil {
		t.Fatal(err)
	}

	// A write can surface as several events; wait for the final content.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Monitor.AuditCapacity != 20 {
				continue
			}
			if l.Config().Monitor.AuditCapacity != 20 {
				t.Error("Config() not updated")
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestLoaderRejectsInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("version = 1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	l.debounce = 10 * time.Millisecond
	defer l.Close()
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if err := l.Watch(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("version = 1\n[monitor]\naudit_capacity = -5\n"), 0600); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-l.Errors():
		if err == nil {
			t.Error("expected a reload error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
	if l.Config().Monitor.AuditCapacity != 50 {
		t.Errorf("invalid reload replaced config: %d", l.Config().Monitor.AuditCapacity)
	}
}

func TestLoadWithoutExtension(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"toml": "[monitor]\naudit_capacity = 30\n",
		"json": `{"monitor": {"audit_capacity": 30}}`,
	} {
		path := filepath.Join(dir, "proctord-"+name)
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
		cfg, err := NewLoader(path).Load()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if cfg.Monitor.AuditCapacity != 30 {
			t.Errorf("%s: audit_capacity = %d", name, cfg.Monitor.AuditCapacity)
		}
	}
}

func TestReportKeepsLatestError(t *testing.T) {
	l := NewLoader(filepath.Join(t.TempDir(), "config.toml"))
	l.report(errors.New("first"))
	l.report(errors.New("second"))

	select {
	case err := <-l.Errors():
		if err.Error() != "second" {
			t.Errorf("got %v, want the latest error", err)
		}
	default:
		t.Fatal("no error reported")
	}
}
