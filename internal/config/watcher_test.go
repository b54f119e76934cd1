package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "version: 1\nlogging: {level: info}\n")

	changes := make(chan *Config, 4)
	failures := make(chan error, 4)
	w := NewWatcher(path, 50*time.Millisecond, func(cfg *Config, err error) {
		if err != nil {
			failures <- err
			return
		}
		changes <- cfg
	}, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Close() }()

	if err := os.WriteFile(path, []byte("version: 1\nlogging: {level: debug}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// A write may surface as truncate plus write; only the final state counts.
	deadline := time.After(5 * time.Second)
	for loaded := false; !loaded; {
		select {
		case cfg := <-changes:
			loaded = cfg.Logging.Level == "debug"
		case <-failures:
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	if err := os.WriteFile(path, []byte("version: 1\nlogging: {colour: red}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for failed := false; !failed; {
		select {
		case <-failures:
			failed = true
		case cfg := <-changes:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("expected reload failure, got %+v", cfg.Logging)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for failed reload")
		}
	}
}

func TestWatcherRequiresCallback(t *testing.T) {
	w := NewWatcher(writeConfig(t, "version: 1\n"), 0, nil, nil)
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected error without callback")
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
