package config

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestIsConfigFile(t *testing.T) {
	tests := map[string]bool{
		"/w/api/module.yaml": true,
		"/w/web/module.cue":  true,
		"/w/modctl.yaml":     true,
		"/w/api/main.go":     false,
		"/w/api/module.yml":  false,
	}
	for path, want := range tests {
		if got := IsConfigFile(path); got != want {
			t.Errorf("IsConfigFile(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestWatcher_NotifiesOnManifestChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "api", ManifestYAML), "name: api\n")

	w := NewWatcher(root, NewLoader(nil, 0), 50*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 10)
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx, func() { changed <- struct{}{} })
	}()

	// Wait for the watches to be in place.
	deadline := time.Now().Add(5 * time.Second)
	for {
		w.mu.Lock()
		ready := w.watching[filepath.Join(root, "api")]
		w.mu.Unlock()
		if ready {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Unrelated files are ignored.
	writeFile(t, filepath.Join(root, "api", "main.go"), "package main\n")
	select {
	case <-changed:
		t.Fatal("unexpected notification for a non-manifest file")
	case <-time.After(200 * time.Millisecond):
	}

	writeFile(t, filepath.Join(root, "api", ManifestYAML), "name: api\nservices: []\n")
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("expected change notification")
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
