package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports changes to module manifests and the workspace file.
type Watcher struct {
	root     string
	loader   *Loader
	delay    time.Duration
	logger   zerolog.Logger
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watching map[string]bool
}

// NewWatcher creates a watcher for the workspace at root. Changes within
// delay of each other are coalesced into one notification.
func NewWatcher(root string, loader *Loader, delay time.Duration, logger zerolog.Logger) *Watcher {
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Watcher{
		root:     root,
		loader:   loader,
		delay:    delay,
		logger:   logger.With().Str("component", "watcher").Logger(),
		watching: make(map[string]bool),
	}
}

// Run watches until ctx is done, calling onChange after each burst of
// manifest changes. It returns nil when ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	if err := w.addTree(w.root); err != nil {
		return err
	}

	w.logger.Debug().Str("root", w.root).Int("dirs", len(w.watching)).Msg("Watching workspace")

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			// New directories may hold new modules.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch directory")
					}
				}
			}

			if !IsConfigFile(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Manifest changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.delay, onChange)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// addTree watches dir and every searchable directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.loader.skip(w.root, path, d.Name()) {
			return filepath.SkipDir
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.watching[path] {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		w.watching[path] = true
		return nil
	})
}

// IsConfigFile reports whether path names a manifest or the workspace file.
func IsConfigFile(path string) bool {
	switch filepath.Base(path) {
	case ManifestYAML, ManifestCUE, WorkspaceFile:
		return true
	}
	return false
}
