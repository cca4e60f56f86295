// Package settings hot-reloads the reminder settings file.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Settings is the on-disk reminder configuration:
//
//	reminders_enabled: true
//	schedule: "0 20 * * *"
type Settings struct {
	RemindersEnabled *bool  `yaml:"reminders_enabled"`
	Schedule         string `yaml:"schedule"`
}

// Enabled defaults to true when the key is absent.
func (s Settings) Enabled() bool {
	return s.RemindersEnabled == nil || *s.RemindersEnabled
}

// Load reads and parses a settings file. A missing file yields defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Applier is the part of the reminder planner driven by settings.
type Applier interface {
	Schedule(ctx context.Context) error
	Reschedule(ctx context.Context, spec string) error
	Cancel(ctx context.Context) error
}

// Watcher applies the settings file on start and after every change.
type Watcher struct {
	path     string
	applier  Applier
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	applied *Settings
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, applier Applier, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		applier:  applier,
		debounce: 200 * time.Millisecond,
		logger:   logger.With("component", "settings_watcher", "path", path),
	}
}

// Apply brings the planner in line with s. Unchanged schedules are not
// re-registered, so a running obligation keeps its cadence.
func (w *Watcher) Apply(ctx context.Context, s Settings) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !s.Enabled() {
		if err := w.applier.Cancel(ctx); err != nil {
			return err
		}
		w.applied = &s
		w.logger.Info("reminders disabled")
		return nil
	}

	scheduleChanged := s.Schedule != "" && (w.applied == nil || w.applied.Schedule != s.Schedule)
	if scheduleChanged {
		if err := w.applier.Reschedule(ctx, s.Schedule); err != nil {
			return err
		}
	} else if err := w.applier.Schedule(ctx); err != nil {
		return err
	}

	w.applied = &s
	w.logger.Info("reminders enabled", "schedule", s.Schedule)
	return nil
}

// Reload loads the file and applies it.
func (w *Watcher) Reload(ctx context.Context) error {
	s, err := Load(w.path)
	if err != nil {
		return err
	}
	return w.Apply(ctx, s)
}

// Run applies the file once, then watches its directory until ctx is done.
// Invalid files are logged and the previous settings stay in effect.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Reload(ctx); err != nil {
		w.logger.Error("initial settings load failed", "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.logger.Debug("settings file changed", "op", event.Op.String())
				if timer == nil {
					timer = time.NewTimer(w.debounce)
				} else {
					timer.Reset(w.debounce)
				}
				fire = timer.C
			}
		case <-fire:
			fire = nil
			if err := w.Reload(ctx); err != nil {
				w.logger.Error("settings reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "error", err)
		}
	}
}
