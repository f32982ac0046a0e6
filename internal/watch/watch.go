// Package watch re-runs file-backed sources when their inputs change on disk.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/scenecorpus/internal/apperr"
	"github.com/starford/scenecorpus/internal/assemble"
	"github.com/starford/scenecorpus/internal/source"
)

// DefaultDebounce is the quiet period after the last change before a run.
const DefaultDebounce = 500 * time.Millisecond

// Runner executes a pipeline run.
type Runner interface {
	Run(ctx context.Context, opts assemble.Options) (*assemble.Result, error)
}

// Target ties a watched path to the source that reads it. Path is a file or
// a directory; directories are watched recursively.
type Target struct {
	SourceID string
	Path     string
}

// Targets returns the watch targets of the enabled file-backed sources.
// Documentation sources are fetched over HTTP and are never watched.
func Targets(specs []source.Spec) []Target {
	var out []Target
	for _, s := range specs {
		if s.Disabled || s.Kind == source.KindDocs || s.Path == "" {
			continue
		}
		out = append(out, Target{SourceID: s.ID, Path: s.Path})
	}
	return out
}

// Watch starts an fsnotify watcher on the targets and re-runs the affected
// sources until ctx is cancelled. Changes are collected until no event
// arrived for debounce, then one run covers every touched source. A run that
// is refused because another is active is retried after the next quiet period.
func Watch(ctx context.Context, runner Runner, targets []Target, debounce time.Duration, logger *slog.Logger) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs := make([]Target, 0, len(targets))
	for _, t := range targets {
		p, err := filepath.Abs(t.Path)
		if err != nil {
			return err
		}
		t.Path = p
		abs = append(abs, t)

		info, err := os.Stat(p)
		switch {
		case err == nil && info.IsDir():
			err = addDirsRecursive(w, p)
		case err == nil:
			// Editors replace files by rename, so the parent is watched.
			err = w.Add(filepath.Dir(p))
		case errors.Is(err, fs.ErrNotExist):
			err = w.Add(filepath.Dir(p))
		}
		if err != nil {
			return err
		}
	}

	logger.Info("watcher: started", slog.Int("targets", len(abs)))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}
	dirty := map[string]bool{}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-fire:
			ids := make([]string, 0, len(dirty))
			for id := range dirty {
				ids = append(ids, id)
			}
			slices.Sort(ids)
			logger.Info("watcher: inputs changed", slog.Any("sources", ids))

			_, err := runner.Run(ctx, assemble.Options{Sources: ids})
			switch {
			case errors.Is(err, apperr.ErrConflict):
				logger.Debug("watcher: run in progress, retrying")
				schedule()
				continue
			case err != nil:
				logger.Error("watcher: run failed", slog.String("error", err.Error()))
			}
			clear(dirty)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() && within(abs, ev.Name) {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			touched := false
			for _, t := range abs {
				if matches(t.Path, ev.Name) {
					dirty[t.SourceID] = true
					touched = true
				}
			}
			if touched {
				logger.Debug("watcher: change", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// matches reports whether an event on name concerns target.
func matches(target, name string) bool {
	return name == target || strings.HasPrefix(name, target+string(filepath.Separator))
}

func within(targets []Target, name string) bool {
	for _, t := range targets {
		if matches(t.Path, name) {
			return true
		}
	}
	return false
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
