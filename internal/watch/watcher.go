// Package watch reports edits to a libraries export file on disk.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MarcoPoloResearchLab/vocabsync/internal/vocabulary"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

var errMissingPath = errors.New("watch: file path is required")

// ChangeFunc receives the libraries read from the file after each change.
type ChangeFunc func(ctx context.Context, libraries []vocabulary.Library) error

// Config selects the watched file.
type Config struct {
	Path   string
	Logger *zap.Logger
}

// ReadLibraries reads a JSON array of libraries from path. Entries that cannot be read
// are skipped.
func ReadLibraries(path string) ([]vocabulary.Library, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !json.Valid(contents) {
		return nil, fmt.Errorf("watch: %s is not valid JSON", path)
	}
	return vocabulary.DecodeLibraries(contents), nil
}

// WriteLibraries replaces the file at path with libraries as an indented JSON array.
// The content is written to a temporary file in the same directory and renamed into
// place, so a concurrent reader never sees a partial file.
func WriteLibraries(path string, libraries []vocabulary.Library) error {
	if path == "" {
		return errMissingPath
	}
	if libraries == nil {
		libraries = []vocabulary.Library{}
	}
	contents, err := json.MarshalIndent(libraries, "", "  ")
	if err != nil {
		return fmt.Errorf("watch: encode libraries: %w", err)
	}

	temporary, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("watch: create temporary file: %w", err)
	}
	defer os.Remove(temporary.Name()) //nolint:errcheck

	if _, err := temporary.Write(append(contents, '\n')); err != nil {
		temporary.Close()
		return fmt.Errorf("watch: write %s: %w", temporary.Name(), err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("watch: close %s: %w", temporary.Name(), err)
	}
	if err := os.Rename(temporary.Name(), path); err != nil {
		return fmt.Errorf("watch: replace %s: %w", path, err)
	}
	return nil
}

// Run watches the directory holding cfg.Path and invokes onChange whenever the file is
// written or replaced. It blocks until ctx is done. Failures of onChange and unreadable
// file contents are logged and do not stop the watch.
func Run(ctx context.Context, cfg Config, onChange ChangeFunc) error {
	if cfg.Path == "" {
		return errMissingPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	target, err := filepath.Abs(cfg.Path)
	if err != nil {
		return fmt.Errorf("watch: resolve %s: %w", cfg.Path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace files by rename, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch: watch %s: %w", filepath.Dir(target), err)
	}
	logger.Info("watching libraries file", zap.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			libraries, err := ReadLibraries(target)
			if err != nil {
				logger.Warn("libraries file unreadable", zap.String("path", target), zap.Error(err))
				continue
			}
			if err := onChange(ctx, libraries); err != nil {
				logger.Warn("libraries change handler failed", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("file watcher error", zap.Error(err))
		}
	}
}
