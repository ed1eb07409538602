// Package watcher drives the CLI's watch mode: it observes a prompt
// file (or a directory of prompt JSON files) and reports changes so
// the transform can be re-run.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kjall/promptfold/pkg/logging"
)

// ChangeEvent represents a batch of prompt file changes.
type ChangeEvent struct {
	Paths     []string
	Timestamp time.Time
}

// PromptWatcher watches prompt JSON files for changes.
type PromptWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	isDir   bool
	events  chan ChangeEvent
}

// NewPromptWatcher creates a watcher for path, which may be a single
// file or a directory of *.json prompts.
func NewPromptWatcher(path string) (*PromptWatcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat watch path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &PromptWatcher{
		watcher: watcher,
		path:    path,
		isDir:   info.IsDir(),
		events:  make(chan ChangeEvent, 100),
	}, nil
}

// Start begins watching. Events are delivered on Events until the
// context is cancelled.
func (pw *PromptWatcher) Start(ctx context.Context) error {
	// Editors replace files rather than writing in place, so watch the
	// containing directory and filter, instead of watching the file.
	dir := pw.path
	if !pw.isDir {
		dir = filepath.Dir(pw.path)
	}
	if err := pw.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	logging.Info("watching for prompt changes", "path", pw.path)
	go pw.processEvents(ctx)
	return nil
}

// Events returns the channel of raw change events.
func (pw *PromptWatcher) Events() <-chan ChangeEvent {
	return pw.events
}

// Close stops the watcher.
func (pw *PromptWatcher) Close() error {
	return pw.watcher.Close()
}

func (pw *PromptWatcher) processEvents(ctx context.Context) {
	defer close(pw.events)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if !pw.relevant(event) {
				continue
			}
			logging.Debug("prompt file changed", "path", event.Name, "op", event.Op.String())
			select {
			case pw.events <- ChangeEvent{Paths: []string{event.Name}, Timestamp: time.Now()}:
			default:
				logging.Warn("watcher event queue full, dropping event", "path", event.Name)
			}

		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("watcher error", "error", err)
		}
	}
}

func (pw *PromptWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	if pw.isDir {
		return strings.EqualFold(filepath.Ext(event.Name), ".json")
	}
	return filepath.Clean(event.Name) == filepath.Clean(pw.path)
}
