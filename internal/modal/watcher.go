package modal

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Invalidator drops a cached config.
type Invalidator interface {
	Invalidate(configID string)
}

// Watcher invalidates cached configs when their documents change on disk.
type Watcher struct {
	dir      string
	target   Invalidator
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	onChange func(configID string)
}

// NewWatcher watches dir for changes to "<id>.json" documents.
func NewWatcher(dir string, target Invalidator, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{dir: dir, target: target, logger: logger, watcher: fw}, nil
}

// OnChange registers a callback invoked after each invalidation.
func (w *Watcher) OnChange(fn func(configID string)) {
	w.onChange = fn
}

// Run processes file events until ctx is done or the watcher fails. It
// closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("modal watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	name := filepath.Base(event.Name)
	if !strings.EqualFold(filepath.Ext(name), ".json") {
		return
	}
	configID := strings.TrimSuffix(name, filepath.Ext(name))
	if !ValidConfigID(configID) {
		return
	}

	w.target.Invalidate(configID)
	w.logger.Info("modal config changed",
		zap.String("config_id", configID),
		zap.String("op", event.Op.String()),
	)
	if w.onChange != nil {
		w.onChange(configID)
	}
}
