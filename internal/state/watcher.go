package state

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reports operator edits of the document's watch list. It watches the
// directory rather than the file because persists replace the file by rename.
type Watcher struct {
	path    string
	logger  *zap.Logger
	watcher *fsnotify.Watcher
	updates chan []string
	done    chan struct{}
}

// NewWatcher starts watching path. Call Close to release it.
func NewWatcher(ctx context.Context, path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    filepath.Clean(path),
		logger:  logger,
		watcher: fw,
		updates: make(chan []string, 1),
		done:    make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

// Updates delivers the latest watch list after each change on disk. Only the
// most recent list is kept if the reader falls behind.
func (w *Watcher) Updates() <-chan []string {
	return w.updates
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch_error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	doc, err := ReadDocument(w.path)
	if err != nil {
		// Editors write in several steps; the next event carries the final file.
		w.logger.Debug("watch_list_reload_skipped", zap.String("path", w.path), zap.Error(err))
		return
	}

	select {
	case <-w.updates:
	default:
	}
	w.updates <- doc.WatchList
}
