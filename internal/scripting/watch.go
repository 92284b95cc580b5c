package scripting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher signals when anything under the mods directory changes. It never
// touches the Lua VM: the host loop drains Changed and reloads on its own
// goroutine.
type Watcher struct {
	dir     string
	fsw     *fsnotify.Watcher
	changed chan struct{}
	log     *zap.Logger
}

// NewWatcher watches dir and each mod directory below it. fsnotify is not
// recursive, so mod directories created later are added as they appear.
func NewWatcher(dir string, log *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		dir:     dir,
		fsw:     fsw,
		changed: make(chan struct{}, 1),
		log:     log,
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("read mods dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := fsw.Add(filepath.Join(dir, entry.Name())); err != nil {
				fsw.Close()
				return nil, fmt.Errorf("watch %s: %w", entry.Name(), err)
			}
		}
	}
	return w, nil
}

// Start forwards change notifications until ctx is done.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer w.fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				w.handle(evt)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				w.log.Warn("mod watcher error", zap.Error(err))
			}
		}
	}()
}

func (w *Watcher) handle(evt fsnotify.Event) {
	if !evt.Op.Has(fsnotify.Write) && !evt.Op.Has(fsnotify.Create) &&
		!evt.Op.Has(fsnotify.Remove) && !evt.Op.Has(fsnotify.Rename) {
		return
	}
	if evt.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(evt.Name); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
				w.log.Warn("watch new mod dir", zap.String("dir", evt.Name), zap.Error(err))
			}
		}
	}
	w.log.Debug("mod files changed", zap.String("path", evt.Name), zap.String("op", evt.Op.String()))
	select {
	case w.changed <- struct{}{}:
	default: // a reload is already pending
	}
}

// Changed receives one value per burst of changes.
func (w *Watcher) Changed() <-chan struct{} {
	return w.changed
}
