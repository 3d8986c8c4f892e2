package stand

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcher calls onChange once a burst of writes to one file settles.
type watcher struct {
	w        *fsnotify.Watcher
	path     string
	settle   time.Duration
	onChange func()
}

// newWatcher watches the directory holding path, so editors that save by
// renaming a temp file over it are still seen.
func newWatcher(path string, settle time.Duration, onChange func()) (*watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &watcher{w: fw, path: abs, settle: settle, onChange: onChange}, nil
}

func (w *watcher) run(ctx context.Context) {
	defer w.w.Close()
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if name, err := filepath.Abs(ev.Name); err != nil || name != w.path {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.settle, w.onChange)
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			log.Printf("stand: watcher error: %v", err)
		}
	}
}
