package services

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches the schedule/catalog config file and flushes the
// in-process caches when it changes, so edits take effect without a
// restart. Watching the parent directory rather than the file itself
// survives the rename-and-replace dance editors and config pushes do.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	onChange func()
	done     chan struct{}
	closed   chan struct{}
}

// NewConfigWatcher starts watching path. onChange runs on every write or
// rename of the file.
func NewConfigWatcher(path string, onChange func()) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w := &ConfigWatcher{
		watcher:  watcher,
		path:     filepath.Clean(path),
		onChange: onChange,
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go w.loop()

	log.Printf("👀 [CONFIG] Watching %s for changes", path)
	return w, nil
}

func (w *ConfigWatcher) loop() {
	defer close(w.closed)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				log.Printf("👀 [CONFIG] %s changed, flushing caches", w.path)
				w.onChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  [CONFIG] Watcher error: %v", err)
		}
	}
}

// Close stops the watcher and waits for the loop to exit.
func (w *ConfigWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.closed
	return err
}
