package console

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchedFiles are the buffer files whose changes trigger a refresh.
var watchedFiles = map[string]bool{
	"users.json":    true,
	"messages.json": true,
}

// Watcher calls onChange after the local buffer files change. Bursts of
// events within the debounce window produce a single call.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	onError  func(error)
	done     chan struct{}
}

// Watch starts watching dir. The store replaces files by rename, so the
// directory is watched rather than the files themselves. onError may be nil.
func Watch(dir string, debounce time.Duration, onChange func(), onError func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	if onError == nil {
		onError = func(error) {}
	}
	w := &Watcher{
		watcher:  fw,
		debounce: debounce,
		onChange: onChange,
		onError:  onError,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	var fire <-chan time.Time
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(evt) {
				continue
			}
			fire = time.After(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.onError(err)
		case <-fire:
			fire = nil
			w.onChange()
		}
	}
}

func relevant(evt fsnotify.Event) bool {
	if !watchedFiles[filepath.Base(evt.Name)] {
		return false
	}
	return evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
