package session

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// devToolsPortFile is rewritten by the browser on every start with the
// active remote-debugging port.
const devToolsPortFile = "DevToolsActivePort"

// PortWatcher watches the browser profile's DevToolsActivePort file. A
// rewrite means the browser restarted and the current CDP connection is
// dead, even if the socket has not erred yet.
type PortWatcher struct {
	profileDir string
	watcher    *fsnotify.Watcher
	onChange   func()
}

// NewPortWatcher creates a watcher over profileDir. onChange runs on
// every rewrite of the port file.
func NewPortWatcher(profileDir string, onChange func()) (*PortWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &PortWatcher{
		profileDir: profileDir,
		watcher:    watcher,
		onChange:   onChange,
	}, nil
}

// Start watches until ctx is cancelled.
func (w *PortWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.profileDir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-w.watcher.Errors:
			if err != nil {
				return err
			}
		case event := <-w.watcher.Events:
			if filepath.Base(event.Name) != devToolsPortFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				log.Printf("session: %s changed (%s), marking session lost", devToolsPortFile, event.Op)
				w.onChange()
			}
		}
	}
}

// Close releases the underlying watcher.
func (w *PortWatcher) Close() error {
	return w.watcher.Close()
}
