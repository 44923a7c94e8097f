package artifacts

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vinayprograms/agent/internal/eventbus"
)

// Watcher mirrors filesystem writes under the tracked directories onto the
// event bus as file.modified events, in real time. It is purely
// supplementary: the coordinator's authoritative artifact detection always
// goes through Manager's snapshot/diff, never through this watcher.
type Watcher struct {
	fsw    *fsnotify.Watcher
	bus    *eventbus.Bus
	logger *slog.Logger
	done   chan struct{}
}

// NewWatcher creates a Watcher over root's tracked directories (the same
// defaults as Manager, or trackedDirs if non-empty).
func NewWatcher(root string, trackedDirs []string, bus *eventbus.Bus, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(trackedDirs) == 0 {
		trackedDirs = defaultTrackedDirs
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range trackedDirs {
		abs := filepath.Join(root, dir)
		if err := fsw.Add(abs); err != nil {
			logger.Warn("artifact watcher could not add directory", slog.String("dir", abs), slog.String("error", err.Error()))
		}
	}

	return &Watcher{fsw: fsw, bus: bus, logger: logger, done: make(chan struct{})}, nil
}

// Run blocks, forwarding fsnotify write/create events as file.modified bus
// events, until Close is called.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.bus.Publish(eventbus.Event{
				Type:      "file.modified",
				Data:      map[string]any{"path": event.Name, "op": event.Op.String()},
				Timestamp: time.Now(),
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("artifact watcher error", slog.String("error", err.Error()))
		case <-w.done:
			return
		}
	}
}

// Close stops Run and releases the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
