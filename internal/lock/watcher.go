package lock

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lumenflow-dev/lumenflow/internal/errs"
)

// Watcher wakes Acquire's contested-lease retry loop on filesystem events
// in the lock directory, so a caller blocked waiting for a busy lease
// notices a release immediately rather than discovering it on the next
// fixed poll tick. Acquire still re-validates by reading the lock file
// itself; the watcher only shortens the wait, it never replaces the
// create/EEXIST check.
type Watcher struct {
	w *fsnotify.Watcher
}

// NewWatcher starts watching dir (the lock root) for create/write/remove
// events. The directory must already exist. Callers must Close the
// returned Watcher when done.
func NewWatcher(dir string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, "start lock directory watcher", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, errs.Wrap(errs.KindIO, "watch lock directory", err)
	}
	return &Watcher{w: w}, nil
}

// WaitForChange blocks until a lock-directory event arrives, the watcher
// errors, or timeout elapses — whichever happens first.
func (w *Watcher) WaitForChange(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.w.Events:
	case <-w.w.Errors:
	case <-timer.C:
	}
}

// Close releases the underlying OS watch.
func (w *Watcher) Close() error {
	return w.w.Close()
}
