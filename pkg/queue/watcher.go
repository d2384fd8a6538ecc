package queue

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies a worker of new job files in an Inbox. It prefers
// fsnotify and falls back to polling when the watch cannot be established,
// so workers keep functioning on filesystems without inotify support
// (e.g. some network mounts).
type Watcher struct {
	Inbox    *Inbox
	Logger   *slog.Logger
	jobEvent chan string
}

// NewWatcher builds a Watcher over inbox. Call Run to start it; new job IDs
// are delivered on the channel returned by Events.
func NewWatcher(inbox *Inbox, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{Inbox: inbox, Logger: logger, jobEvent: make(chan string, 256)}
}

// Events returns the channel new unclaimed job IDs are published on. The
// same ID may be published more than once; callers must tolerate duplicates
// (claiming is idempotent-safe via the atomic rename).
func (w *Watcher) Events() <-chan string { return w.jobEvent }

// Run blocks until ctx is cancelled, watching for new job files.
func (w *Watcher) Run(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.Logger.Warn("queue: fsnotify unavailable, falling back to polling", "error", err)
		w.runPolling(ctx)
		return
	}
	defer fsw.Close()

	if err := fsw.Add(w.Inbox.Dir); err != nil {
		w.Logger.Warn("queue: fsnotify add failed, falling back to polling", "error", err)
		w.runPolling(ctx)
		return
	}

	pending := make(map[string]time.Time)
	debounce := time.NewTicker(stabilityDebounce)
	defer debounce.Stop()
	pollFallback := time.NewTicker(pollFallbackInterval * 5)
	defer pollFallback.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !hasSuffix(ev.Name, jobSuffix) || hasSuffix(ev.Name, claimedSuffix) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[trimSuffix(filepath.Base(ev.Name), jobSuffix)] = time.Now()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.Logger.Error("queue: fsnotify error", "error", err)
		case <-debounce.C:
			w.flushStable(pending)
		case <-pollFallback.C:
			// Belt-and-suspenders sweep in case an event was coalesced or
			// dropped by the OS watch queue.
			w.pollOnce()
		}
	}
}

func (w *Watcher) flushStable(pending map[string]time.Time) {
	now := time.Now()
	for id, seenAt := range pending {
		if now.Sub(seenAt) < stabilityDebounce {
			continue
		}
		if _, err := os.Stat(w.Inbox.jobPath(id)); err != nil {
			delete(pending, id)
			continue
		}
		select {
		case w.jobEvent <- id:
		default:
		}
		delete(pending, id)
	}
}

func (w *Watcher) runPolling(ctx context.Context) {
	ticker := time.NewTicker(pollFallbackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	ids, err := w.Inbox.ListUnclaimed()
	if err != nil {
		w.Logger.Error("queue: poll list failed", "error", err)
		return
	}
	for _, id := range ids {
		select {
		case w.jobEvent <- id:
		default:
		}
	}
}
