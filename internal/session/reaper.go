package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// reaper periodically disconnects sessions that have been idle longer than
// the configured timeout. Sessions with a run in flight are never reaped.
type reaper struct {
	mgr      *Manager
	timeout  time.Duration
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

func newReaper(m *Manager, timeout time.Duration) *reaper {
	interval := timeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return &reaper{mgr: m, timeout: timeout, interval: interval, done: make(chan struct{})}
}

func (r *reaper) start(ctx context.Context) {
	go r.loop(ctx)
}

// stop halts the loop. Safe to call multiple times.
func (r *reaper) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *reaper) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.reapNow()
		}
	}
}

// reapNow disconnects every idle session and returns how many it removed.
func (r *reaper) reapNow() int {
	ids := r.mgr.idle(r.mgr.now().Add(-r.timeout))
	for _, id := range ids {
		slog.Info("disconnecting idle session", "session_id", id, "idle_timeout", r.timeout)
		r.mgr.OnDisconnect(id)
	}
	return len(ids)
}

// ReapIdle disconnects sessions idle for longer than d and returns how many
// were removed.
func (m *Manager) ReapIdle(d time.Duration) int {
	return (&reaper{mgr: m, timeout: d}).reapNow()
}
