// Package watchdog detects stuck batch operations by heartbeat, per
// spec.md §4.12. It generalizes the teacher's CGO-worker stall detector
// (pkg/framework/watchdog.go) from a fixed worker pool to an arbitrary
// set of (project_id, batch_start_offset) operations tracked over the
// operation's lifetime.
package watchdog

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Key identifies one tracked batch operation.
type Key struct {
	ProjectID        string
	BatchStartOffset int
}

type tracked struct {
	total         int
	phase         string
	startedAt     time.Time
	lastHeartbeat time.Time
	cancel        context.CancelFunc
	stuck         bool
}

// Handle is returned by Track; Heartbeat and UpdatePhase operate on it,
// and Release removes the tracked entry (deferred by the caller at the
// scope's end, per spec.md §4.12 "tracking is removed when the scoped
// handle's scope ends").
type Handle struct {
	key string
	wd  *Watchdog
}

// Heartbeat records that the operation is still making progress.
func (h Handle) Heartbeat() {
	h.wd.heartbeat(h.key)
}

// UpdatePhase records the operation's current phase for observability.
func (h Handle) UpdatePhase(phase string) {
	h.wd.updatePhase(h.key, phase)
}

// Release stops tracking the operation.
func (h Handle) Release() {
	h.wd.release(h.key)
}

// Watchdog tracks active batch operations and periodically sweeps for
// stuck ones (spec.md §4.12).
type Watchdog struct {
	mu       sync.Mutex
	tracking map[string]*tracked

	checkInterval        time.Duration
	maxHeartbeatInterval time.Duration
	maxProjectDuration   time.Duration
	autoCancelStuck      bool

	logger *slog.Logger
}

// New builds a Watchdog from its configuration knobs.
func New(checkIntervalSeconds, maxHeartbeatIntervalSeconds, maxProjectDurationSeconds int, autoCancelStuck bool, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}

	return &Watchdog{
		tracking:             make(map[string]*tracked),
		checkInterval:        time.Duration(checkIntervalSeconds) * time.Second,
		maxHeartbeatInterval: time.Duration(maxHeartbeatIntervalSeconds) * time.Second,
		maxProjectDuration:   time.Duration(maxProjectDurationSeconds) * time.Second,
		autoCancelStuck:      autoCancelStuck,
		logger:               logger,
	}
}

func keyString(k Key) string {
	return k.ProjectID + "#" + strconv.Itoa(k.BatchStartOffset)
}

// Track begins tracking a batch operation, returning a scoped Handle.
// cancel is invoked by the sweeper if the operation is later found stuck
// and auto_cancel_stuck is set.
func (w *Watchdog) Track(key Key, total int, cancel context.CancelFunc) Handle {
	now := time.Now()

	w.mu.Lock()
	w.tracking[keyString(key)] = &tracked{
		total:         total,
		startedAt:     now,
		lastHeartbeat: now,
		cancel:        cancel,
	}
	w.mu.Unlock()

	return Handle{key: keyString(key), wd: w}
}

func (w *Watchdog) heartbeat(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.tracking[key]; ok {
		t.lastHeartbeat = time.Now()
		t.stuck = false
	}
}

func (w *Watchdog) updatePhase(key string, phase string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.tracking[key]; ok {
		t.phase = phase
	}
}

func (w *Watchdog) release(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.tracking, key)
}

// StuckKeys returns the string keys currently marked stuck, for
// observability and tests.
func (w *Watchdog) StuckKeys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string

	for k, t := range w.tracking {
		if t.stuck {
			out = append(out, k)
		}
	}

	return out
}

// Sweep runs one pass over all tracked operations, marking as stuck any
// whose heartbeat is overdue or whose total duration has overrun, and
// cancelling them if auto_cancel_stuck is set. Exposed directly so tests
// don't need to wait on the Run loop's ticker.
func (w *Watchdog) Sweep() {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	for key, t := range w.tracking {
		stuckHeartbeat := w.maxHeartbeatInterval > 0 && now.Sub(t.lastHeartbeat) > w.maxHeartbeatInterval
		overrun := w.maxProjectDuration > 0 && now.Sub(t.startedAt) > w.maxProjectDuration

		if !stuckHeartbeat && !overrun {
			continue
		}

		if t.stuck {
			continue
		}

		t.stuck = true

		w.logger.Warn("watchdog: stuck batch operation detected",
			slog.String("key", key),
			slog.String("phase", t.phase),
			slog.Bool("stuck_heartbeat", stuckHeartbeat),
			slog.Bool("overrun", overrun),
		)

		if w.autoCancelStuck && t.cancel != nil {
			t.cancel()
		}
	}
}

// Run starts the background sweeper; it blocks until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	interval := w.checkInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}
