package inference

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Buffer is a numeric buffer produced during model inference. Buffers
// hold native memory and must be closed explicitly to bound peak usage.
type Buffer interface {
	Close() error
	Size() int
}

// Tracker accounts for every live buffer created during inference. When
// total tracked memory crosses the ceiling, a sweep disposes all
// buffers and forces a collection pass before the next tick.
type Tracker struct {
	mu      sync.Mutex
	idle    *sync.Cond
	users   int
	ceiling int64
	bytes   int64
	nextID  uint64
	live    map[uint64]Buffer
	logger  *slog.Logger
}

// NewTracker creates a tracker with the given memory ceiling in bytes.
func NewTracker(ceilingBytes int64, logger *slog.Logger) *Tracker {
	t := &Tracker{
		ceiling: ceilingBytes,
		live:    make(map[uint64]Buffer),
		logger:  logger,
	}
	t.idle = sync.NewCond(&t.mu)
	return t
}

// BeginUse marks the start of an inference call that reads tracked
// buffers. Sweep waits for every active use to end before disposing, so
// a release elsewhere cannot close native memory mid-computation.
func (t *Tracker) BeginUse() {
	t.mu.Lock()
	t.users++
	t.mu.Unlock()
}

// EndUse ends a BeginUse scope.
func (t *Tracker) EndUse() {
	t.mu.Lock()
	t.users--
	if t.users == 0 {
		t.idle.Broadcast()
	}
	t.mu.Unlock()
}

// Track registers a buffer and returns a handle used to release it.
// If the ceiling is exceeded, every tracked buffer is swept first.
func (t *Tracker) Track(buf Buffer) uint64 {
	t.mu.Lock()
	if t.ceiling > 0 && t.bytes+int64(buf.Size()) > t.ceiling {
		t.sweepLocked()
		t.mu.Unlock()
		debug.FreeOSMemory()
		t.mu.Lock()
	}

	t.nextID++
	id := t.nextID
	t.live[id] = buf
	t.bytes += int64(buf.Size())
	t.mu.Unlock()
	return id
}

// Release closes and forgets a tracked buffer. Safe to call with a
// handle that has already been released or swept.
func (t *Tracker) Release(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	buf, ok := t.live[id]
	if !ok {
		return
	}
	delete(t.live, id)
	t.bytes -= int64(buf.Size())
	if err := buf.Close(); err != nil {
		t.logger.Warn("buffer close failed", slog.Any("error", err))
	}
}

// Sweep disposes every tracked buffer once no inference call is active.
func (t *Tracker) Sweep() {
	t.mu.Lock()
	for t.users > 0 {
		t.idle.Wait()
	}
	t.sweepLocked()
	t.mu.Unlock()
}

func (t *Tracker) sweepLocked() {
	if len(t.live) == 0 {
		return
	}
	t.logger.Info("sweeping numeric buffers",
		slog.Int("count", len(t.live)),
		slog.Int64("bytes", t.bytes))
	for id, buf := range t.live {
		if err := buf.Close(); err != nil {
			t.logger.Warn("buffer close failed", slog.Any("error", err))
		}
		delete(t.live, id)
	}
	t.bytes = 0
}

// LiveCount returns the number of buffers currently tracked.
func (t *Tracker) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// LiveBytes returns the total size of buffers currently tracked.
func (t *Tracker) LiveBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}
