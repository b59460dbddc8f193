package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/civichain/votegate/internal/inference"
	"github.com/civichain/votegate/internal/models"
	"github.com/google/uuid"
)

// Session is a live capture session. Owned exclusively by the Manager;
// created on camera start and destroyed on every exit path.
type Session struct {
	ID string

	stream  Stream
	display DisplaySurface
	cancel  context.CancelFunc
	live    atomic.Bool
	done    chan struct{}

	// streamMu serializes every operation on the underlying stream. The
	// camera is a single native handle; a read racing another read or
	// the stop is undefined behavior in the device layer.
	streamMu sync.Mutex

	mu        sync.Mutex
	faceState FaceState
	detectErr error
}

func (s *Session) readFrame(ctx context.Context) ([]byte, error) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.stream.ReadFrame(ctx)
}

func (s *Session) stopStream() error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	return s.stream.Stop()
}

// Live reports whether the session has not been released. The detection
// loop checks this before touching any surface.
func (s *Session) Live() bool { return s.live.Load() }

// FaceState returns the latest detection sub-state.
func (s *Session) FaceState() FaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faceState
}

// DetectionErr returns the persistent detection error, if any.
func (s *Session) DetectionErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectErr
}

// LiveTracks reports how many media tracks remain open.
func (s *Session) LiveTracks() int { return s.stream.LiveTracks() }

func (s *Session) setFaceState(st FaceState) {
	s.mu.Lock()
	s.faceState = st
	s.mu.Unlock()
}

func (s *Session) setDetectionErr(err error) {
	s.mu.Lock()
	s.detectErr = err
	s.mu.Unlock()
}

// Manager acquires and releases the capture device and owns the
// periodic detection loop. At most one session is live at a time.
type Manager struct {
	mu       sync.Mutex
	device   Device
	runtime  inference.Runtime
	interval time.Duration
	cooldown time.Duration
	active   *Session
	logger   *slog.Logger
}

// NewManager creates a capture manager. interval is the detection tick
// period; cooldown is how long the loop pauses after a failed tick.
func NewManager(device Device, runtime inference.Runtime, interval, cooldown time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		device:   device,
		runtime:  runtime,
		interval: interval,
		cooldown: cooldown,
		logger:   logger,
	}
}

// Acquire opens the capture device, binds the display surface, and
// starts the detection loop. Fails with ErrCaptureBusy if a session is
// already live, or a DeviceError if the device cannot be opened.
func (m *Manager) Acquire(ctx context.Context, display DisplaySurface, observer Observer) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, models.ErrCaptureBusy
	}

	stream, err := m.device.Open(ctx)
	if err != nil {
		return nil, &models.DeviceError{Op: "acquire", Err: err}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		ID:      uuid.NewString(),
		stream:  stream,
		display: display,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	session.live.Store(true)
	m.active = session

	m.logger.Info("capture session acquired", slog.String("session_id", session.ID))
	go m.detectionLoop(loopCtx, session, observer)

	return session, nil
}

// Release destroys the session: stops every media track, clears the
// display binding, cancels the detection loop, and disposes all
// outstanding numeric buffers. Idempotent; safe to call during an
// in-flight tick, which checks liveness before touching surfaces.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	if !s.live.CompareAndSwap(true, false) {
		return
	}

	s.cancel()
	if err := s.stopStream(); err != nil {
		m.logger.Warn("failed to stop media stream", slog.Any("error", err))
	}
	s.display.Clear()
	m.runtime.Tracker().Sweep()

	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()

	m.logger.Info("capture session released", slog.String("session_id", s.ID))
}

// CaptureFrame reads one frame for verification, outside the detection
// loop cadence.
func (m *Manager) CaptureFrame(ctx context.Context, s *Session) ([]byte, error) {
	if !s.Live() {
		return nil, models.ErrCaptureReleased
	}
	frame, err := s.readFrame(ctx)
	if err != nil {
		return nil, &models.DeviceError{Op: "capture", Err: err}
	}
	return frame, nil
}

// detectionLoop runs one tick per interval. Ticks are strictly
// serialized: the next tick is armed only after the previous tick's
// buffer disposal has completed. A failed tick pauses the loop for the
// cooldown and resumes once; a second failure surfaces a persistent
// detection error.
func (m *Manager) detectionLoop(ctx context.Context, s *Session, observer Observer) {
	defer close(s.done)

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	recovered := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !s.Live() {
			return
		}

		if err := m.tick(ctx, s, observer); err != nil {
			if !s.Live() {
				return
			}
			if recovered {
				m.logger.Error("detection failed after cooldown recovery",
					slog.String("session_id", s.ID),
					slog.Any("error", err))
				s.setDetectionErr(fmt.Errorf("%w: %v", models.ErrDetectionFailed, err))
				s.setFaceState(FaceFailed)
				if observer != nil {
					observer(FaceFailed)
				}
				return
			}
			recovered = true
			m.logger.Warn("detection tick failed, pausing",
				slog.String("session_id", s.ID),
				slog.Duration("cooldown", m.cooldown),
				slog.Any("error", err))
			timer.Reset(m.cooldown)
			continue
		}

		timer.Reset(m.interval)
	}
}

// tick captures one frame, runs detection, classifies the face count,
// and publishes the sub-state. Buffers created during the tick are
// disposed inside the runtime before this returns. Panics are contained
// to the tick.
func (m *Manager) tick(ctx context.Context, s *Session, observer Observer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detection tick panicked: %v", r)
		}
	}()

	frame, err := s.readFrame(ctx)
	if err != nil {
		return fmt.Errorf("read frame: %w", err)
	}

	// Released mid-read: discard without touching surfaces.
	if !s.Live() {
		return nil
	}

	if err := s.display.Present(frame); err != nil {
		return fmt.Errorf("present frame: %w", err)
	}

	det, err := m.runtime.Detect(ctx, frame)
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	if !s.Live() {
		return nil
	}

	state := FaceNone
	switch {
	case det.FaceCount == 1:
		state = FaceOne
	case det.FaceCount > 1:
		state = FaceMultiple
	}
	s.setFaceState(state)
	if observer != nil {
		observer(state)
	}
	return nil
}
