package capture_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civichain/votegate/internal/capture"
	"github.com/civichain/votegate/internal/inference"
	"github.com/civichain/votegate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	tracks    atomic.Int32
	mu        sync.Mutex
	readErr   error
	frameData []byte
}

func newFakeStream() *fakeStream {
	s := &fakeStream{frameData: []byte("frame")}
	s.tracks.Store(1)
	return s
}

func (s *fakeStream) ReadFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.frameData, nil
}

func (s *fakeStream) Stop() error {
	s.tracks.Store(0)
	return nil
}

func (s *fakeStream) LiveTracks() int { return int(s.tracks.Load()) }

// strictStream counts overlapping stream operations. The real webcam is
// a single native handle; a read racing another read or the stop
// corrupts it, so any overlap is a defect.
type strictStream struct {
	tracks   atomic.Int32
	inFlight atomic.Int32
	overlaps atomic.Int32
}

func newStrictStream() *strictStream {
	s := &strictStream{}
	s.tracks.Store(1)
	return s
}

func (s *strictStream) enter() {
	if s.inFlight.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	time.Sleep(time.Millisecond)
}

func (s *strictStream) exit() { s.inFlight.Add(-1) }

func (s *strictStream) ReadFrame(ctx context.Context) ([]byte, error) {
	s.enter()
	defer s.exit()
	if s.tracks.Load() == 0 {
		return nil, errors.New("stream is stopped")
	}
	return []byte("frame"), nil
}

func (s *strictStream) Stop() error {
	s.enter()
	defer s.exit()
	s.tracks.Store(0)
	return nil
}

func (s *strictStream) LiveTracks() int { return int(s.tracks.Load()) }

type strictDevice struct {
	stream *strictStream
}

func (d *strictDevice) Open(ctx context.Context) (capture.Stream, error) {
	return d.stream, nil
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error
}

func (d *fakeDevice) Open(ctx context.Context) (capture.Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

type fakeDisplay struct {
	cleared atomic.Int32
}

func (d *fakeDisplay) Present(frame []byte) error { return nil }
func (d *fakeDisplay) Clear()                     { d.cleared.Add(1) }

type fakeRuntime struct {
	tracker   *inference.Tracker
	faceCount atomic.Int32
	mu        sync.Mutex
	detectErr error
	panicking bool
	detects   atomic.Int32
}

func newFakeRuntime() *fakeRuntime {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return &fakeRuntime{tracker: inference.NewTracker(1<<20, logger)}
}

func (r *fakeRuntime) setDetectErr(err error) {
	r.mu.Lock()
	r.detectErr = err
	r.mu.Unlock()
}

func (r *fakeRuntime) setPanicking(on bool) {
	r.mu.Lock()
	r.panicking = on
	r.mu.Unlock()
}

func (r *fakeRuntime) Warmup(ctx context.Context) error { return nil }

func (r *fakeRuntime) Detect(ctx context.Context, frame []byte) (*inference.Detection, error) {
	r.detects.Add(1)
	r.mu.Lock()
	err := r.detectErr
	panicking := r.panicking
	r.mu.Unlock()
	if panicking {
		panic("detector exploded")
	}
	if err != nil {
		return nil, err
	}
	return &inference.Detection{FaceCount: int(r.faceCount.Load())}, nil
}

func (r *fakeRuntime) Extract(ctx context.Context, frame []byte) (inference.Embedding, error) {
	return inference.Embedding{0.1, 0.2}, nil
}

func (r *fakeRuntime) Tracker() *inference.Tracker { return r.tracker }
func (r *fakeRuntime) Close() error                { return nil }

func newTestManager(device capture.Device, rt inference.Runtime) *capture.Manager {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return capture.NewManager(device, rt, 2*time.Millisecond, 10*time.Millisecond, logger)
}

func TestManager_AcquireFailsWhileBusy(t *testing.T) {
	rt := newFakeRuntime()
	device := &fakeDevice{stream: newFakeStream()}
	m := newTestManager(device, rt)

	session, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)
	require.NoError(t, err)
	defer m.Release(session)

	_, err = m.Acquire(context.Background(), &fakeDisplay{}, nil)
	assert.ErrorIs(t, err, models.ErrCaptureBusy)
}

func TestManager_AcquireDeviceFailure(t *testing.T) {
	rt := newFakeRuntime()
	device := &fakeDevice{openErr: errors.New("permission denied")}
	m := newTestManager(device, rt)

	_, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)

	assert.True(t, models.IsDeviceError(err))
}

func TestManager_ReleaseIsIdempotent(t *testing.T) {
	rt := newFakeRuntime()
	stream := newFakeStream()
	device := &fakeDevice{stream: stream}
	display := &fakeDisplay{}
	m := newTestManager(device, rt)

	session, err := m.Acquire(context.Background(), display, nil)
	require.NoError(t, err)

	m.Release(session)
	m.Release(session)

	assert.Equal(t, 0, session.LiveTracks())
	assert.Equal(t, int32(1), display.cleared.Load())
	assert.Equal(t, 0, rt.Tracker().LiveCount())
	assert.False(t, session.Live())
}

func TestManager_ReleaseAllowsReacquire(t *testing.T) {
	rt := newFakeRuntime()
	device := &fakeDevice{stream: newFakeStream()}
	m := newTestManager(device, rt)

	session, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)
	require.NoError(t, err)
	m.Release(session)

	device.stream = newFakeStream()
	second, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)
	require.NoError(t, err)
	m.Release(second)
}

func TestManager_DetectionLoopClassifiesFaces(t *testing.T) {
	rt := newFakeRuntime()
	rt.faceCount.Store(1)
	device := &fakeDevice{stream: newFakeStream()}
	m := newTestManager(device, rt)

	var lastState atomic.Int32
	observer := func(st capture.FaceState) { lastState.Store(int32(st)) }

	session, err := m.Acquire(context.Background(), &fakeDisplay{}, observer)
	require.NoError(t, err)
	defer m.Release(session)

	assert.Eventually(t, func() bool {
		return capture.FaceState(lastState.Load()) == capture.FaceOne
	}, time.Second, time.Millisecond)

	rt.faceCount.Store(3)
	assert.Eventually(t, func() bool {
		return capture.FaceState(lastState.Load()) == capture.FaceMultiple
	}, time.Second, time.Millisecond)

	rt.faceCount.Store(0)
	assert.Eventually(t, func() bool {
		return capture.FaceState(lastState.Load()) == capture.FaceNone
	}, time.Second, time.Millisecond)
}

func TestManager_TickErrorRecoversOnce(t *testing.T) {
	rt := newFakeRuntime()
	rt.faceCount.Store(1)
	rt.setDetectErr(errors.New("inference blew up"))
	device := &fakeDevice{stream: newFakeStream()}
	m := newTestManager(device, rt)

	session, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)
	require.NoError(t, err)
	defer m.Release(session)

	// Wait for the first failed tick, then heal the runtime.
	assert.Eventually(t, func() bool { return rt.detects.Load() >= 1 }, time.Second, time.Millisecond)
	rt.setDetectErr(nil)

	assert.Eventually(t, func() bool {
		return session.FaceState() == capture.FaceOne
	}, time.Second, time.Millisecond)
	assert.NoError(t, session.DetectionErr())
}

func TestManager_SecondTickErrorIsPersistent(t *testing.T) {
	rt := newFakeRuntime()
	rt.setDetectErr(errors.New("inference blew up"))
	device := &fakeDevice{stream: newFakeStream()}
	m := newTestManager(device, rt)

	session, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)
	require.NoError(t, err)
	defer m.Release(session)

	assert.Eventually(t, func() bool {
		return session.FaceState() == capture.FaceFailed
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, session.DetectionErr(), models.ErrDetectionFailed)
}

func TestManager_TickPanicRecoversOnce(t *testing.T) {
	rt := newFakeRuntime()
	rt.faceCount.Store(1)
	rt.setPanicking(true)
	device := &fakeDevice{stream: newFakeStream()}
	m := newTestManager(device, rt)

	session, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)
	require.NoError(t, err)
	defer m.Release(session)

	// Wait for the first panicking tick, then heal the runtime; the
	// loop must survive the panic and resume after the cooldown.
	assert.Eventually(t, func() bool { return rt.detects.Load() >= 1 }, time.Second, time.Millisecond)
	rt.setPanicking(false)

	assert.Eventually(t, func() bool {
		return session.FaceState() == capture.FaceOne
	}, time.Second, time.Millisecond)
	assert.NoError(t, session.DetectionErr())
}

func TestManager_RepeatedTickPanicIsPersistent(t *testing.T) {
	rt := newFakeRuntime()
	rt.setPanicking(true)
	device := &fakeDevice{stream: newFakeStream()}
	m := newTestManager(device, rt)

	session, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)
	require.NoError(t, err)
	defer m.Release(session)

	assert.Eventually(t, func() bool {
		return session.FaceState() == capture.FaceFailed
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, session.DetectionErr(), models.ErrDetectionFailed)
}

func TestManager_StreamAccessIsSerialized(t *testing.T) {
	rt := newFakeRuntime()
	rt.faceCount.Store(1)
	stream := newStrictStream()
	m := newTestManager(&strictDevice{stream: stream}, rt)

	session, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)
	require.NoError(t, err)

	// Hammer on-demand captures while the detection loop keeps reading,
	// then release mid-flight so the stop contends for the stream too.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_, _ = m.CaptureFrame(context.Background(), session)
		}
	}()

	time.Sleep(15 * time.Millisecond)
	m.Release(session)
	<-done

	assert.Equal(t, int32(0), stream.overlaps.Load(),
		"stream reads and stop must never overlap")
	assert.Equal(t, 0, session.LiveTracks())
}

func TestManager_CaptureFrameAfterReleaseFails(t *testing.T) {
	rt := newFakeRuntime()
	device := &fakeDevice{stream: newFakeStream()}
	m := newTestManager(device, rt)

	session, err := m.Acquire(context.Background(), &fakeDisplay{}, nil)
	require.NoError(t, err)

	frame, err := m.CaptureFrame(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), frame)

	m.Release(session)

	_, err = m.CaptureFrame(context.Background(), session)
	assert.ErrorIs(t, err, models.ErrCaptureReleased)
}
