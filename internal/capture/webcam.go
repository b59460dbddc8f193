package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// Webcam opens a local video capture device through OpenCV.
type Webcam struct {
	deviceID int
}

// NewWebcam creates a device for the given OpenCV capture index.
func NewWebcam(deviceID int) *Webcam {
	return &Webcam{deviceID: deviceID}
}

// Open acquires the camera. Fails when the device is missing or access
// is denied.
func (w *Webcam) Open(ctx context.Context) (Stream, error) {
	vc, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", w.deviceID, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, fmt.Errorf("device %d did not open", w.deviceID)
	}

	s := &webcamStream{vc: vc}
	s.tracks.Store(1)
	return s, nil
}

type webcamStream struct {
	// mu serializes access to the capture handle. OpenCV's VideoCapture
	// is not safe for concurrent Read or Close.
	mu     sync.Mutex
	vc     *gocv.VideoCapture
	tracks atomic.Int32
}

// ReadFrame grabs one frame and returns it JPEG-encoded. The grab Mat
// is closed before returning.
func (s *webcamStream) ReadFrame(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracks.Load() == 0 {
		return nil, fmt.Errorf("stream is stopped")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat := gocv.NewMat()
	defer mat.Close()

	if ok := s.vc.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("failed to read frame from device")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}

func (s *webcamStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tracks.CompareAndSwap(1, 0) {
		return nil
	}
	return s.vc.Close()
}

func (s *webcamStream) LiveTracks() int {
	return int(s.tracks.Load())
}
