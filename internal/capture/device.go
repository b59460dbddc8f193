package capture

import "context"

// FaceState is the continuously-updated detection sub-state shown to
// the voter while the camera is live.
type FaceState int

const (
	FaceUnknown FaceState = iota
	FaceNone
	FaceOne
	FaceMultiple
	FaceFailed
)

func (s FaceState) String() string {
	switch s {
	case FaceNone:
		return "no_face"
	case FaceOne:
		return "one_face"
	case FaceMultiple:
		return "multiple_faces"
	case FaceFailed:
		return "detection_error"
	default:
		return "unknown"
	}
}

// Observer receives face-state updates from the detection loop.
type Observer func(FaceState)

// Device is a video capture device that can be opened into a stream.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is a live media stream. Stop must stop every track; LiveTracks
// reports how many remain.
type Stream interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	Stop() error
	LiveTracks() int
}

// DisplaySurface is the preview surface bound to a capture session.
type DisplaySurface interface {
	Present(frame []byte) error
	Clear()
}

// NullDisplay is a no-op display for headless deployments.
type NullDisplay struct{}

func (NullDisplay) Present([]byte) error { return nil }
func (NullDisplay) Clear()               {}
