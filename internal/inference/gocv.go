package inference

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"gocv.io/x/gocv"
)

const (
	// embedInputSize is the square input expected by the embedding model.
	embedInputSize = 96
	// embeddingDim is the length of the produced feature vector.
	embeddingDim = 128
)

// matBuffer adapts a gocv.Mat to the Buffer interface so the tracker
// can account for native OpenCV memory.
type matBuffer struct {
	mat  gocv.Mat
	size int
}

func wrapMat(m gocv.Mat) *matBuffer {
	return &matBuffer{mat: m, size: m.Total() * m.ElemSize()}
}

func (b *matBuffer) Close() error { return b.mat.Close() }
func (b *matBuffer) Size() int    { return b.size }

// GoCVRuntime runs Haar-cascade face detection and a DNN embedding
// model through OpenCV. Models are loaded exactly once; every Mat
// created during inference is tracked and disposed before the call
// returns.
type GoCVRuntime struct {
	cascadePath string
	modelPath   string

	warmOnce sync.Once
	warmErr  error
	cascade  gocv.CascadeClassifier
	net      gocv.Net

	tracker *Tracker
	logger  *slog.Logger
}

// NewGoCVRuntime creates a runtime. Models are loaded on Warmup.
func NewGoCVRuntime(cascadePath, modelPath string, tracker *Tracker, logger *slog.Logger) *GoCVRuntime {
	return &GoCVRuntime{
		cascadePath: cascadePath,
		modelPath:   modelPath,
		tracker:     tracker,
		logger:      logger,
	}
}

// Warmup loads the detector cascade and the embedding network. Safe to
// call multiple times; only the first call does work.
func (r *GoCVRuntime) Warmup(ctx context.Context) error {
	r.warmOnce.Do(func() {
		cascade := gocv.NewCascadeClassifier()
		if !cascade.Load(r.cascadePath) {
			_ = cascade.Close()
			r.warmErr = fmt.Errorf("failed to load face cascade from %s", r.cascadePath)
			return
		}
		r.cascade = cascade

		net := gocv.ReadNet(r.modelPath, "")
		if net.Empty() {
			_ = r.cascade.Close()
			r.warmErr = fmt.Errorf("failed to load embedding model from %s", r.modelPath)
			return
		}
		r.net = net

		r.logger.Info("feature extraction models loaded",
			slog.String("cascade", r.cascadePath),
			slog.String("model", r.modelPath))
	})
	return r.warmErr
}

// Detect decodes the frame and counts faces in it. All buffers created
// here are disposed before returning.
func (r *GoCVRuntime) Detect(ctx context.Context, frame []byte) (*Detection, error) {
	if err := r.Warmup(ctx); err != nil {
		return nil, err
	}

	r.tracker.BeginUse()
	defer r.tracker.EndUse()

	rects, cleanup, err := r.detectFaces(frame)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	return &Detection{FaceCount: len(rects)}, nil
}

// Extract runs the full pipeline: detect, crop the largest face, resize
// and normalize to the model input, then embed. Buffers are disposed
// synchronously after the embedding is read out, on every path.
func (r *GoCVRuntime) Extract(ctx context.Context, frame []byte) (Embedding, error) {
	if err := r.Warmup(ctx); err != nil {
		return nil, err
	}

	r.tracker.BeginUse()
	defer r.tracker.EndUse()

	var handles []uint64
	defer func() {
		for _, id := range handles {
			r.tracker.Release(id)
		}
	}()
	track := func(m gocv.Mat) gocv.Mat {
		handles = append(handles, r.tracker.Track(wrapMat(m)))
		return m
	}

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	track(img)
	if img.Empty() {
		return nil, fmt.Errorf("decoded frame is empty")
	}

	gray := track(gocv.NewMat())
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	rects := r.cascade.DetectMultiScaleWithParams(
		gray, 1.3, 5, 0, image.Pt(30, 30), image.Pt(0, 0))
	if len(rects) == 0 {
		return nil, fmt.Errorf("no face detected in frame")
	}

	face := track(img.Region(largestRect(rects)))

	resized := track(gocv.NewMat())
	gocv.Resize(face, &resized, image.Pt(embedInputSize, embedInputSize), 0, 0, gocv.InterpolationLinear)

	// Normalize pixel values to [0,1] as the model expects.
	blob := track(gocv.BlobFromImage(resized, 1.0/255.0,
		image.Pt(embedInputSize, embedInputSize), gocv.NewScalar(0, 0, 0, 0), true, false))

	r.net.SetInput(blob, "")
	out := track(r.net.Forward(""))

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding output: %w", err)
	}
	if len(data) < embeddingDim {
		return nil, fmt.Errorf("embedding output too short: got %d values", len(data))
	}

	// Copy out before the backing Mat is disposed.
	emb := make(Embedding, embeddingDim)
	copy(emb, data[:embeddingDim])
	return emb, nil
}

// detectFaces decodes and detects; the caller must invoke cleanup.
func (r *GoCVRuntime) detectFaces(frame []byte) ([]image.Rectangle, func(), error) {
	var handles []uint64
	cleanup := func() {
		for _, id := range handles {
			r.tracker.Release(id)
		}
	}

	img, err := gocv.IMDecode(frame, gocv.IMReadColor)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to decode frame: %w", err)
	}
	handles = append(handles, r.tracker.Track(wrapMat(img)))
	if img.Empty() {
		return nil, cleanup, fmt.Errorf("decoded frame is empty")
	}

	gray := gocv.NewMat()
	handles = append(handles, r.tracker.Track(wrapMat(gray)))
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)

	rects := r.cascade.DetectMultiScaleWithParams(
		gray, 1.3, 5, 0, image.Pt(30, 30), image.Pt(0, 0))
	return rects, cleanup, nil
}

// Tracker exposes the buffer accounting for this runtime.
func (r *GoCVRuntime) Tracker() *Tracker { return r.tracker }

// Close releases the loaded models.
func (r *GoCVRuntime) Close() error {
	r.tracker.Sweep()
	if r.warmErr != nil {
		return nil
	}
	if err := r.cascade.Close(); err != nil {
		return err
	}
	return r.net.Close()
}

func largestRect(rects []image.Rectangle) image.Rectangle {
	best := rects[0]
	bestArea := best.Dx() * best.Dy()
	for _, rc := range rects[1:] {
		if area := rc.Dx() * rc.Dy(); area > bestArea {
			best, bestArea = rc, area
		}
	}
	return best
}
