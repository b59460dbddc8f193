package verifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/civichain/votegate/internal/inference"
	"github.com/civichain/votegate/internal/models"
)

// DeployMode selects what the face verifier transmits to the backend.
type DeployMode string

const (
	// DeployModeEmbedding sends the locally extracted feature vector.
	DeployModeEmbedding DeployMode = "embedding"
	// DeployModeImage sends the compressed captured frame.
	DeployModeImage DeployMode = "image"
)

// FaceVerifier runs local feature extraction over the captured frame
// and submits the result for matching.
type FaceVerifier struct {
	client    *Client
	runtime   inference.Runtime
	mode      DeployMode
	threshold float64
	logger    *slog.Logger
}

// NewFaceVerifier creates a face verifier. threshold is the minimum
// accepted match similarity.
func NewFaceVerifier(client *Client, runtime inference.Runtime, mode DeployMode, threshold float64, logger *slog.Logger) *FaceVerifier {
	return &FaceVerifier{
		client:    client,
		runtime:   runtime,
		mode:      mode,
		threshold: threshold,
		logger:    logger,
	}
}

type faceRequest struct {
	GovernmentID string `json:"governmentId"`
	VoterID      string `json:"voterId"`
	ImageData    string `json:"imageData"`
	Timestamp    string `json:"timestamp"`
}

type faceResponse struct {
	Verified bool `json:"verified"`
	Details  struct {
		Match           bool    `json:"match"`
		Similarity      float64 `json:"similarity"`
		NewlyRegistered bool    `json:"newly_registered"`
	} `json:"details"`
	Message string `json:"message"`
}

// Verify extracts features from the frame and submits them. Extraction
// buffers are disposed synchronously inside the runtime on every path.
// Returns the match result and the embedding digest used by the
// on-chain verification hash.
func (v *FaceVerifier) Verify(ctx context.Context, identity *models.VoterIdentity, frame []byte) (*models.VerificationResult, string, error) {
	embedding, err := v.runtime.Extract(ctx, frame)
	if err != nil {
		// A frame the extractor cannot find a face in is a rejected
		// capture, not an infrastructure failure.
		return nil, "", &models.RejectionError{Factor: "face", Message: err.Error()}
	}
	digest := embedding.Digest()

	imageData, err := v.encodePayload(embedding, frame)
	if err != nil {
		return nil, "", err
	}

	req := faceRequest{
		GovernmentID: identity.GovernmentID,
		VoterID:      identity.VoterID,
		ImageData:    imageData,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}

	var resp faceResponse
	if err := v.client.PostJSON(ctx, "face", "verify-voter", req, &resp); err != nil {
		return nil, "", err
	}

	if !resp.Verified || resp.Details.Similarity < v.threshold {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("face match below threshold (similarity %.4f)", resp.Details.Similarity)
		}
		return nil, "", &models.RejectionError{Factor: "face", Message: msg}
	}

	v.logger.Info("face verified",
		slog.String("identity_key", identity.Key()),
		slog.Float64("similarity", resp.Details.Similarity),
		slog.Bool("newly_registered", resp.Details.NewlyRegistered))

	return &models.VerificationResult{
		Verified:        true,
		Confidence:      resp.Details.Similarity,
		NewlyRegistered: resp.Details.NewlyRegistered,
	}, digest, nil
}

func (v *FaceVerifier) encodePayload(embedding inference.Embedding, frame []byte) (string, error) {
	switch v.mode {
	case DeployModeEmbedding:
		raw, err := json.Marshal(embedding)
		if err != nil {
			return "", fmt.Errorf("encode embedding: %w", err)
		}
		return base64.StdEncoding.EncodeToString(raw), nil
	default:
		return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame), nil
	}
}
