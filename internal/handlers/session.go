package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/civichain/votegate/internal/capture"
	"github.com/civichain/votegate/internal/models"
	"github.com/civichain/votegate/internal/orchestrator"
	pkghttp "github.com/civichain/votegate/pkg/http"
	pkglogger "github.com/civichain/votegate/pkg/logger"
)

// Pipeline is the verification pipeline surface the session handler
// drives.
type Pipeline interface {
	SubmitCredentials(ctx context.Context, identity *models.VoterIdentity) error
	SubmitOTP(ctx context.Context, code string) error
	StartCamera(ctx context.Context, display capture.DisplaySurface) error
	CaptureAndVerify(ctx context.Context) error
	Cancel() error
	Vote(ctx context.Context, candidateIdx int) error
	Status() orchestrator.Status
}

// IdentitySource supplies demo identities for kiosk walkthroughs. The
// live strategy always refuses.
type IdentitySource interface {
	RandomIdentity(ctx context.Context) (*models.VoterIdentity, error)
}

// SessionHandler exposes the verification pipeline over HTTP for the
// voting station UI.
type SessionHandler struct {
	pipeline   Pipeline
	display    capture.DisplaySurface
	audit      *pkglogger.AuditLogger
	ipConfig   *pkghttp.IPConfig
	identities IdentitySource
}

// NewSessionHandler creates a new SessionHandler. display is the
// preview surface bound on camera start; headless stations pass
// capture.NullDisplay.
func NewSessionHandler(pipeline Pipeline, display capture.DisplaySurface, audit *pkglogger.AuditLogger, ipConfig *pkghttp.IPConfig, identities IdentitySource) *SessionHandler {
	return &SessionHandler{
		pipeline:   pipeline,
		display:    display,
		audit:      audit,
		ipConfig:   ipConfig,
		identities: identities,
	}
}

// Request DTOs

// CredentialsRequest represents the request body for credential submission
type CredentialsRequest struct {
	GovernmentID  string `json:"government_id" validate:"required,len=12,numeric"`
	VoterID       string `json:"voter_id" validate:"required,len=10"`
	Mobile        string `json:"mobile" validate:"required,len=10,numeric"`
	WalletAddress string `json:"wallet_address" validate:"required,eth_addr"`
}

// OTPRequest represents the request body for OTP submission
type OTPRequest struct {
	OTP string `json:"otp" validate:"required,len=6,numeric"`
}

// VoteRequest represents the request body for casting a vote
type VoteRequest struct {
	CandidateIndex int `json:"candidate_index" validate:"gte=0"`
}

// StatusResponse represents the pipeline status snapshot
type StatusResponse struct {
	SessionID    string `json:"session_id"`
	State        string `json:"state"`
	FaceState    string `json:"face_state,omitempty"`
	FailureCount int    `json:"failure_count"`
	Locked       bool   `json:"locked"`
	Message      string `json:"message,omitempty"`
	Token        string `json:"token,omitempty"`
}

// Credentials handles credential submission, the first factor.
func (h *SessionHandler) Credentials(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	identity := &models.VoterIdentity{
		GovernmentID:  strings.TrimSpace(req.GovernmentID),
		VoterID:       strings.ToUpper(strings.TrimSpace(req.VoterID)),
		MobileNumber:  strings.TrimSpace(req.Mobile),
		WalletAddress: strings.TrimSpace(req.WalletAddress),
	}

	err := h.pipeline.SubmitCredentials(r.Context(), identity)
	h.auditFactor("credential", identity.Key(), r, err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeStatus(w, http.StatusOK)
}

// OTP handles one-time passcode submission, the second factor.
func (h *SessionHandler) OTP(w http.ResponseWriter, r *http.Request) {
	var req OTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.pipeline.SubmitOTP(r.Context(), req.OTP)
	h.auditFactor("otp", h.pipeline.Status().IdentityKey, r, err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeStatus(w, http.StatusOK)
}

// StartCamera acquires the capture device for the facial factor.
func (h *SessionHandler) StartCamera(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.StartCamera(r.Context(), h.display); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeStatus(w, http.StatusOK)
}

// Capture captures one frame and runs the facial factor.
func (h *SessionHandler) Capture(w http.ResponseWriter, r *http.Request) {
	err := h.pipeline.CaptureAndVerify(r.Context())
	h.auditFactor("face", h.pipeline.Status().IdentityKey, r, err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeStatus(w, http.StatusOK)
}

// Cancel abandons the current run and releases the capture session.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Cancel(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeStatus(w, http.StatusOK)
}

// Vote casts the on-chain vote for the authenticated voter.
func (h *SessionHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.pipeline.Vote(r.Context(), req.CandidateIndex)
	if h.audit != nil {
		ip := pkghttp.ExtractClientIP(r, h.ipConfig)
		reason := ""
		if err != nil {
			reason = err.Error()
		}
		h.audit.LogVoteCast(h.pipeline.Status().IdentityKey, ip, err == nil, reason)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeStatus(w, http.StatusOK)
}

// Status returns the current pipeline snapshot.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeStatus(w, http.StatusOK)
}

// DemoIdentity returns a random voter identity for kiosk walkthroughs.
// Unavailable when the live identity strategy is configured.
func (h *SessionHandler) DemoIdentity(w http.ResponseWriter, r *http.Request) {
	if h.identities == nil {
		pkghttp.WriteError(w, http.StatusNotFound, "not_found", "Demo identities are not available")
		return
	}

	identity, err := h.identities.RandomIdentity(r.Context())
	if err != nil {
		var nerr *models.NetworkError
		if errors.As(err, &nerr) {
			pkghttp.WriteBadGateway(w, "Verification backend unreachable")
			return
		}
		pkghttp.WriteError(w, http.StatusNotFound, "not_found", "Demo identities are not available")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, CredentialsRequest{
		GovernmentID:  identity.GovernmentID,
		VoterID:       identity.VoterID,
		Mobile:        identity.MobileNumber,
		WalletAddress: identity.WalletAddress,
	})
}

func (h *SessionHandler) writeStatus(w http.ResponseWriter, code int) {
	st := h.pipeline.Status()
	resp := StatusResponse{
		SessionID:    st.ID,
		State:        st.State.String(),
		FailureCount: st.FailureCount,
		Locked:       st.Locked,
		Message:      st.Message,
		Token:        st.Token,
	}
	if st.FaceState != capture.FaceUnknown {
		resp.FaceState = st.FaceState.String()
	}
	pkghttp.WriteJSON(w, code, resp)
}

func (h *SessionHandler) auditFactor(factor, identityKey string, r *http.Request, err error) {
	if h.audit == nil {
		return
	}
	// Only decisions reach the audit trail; infrastructure noise does not.
	if err != nil && !models.IsRejection(err) && !errorsIsLocked(err) {
		return
	}

	ip := pkghttp.ExtractClientIP(r, h.ipConfig)
	if errorsIsLocked(err) {
		h.audit.LogLockout(identityKey, ip)
		return
	}

	event := pkglogger.AuditEvent{
		EventType:   "factor_attempt",
		Factor:      factor,
		IdentityKey: identityKey,
		IPAddress:   ip,
		Success:     err == nil,
	}
	if err != nil {
		event.FailureReason = err.Error()
	}
	h.audit.LogFactorAttempt(event)
}
