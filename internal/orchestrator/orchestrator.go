package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/civichain/votegate/internal/auth"
	"github.com/civichain/votegate/internal/capture"
	"github.com/civichain/votegate/internal/chain"
	"github.com/civichain/votegate/internal/ledger"
	"github.com/civichain/votegate/internal/models"
	"github.com/google/uuid"
)

// CredentialVerifier checks government-ID credentials and issues the
// OTP challenge for the run.
type CredentialVerifier interface {
	Verify(ctx context.Context, identity *models.VoterIdentity) (*models.VerificationResult, *models.OtpChallenge, error)
}

// OTPVerifier confirms the submitted one-time passcode.
type OTPVerifier interface {
	Verify(ctx context.Context, identity *models.VoterIdentity, challenge *models.OtpChallenge, code string) error
}

// FaceVerifier matches a captured frame against the voter's reference
// and returns the embedding digest for the on-chain hash.
type FaceVerifier interface {
	Verify(ctx context.Context, identity *models.VoterIdentity, frame []byte) (*models.VerificationResult, string, error)
}

// Orchestrator drives one verification run through the three factors.
// All session state lives in fields of this instance; a fresh
// orchestrator is constructed per verification attempt.
type Orchestrator struct {
	mu sync.Mutex

	id        string
	state     State
	failure   error
	identity  *models.VoterIdentity
	challenge *models.OtpChallenge
	session   *capture.Session
	token     *models.VerificationSessionToken
	voteHash  string

	attempts    *ledger.AttemptLedger
	credentials CredentialVerifier
	otps        OTPVerifier
	faces       FaceVerifier
	captures    *capture.Manager
	tokens      *auth.SessionTokenManager
	binding     chain.Binding
	logger      *slog.Logger
}

// New creates an orchestrator in the Idle state.
func New(
	attempts *ledger.AttemptLedger,
	credentials CredentialVerifier,
	otps OTPVerifier,
	faces FaceVerifier,
	captures *capture.Manager,
	tokens *auth.SessionTokenManager,
	binding chain.Binding,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		id:          uuid.NewString(),
		state:       StateIdle,
		attempts:    attempts,
		credentials: credentials,
		otps:        otps,
		faces:       faces,
		captures:    captures,
		tokens:      tokens,
		binding:     binding,
		logger:      logger,
	}
}

// ID returns the orchestrator's session identifier.
func (o *Orchestrator) ID() string { return o.id }

// State returns the current pipeline state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status is a snapshot for the UI.
type Status struct {
	ID           string
	State        State
	IdentityKey  string
	FaceState    capture.FaceState
	FailureCount int
	Locked       bool
	Message      string
	Token        string
}

// Status returns a consistent snapshot of the run.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{ID: o.id, State: o.state}
	if o.identity != nil {
		st.IdentityKey = o.identity.Key()
		if rec := o.attempts.Record(o.identity.Key()); rec != nil {
			st.FailureCount = rec.FailureCount
		}
		st.Locked = o.attempts.IsLocked(o.identity.Key())
	}
	if o.session != nil {
		st.FaceState = o.session.FaceState()
	}
	if o.failure != nil {
		st.Message = o.failure.Error()
	}
	if o.token != nil {
		st.Token = o.token.Token
	}
	return st
}

// Token returns the minted session token after authentication.
func (o *Orchestrator) Token() *models.VerificationSessionToken {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.token
}

// SubmitCredentials starts the run: Idle -> CredentialsSubmitted ->
// OtpPending. Validation failures carry no ledger penalty; rejections
// do.
func (o *Orchestrator) SubmitCredentials(ctx context.Context, identity *models.VoterIdentity) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateIdle {
		return fmt.Errorf("%w: cannot submit credentials in state %s", models.ErrInvalidState, o.state)
	}
	if err := validateIdentity(identity); err != nil {
		return err
	}

	key := identity.Key()
	if o.attempts.IsLocked(key) {
		o.state = StateLocked
		return models.ErrLocked
	}

	submitted := *identity
	o.identity = &submitted
	o.state = StateCredentialsSubmitted

	_, challenge, err := o.credentials.Verify(ctx, o.identity)
	if err != nil {
		if models.IsRejection(err) {
			o.attempts.RecordFailure(key)
		}
		if o.attempts.IsLocked(key) {
			o.state = StateLocked
		} else {
			o.state = StateIdle
		}
		return err
	}

	// A fresh credential submission supersedes any prior challenge.
	o.challenge = challenge
	o.state = StateOtpPending
	o.logger.Info("credentials accepted",
		slog.String("session_id", o.id),
		slog.String("identity_key", key))
	return nil
}

// SubmitOTP confirms the passcode: OtpPending -> OtpVerified. The voter
// may resubmit after a rejection until locked out.
func (o *Orchestrator) SubmitOTP(ctx context.Context, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateOtpPending {
		return fmt.Errorf("%w: cannot submit OTP in state %s", models.ErrInvalidState, o.state)
	}

	key := o.identity.Key()
	if o.attempts.IsLocked(key) {
		o.state = StateLocked
		return models.ErrLocked
	}

	if err := o.otps.Verify(ctx, o.identity, o.challenge, code); err != nil {
		if models.IsRejection(err) {
			o.attempts.RecordFailure(key)
			if o.attempts.IsLocked(key) {
				o.state = StateLocked
			}
		}
		return err
	}

	o.state = StateOtpVerified
	return nil
}

// StartCamera acquires the capture device: OtpVerified -> CameraActive.
// Acquisition failure is an infrastructure problem: the run moves to
// Failed with no ledger penalty and may retry from here, keeping the
// credential and OTP factors.
func (o *Orchestrator) StartCamera(ctx context.Context, display capture.DisplaySurface) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateOtpVerified && o.state != StateFailed {
		return fmt.Errorf("%w: cannot start camera in state %s", models.ErrInvalidState, o.state)
	}

	key := o.identity.Key()
	if o.attempts.IsLocked(key) {
		o.state = StateLocked
		return models.ErrLocked
	}

	session, err := o.captures.Acquire(ctx, display, o.observer())
	if err != nil {
		if models.IsDeviceError(err) {
			o.state = StateFailed
			o.failure = err
		}
		return err
	}

	o.session = session
	o.failure = nil
	o.state = StateCameraActive
	return nil
}

// observer routes detection-loop updates into the state machine. Stale
// updates from a released session are discarded.
func (o *Orchestrator) observer() capture.Observer {
	return func(st capture.FaceState) {
		o.mu.Lock()
		defer o.mu.Unlock()

		if o.session == nil || !o.session.Live() {
			return
		}
		switch {
		case st == capture.FaceFailed:
			o.failure = o.session.DetectionErr()
			o.releaseLocked()
			o.state = StateFailed
		case o.state == StateCameraActive:
			o.state = StateFaceDetecting
		}
	}
}

// CaptureAndVerify captures one frame and runs the face factor:
// FaceDetecting -> Capturing -> Verifying -> Authenticated, or back to
// FaceDetecting on a failed match while attempts remain.
func (o *Orchestrator) CaptureAndVerify(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateFaceDetecting {
		return fmt.Errorf("%w: cannot capture in state %s", models.ErrInvalidState, o.state)
	}

	key := o.identity.Key()
	if o.attempts.IsLocked(key) {
		o.releaseLocked()
		o.state = StateLocked
		return models.ErrLocked
	}

	session := o.session
	if session == nil || !session.Live() {
		return models.ErrCaptureReleased
	}
	if fs := session.FaceState(); fs != capture.FaceOne {
		return &models.ValidationError{Field: "face", Reason: fmt.Sprintf("a single face must be visible (currently: %s)", fs)}
	}

	o.state = StateCapturing
	frame, err := o.captures.CaptureFrame(ctx, session)
	if err != nil {
		o.state = StateFaceDetecting
		return err
	}

	o.state = StateVerifying

	// The face call is the long network operation of the run; release
	// the lock so cancel stays responsive, and discard the result if
	// the session went away meanwhile.
	o.mu.Unlock()
	result, digest, verifyErr := o.faces.Verify(ctx, o.identity, frame)
	o.mu.Lock()

	if o.session != session || !session.Live() {
		return models.ErrCaptureReleased
	}

	if verifyErr != nil {
		if models.IsRejection(verifyErr) {
			o.attempts.RecordFailure(key)
			if o.attempts.IsLocked(key) {
				o.releaseLocked()
				o.state = StateLocked
				return verifyErr
			}
		}
		// Resume detection; the loop is still running.
		o.state = StateFaceDetecting
		return verifyErr
	}

	token, err := o.tokens.Mint(o.identity.VoterID)
	if err != nil {
		o.state = StateFaceDetecting
		return fmt.Errorf("failed to mint session token: %w", err)
	}

	o.token = token
	o.voteHash = chain.VerificationHash(o.identity, digest, time.Now())
	o.attempts.RecordSuccess(key)
	o.state = StateAuthenticated
	o.releaseLocked()

	o.logger.Info("voter authenticated",
		slog.String("session_id", o.id),
		slog.String("voter_id", o.identity.VoterID),
		slog.Float64("confidence", result.Confidence),
		slog.Bool("newly_registered", result.NewlyRegistered))

	if err := o.binding.VerifyVoter(ctx, o.identity, o.voteHash); err != nil {
		return fmt.Errorf("on-chain verification submission failed: %w", err)
	}
	return nil
}

// Vote casts the on-chain vote for the authenticated voter. The
// client-side token must still be valid, and the contract re-checks
// everything on its side.
func (o *Orchestrator) Vote(ctx context.Context, candidateIdx int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateAuthenticated {
		return fmt.Errorf("%w: cannot vote in state %s", models.ErrInvalidState, o.state)
	}
	if _, err := o.tokens.Validate(o.token.Token); err != nil {
		return err
	}

	return o.binding.CastVote(ctx, o.identity.WalletAddress, candidateIdx, o.voteHash)
}

// Cancel releases the capture session and returns to Idle without
// penalty. Not allowed from terminal states.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Terminal() {
		return fmt.Errorf("%w: cannot cancel in state %s", models.ErrInvalidState, o.state)
	}

	o.releaseLocked()
	o.identity = nil
	o.challenge = nil
	o.failure = nil
	o.state = StateIdle
	return nil
}

// Teardown releases every resource the run holds, whatever the state.
func (o *Orchestrator) Teardown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseLocked()
}

// releaseLocked converges every exit path on the same capture cleanup.
// Callers hold o.mu.
func (o *Orchestrator) releaseLocked() {
	if o.session != nil {
		o.captures.Release(o.session)
		o.session = nil
	}
}

func validateIdentity(identity *models.VoterIdentity) error {
	switch {
	case identity == nil:
		return &models.ValidationError{Field: "identity", Reason: "is required"}
	case identity.GovernmentID == "":
		return &models.ValidationError{Field: "governmentId", Reason: "is required"}
	case identity.VoterID == "":
		return &models.ValidationError{Field: "voterId", Reason: "is required"}
	case identity.MobileNumber == "":
		return &models.ValidationError{Field: "mobile", Reason: "is required"}
	case identity.WalletAddress == "":
		return &models.ValidationError{Field: "walletAddress", Reason: "is required"}
	}
	return nil
}
