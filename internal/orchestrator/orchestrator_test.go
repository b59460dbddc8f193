package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civichain/votegate/internal/auth"
	"github.com/civichain/votegate/internal/capture"
	"github.com/civichain/votegate/internal/chain"
	"github.com/civichain/votegate/internal/inference"
	"github.com/civichain/votegate/internal/ledger"
	"github.com/civichain/votegate/internal/models"
	"github.com/civichain/votegate/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIdentity() *models.VoterIdentity {
	return &models.VoterIdentity{
		GovernmentID:  "123412341234",
		VoterID:       "ABC1234567",
		MobileNumber:  "9876543210",
		WalletAddress: "0x71C7656EC7ab88b098defB751B7401B5f6d8976F",
	}
}

type fakeCredentials struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCredentials) Verify(ctx context.Context, identity *models.VoterIdentity) (*models.VerificationResult, *models.OtpChallenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	challenge := &models.OtpChallenge{
		IdentityKey: identity.Key(),
		Code:        "123456",
		IssuedAt:    time.Now(),
		TTL:         10 * time.Minute,
	}
	return &models.VerificationResult{Verified: true}, challenge, nil
}

type fakeOTP struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeOTP) Verify(ctx context.Context, identity *models.VoterIdentity, challenge *models.OtpChallenge, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if challenge == nil {
		return models.ErrNoChallenge
	}
	if code != challenge.Code {
		return &models.RejectionError{Factor: "otp", Message: "incorrect OTP"}
	}
	return nil
}

type fakeFace struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFace) Verify(ctx context.Context, identity *models.VoterIdentity, frame []byte) (*models.VerificationResult, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return &models.VerificationResult{Verified: true, Confidence: 0.93}, "digest", nil
}

func (f *fakeFace) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBinding struct {
	mu          sync.Mutex
	verifyCalls int
	voteCalls   int
}

func (f *fakeBinding) VerifyVoter(ctx context.Context, identity *models.VoterIdentity, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return nil
}

func (f *fakeBinding) CastVote(ctx context.Context, wallet string, candidateIdx int, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voteCalls++
	return nil
}

func (f *fakeBinding) VoterVerification(ctx context.Context, wallet string) (*models.OnChainVoterVerification, error) {
	return &models.OnChainVoterVerification{}, nil
}

type fakeStream struct {
	tracks atomic.Int32
}

func (s *fakeStream) ReadFrame(ctx context.Context) ([]byte, error) {
	return []byte{0xff, 0xd8, 0xff}, nil
}

func (s *fakeStream) Stop() error {
	s.tracks.Store(0)
	return nil
}

func (s *fakeStream) LiveTracks() int { return int(s.tracks.Load()) }

type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	stream  *fakeStream
}

func (d *fakeDevice) Open(ctx context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.stream = &fakeStream{}
	d.stream.tracks.Store(1)
	return d.stream, nil
}

func (d *fakeDevice) setOpenErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

func (d *fakeDevice) liveTracks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return 0
	}
	return d.stream.LiveTracks()
}

type fakeDisplay struct{}

func (fakeDisplay) Present([]byte) error { return nil }
func (fakeDisplay) Clear()               {}

type fakeRuntime struct {
	tracker   *inference.Tracker
	faceCount atomic.Int32
}

func newFakeRuntime() *fakeRuntime {
	rt := &fakeRuntime{tracker: inference.NewTracker(0, testLogger())}
	rt.faceCount.Store(1)
	return rt
}

func (r *fakeRuntime) Warmup(ctx context.Context) error { return nil }

func (r *fakeRuntime) Detect(ctx context.Context, frame []byte) (*inference.Detection, error) {
	return &inference.Detection{FaceCount: int(r.faceCount.Load())}, nil
}

func (r *fakeRuntime) Extract(ctx context.Context, frame []byte) (inference.Embedding, error) {
	return inference.Embedding{0.1, 0.2}, nil
}

func (r *fakeRuntime) Tracker() *inference.Tracker { return r.tracker }
func (r *fakeRuntime) Close() error                { return nil }

type pipeline struct {
	orch        *orchestrator.Orchestrator
	credentials *fakeCredentials
	otps        *fakeOTP
	faces       *fakeFace
	binding     *fakeBinding
	device      *fakeDevice
	runtime     *fakeRuntime
	attempts    *ledger.AttemptLedger
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := testLogger()

	p := &pipeline{
		credentials: &fakeCredentials{},
		otps:        &fakeOTP{},
		faces:       &fakeFace{},
		binding:     &fakeBinding{},
		device:      &fakeDevice{},
		runtime:     newFakeRuntime(),
		attempts:    ledger.NewAttemptLedger(3, logger),
	}

	captures := capture.NewManager(p.device, p.runtime, 5*time.Millisecond, 20*time.Millisecond, logger)
	tokens := auth.NewSessionTokenManager("test-secret", time.Hour)
	p.orch = orchestrator.New(p.attempts, p.credentials, p.otps, p.faces, captures, tokens, p.binding, logger)
	t.Cleanup(p.orch.Teardown)
	return p
}

// advanceToDetecting walks the pipeline through credentials, OTP and
// camera start, then waits for the detection loop to see a face.
func advanceToDetecting(t *testing.T, p *pipeline) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, p.orch.SubmitCredentials(ctx, testIdentity()))
	require.NoError(t, p.orch.SubmitOTP(ctx, "123456"))
	require.NoError(t, p.orch.StartCamera(ctx, fakeDisplay{}))

	assert.Eventually(t, func() bool {
		st := p.orch.Status()
		return st.State == orchestrator.StateFaceDetecting && st.FaceState == capture.FaceOne
	}, time.Second, 2*time.Millisecond)
}

func TestOrchestrator_HappyPath(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	advanceToDetecting(t, p)
	require.NoError(t, p.orch.CaptureAndVerify(ctx))

	assert.Equal(t, orchestrator.StateAuthenticated, p.orch.State())
	assert.NotNil(t, p.orch.Token())
	assert.NotEmpty(t, p.orch.Token().Token)
	assert.Equal(t, 1, p.binding.verifyCalls)

	// A successful run resets the attempt ledger.
	assert.Nil(t, p.attempts.Record(testIdentity().Key()))

	// Every capture resource is torn down on authentication.
	assert.Equal(t, 0, p.device.liveTracks())
	assert.Equal(t, 0, p.runtime.tracker.LiveCount())
}

func TestOrchestrator_VoteAfterAuthentication(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	advanceToDetecting(t, p)
	require.NoError(t, p.orch.CaptureAndVerify(ctx))
	require.NoError(t, p.orch.Vote(ctx, 1))

	assert.Equal(t, 1, p.binding.voteCalls)
}

func TestOrchestrator_VoteRequiresAuthentication(t *testing.T) {
	p := newPipeline(t)

	err := p.orch.Vote(context.Background(), 0)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestOrchestrator_ThreeWrongOTPsLockOut(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.orch.SubmitCredentials(ctx, testIdentity()))

	for i := 0; i < 3; i++ {
		err := p.orch.SubmitOTP(ctx, "000000")
		require.Error(t, err)
		assert.True(t, models.IsRejection(err), "attempt %d", i+1)
	}

	assert.Equal(t, orchestrator.StateLocked, p.orch.State())

	// Locked identities fail fast; no further verifier calls.
	before := p.otps.calls
	assert.ErrorIs(t, p.orch.SubmitOTP(ctx, "123456"), models.ErrInvalidState)
	assert.Equal(t, before, p.otps.calls)

	// The face factor was never reached.
	assert.Equal(t, 0, p.faces.callCount())
}

func TestOrchestrator_LockedIdentityRejectedAtCredentials(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	key := testIdentity().Key()

	for i := 0; i < 3; i++ {
		p.attempts.RecordFailure(key)
	}

	before := p.credentials.calls
	err := p.orch.SubmitCredentials(ctx, testIdentity())
	assert.ErrorIs(t, err, models.ErrLocked)
	assert.Equal(t, orchestrator.StateLocked, p.orch.State())
	assert.Equal(t, before, p.credentials.calls)
}

func TestOrchestrator_MixedFactorFailuresShareTheLedger(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// One credential rejection.
	p.credentials.err = &models.RejectionError{Factor: "credential", Message: "no match"}
	require.Error(t, p.orch.SubmitCredentials(ctx, testIdentity()))
	assert.Equal(t, orchestrator.StateIdle, p.orch.State())

	// Then two OTP rejections exhaust the shared counter.
	p.credentials.err = nil
	require.NoError(t, p.orch.SubmitCredentials(ctx, testIdentity()))
	require.Error(t, p.orch.SubmitOTP(ctx, "000000"))
	require.Error(t, p.orch.SubmitOTP(ctx, "000000"))

	assert.Equal(t, orchestrator.StateLocked, p.orch.State())
}

func TestOrchestrator_ValidationFailureCarriesNoPenalty(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	identity := testIdentity()
	identity.VoterID = ""
	err := p.orch.SubmitCredentials(ctx, identity)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "voterId", verr.Field)
	assert.Nil(t, p.attempts.Record(testIdentity().Key()))
	assert.Equal(t, orchestrator.StateIdle, p.orch.State())
}

func TestOrchestrator_NetworkFailureCarriesNoPenalty(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	p.credentials.err = &models.NetworkError{Endpoint: "/verify-credentials", Attempts: 3, Last: errors.New("timeout")}
	require.Error(t, p.orch.SubmitCredentials(ctx, testIdentity()))

	assert.Nil(t, p.attempts.Record(testIdentity().Key()))
	assert.Equal(t, orchestrator.StateIdle, p.orch.State())

	// The voter can retry immediately.
	p.credentials.err = nil
	assert.NoError(t, p.orch.SubmitCredentials(ctx, testIdentity()))
}

func TestOrchestrator_CameraDenialIsRecoverable(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.orch.SubmitCredentials(ctx, testIdentity()))
	require.NoError(t, p.orch.SubmitOTP(ctx, "123456"))

	p.device.setOpenErr(errors.New("permission denied"))
	err := p.orch.StartCamera(ctx, fakeDisplay{})
	require.Error(t, err)
	assert.True(t, models.IsDeviceError(err))
	assert.Equal(t, orchestrator.StateFailed, p.orch.State())

	// No ledger penalty for infrastructure failure.
	assert.Nil(t, p.attempts.Record(testIdentity().Key()))

	// Retry succeeds without redoing credentials or OTP.
	p.device.setOpenErr(nil)
	require.NoError(t, p.orch.StartCamera(ctx, fakeDisplay{}))
	assert.Eventually(t, func() bool {
		return p.orch.State() == orchestrator.StateFaceDetecting
	}, time.Second, 2*time.Millisecond)
}

func TestOrchestrator_FaceRejectionResumesDetection(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	advanceToDetecting(t, p)

	p.faces.mu.Lock()
	p.faces.err = &models.RejectionError{Factor: "face", Message: "below threshold"}
	p.faces.mu.Unlock()

	err := p.orch.CaptureAndVerify(ctx)
	require.Error(t, err)
	assert.True(t, models.IsRejection(err))
	assert.Equal(t, orchestrator.StateFaceDetecting, p.orch.State())

	rec := p.attempts.Record(testIdentity().Key())
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.FailureCount)

	// A second attempt from the same session can still succeed.
	p.faces.mu.Lock()
	p.faces.err = nil
	p.faces.mu.Unlock()

	assert.Eventually(t, func() bool {
		return p.orch.Status().FaceState == capture.FaceOne
	}, time.Second, 2*time.Millisecond)
	require.NoError(t, p.orch.CaptureAndVerify(ctx))
	assert.Equal(t, orchestrator.StateAuthenticated, p.orch.State())
}

func TestOrchestrator_FaceLockoutReleasesCapture(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	advanceToDetecting(t, p)

	p.faces.mu.Lock()
	p.faces.err = &models.RejectionError{Factor: "face", Message: "below threshold"}
	p.faces.mu.Unlock()

	for i := 0; i < 3; i++ {
		if p.orch.State() == orchestrator.StateLocked {
			break
		}
		assert.Eventually(t, func() bool {
			return p.orch.Status().FaceState == capture.FaceOne
		}, time.Second, 2*time.Millisecond)
		require.Error(t, p.orch.CaptureAndVerify(ctx))
	}

	assert.Equal(t, orchestrator.StateLocked, p.orch.State())
	assert.Equal(t, 0, p.device.liveTracks())
	assert.Equal(t, 0, p.runtime.tracker.LiveCount())
}

func TestOrchestrator_CaptureRequiresSingleFace(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.orch.SubmitCredentials(ctx, testIdentity()))
	require.NoError(t, p.orch.SubmitOTP(ctx, "123456"))

	p.runtime.faceCount.Store(2)
	require.NoError(t, p.orch.StartCamera(ctx, fakeDisplay{}))

	assert.Eventually(t, func() bool {
		st := p.orch.Status()
		return st.State == orchestrator.StateFaceDetecting && st.FaceState == capture.FaceMultiple
	}, time.Second, 2*time.Millisecond)

	err := p.orch.CaptureAndVerify(ctx)
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, p.faces.callCount())
}

func TestOrchestrator_CancelReleasesEverything(t *testing.T) {
	p := newPipeline(t)

	advanceToDetecting(t, p)
	require.NoError(t, p.orch.Cancel())

	assert.Equal(t, orchestrator.StateIdle, p.orch.State())
	assert.Equal(t, 0, p.device.liveTracks())
	assert.Equal(t, 0, p.runtime.tracker.LiveCount())

	// A cancelled run starts over from credentials.
	assert.NoError(t, p.orch.SubmitCredentials(context.Background(), testIdentity()))
}

func TestOrchestrator_CancelNotAllowedFromTerminalState(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	advanceToDetecting(t, p)
	require.NoError(t, p.orch.CaptureAndVerify(ctx))

	assert.ErrorIs(t, p.orch.Cancel(), models.ErrInvalidState)
}

func TestOrchestrator_OutOfOrderOperationsRejected(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	assert.ErrorIs(t, p.orch.SubmitOTP(ctx, "123456"), models.ErrInvalidState)
	assert.ErrorIs(t, p.orch.StartCamera(ctx, fakeDisplay{}), models.ErrInvalidState)
	assert.ErrorIs(t, p.orch.CaptureAndVerify(ctx), models.ErrInvalidState)
}

func TestOrchestrator_StatusSnapshot(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	st := p.orch.Status()
	assert.Equal(t, orchestrator.StateIdle, st.State)
	assert.NotEmpty(t, st.ID)

	require.NoError(t, p.orch.SubmitCredentials(ctx, testIdentity()))
	require.Error(t, p.orch.SubmitOTP(ctx, "000000"))

	st = p.orch.Status()
	assert.Equal(t, orchestrator.StateOtpPending, st.State)
	assert.Equal(t, 1, st.FailureCount)
	assert.False(t, st.Locked)
}

func TestOrchestrator_HashBindsRunToChain(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	advanceToDetecting(t, p)
	require.NoError(t, p.orch.CaptureAndVerify(ctx))

	// The fake binding saw exactly one verification submission; a real
	// deployment would submit the same hash the memory election checks.
	e := chain.NewMemoryElection([]string{"Alice"}, time.Hour)
	hash := chain.VerificationHash(testIdentity(), "digest", time.Now())
	require.NoError(t, e.VerifyVoter(ctx, testIdentity(), hash))
	require.NoError(t, e.CastVote(ctx, testIdentity().WalletAddress, 0, hash))
}
