package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrLocked           = errors.New("identity is locked out")
	ErrCaptureBusy      = errors.New("a capture session is already active")
	ErrCaptureReleased  = errors.New("capture session has been released")
	ErrNoChallenge      = errors.New("no live OTP challenge for this identity")
	ErrChallengeExpired = errors.New("OTP challenge has expired")
	ErrSessionExpired   = errors.New("verification session token has expired")
	ErrDetectionFailed  = errors.New("face detection is persistently failing")
	ErrInvalidState     = errors.New("operation not allowed in current state")

	// Contract-side errors
	ErrAlreadyVoted        = errors.New("wallet has already voted")
	ErrNotVerified         = errors.New("wallet is not verified on-chain")
	ErrVerificationExpired = errors.New("on-chain verification is outside the validity window")
	ErrInvalidCandidate    = errors.New("candidate is not active")
	ErrHashMismatch        = errors.New("verification hash does not match on-chain record")
)

// ValidationError indicates malformed input. Never retried and never
// counted against the attempt ledger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DeviceError indicates the capture device is unavailable or access was
// denied. Infrastructure failure, no lockout penalty.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device %s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// NetworkError is surfaced after retries are exhausted, preserving the
// last underlying failure.
type NetworkError struct {
	Endpoint string
	Attempts int
	Last     error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s unreachable after %d attempts: %v", e.Endpoint, e.Attempts, e.Last)
}

func (e *NetworkError) Unwrap() error { return e.Last }

// RejectionError means the verification service explicitly rejected a
// factor. Counted against the attempt ledger, never retried.
type RejectionError struct {
	Factor  string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s verification rejected: %s", e.Factor, e.Message)
}

// IsRejection reports whether err counts against the attempt ledger.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsDeviceError reports whether err is an infrastructure capture failure.
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}

// IsValidation reports whether err is a malformed-input failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
