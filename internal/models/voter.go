package models

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// VoterIdentity holds the credentials a voter submits at the start of a
// verification run. Immutable once submitted for a session.
type VoterIdentity struct {
	GovernmentID  string `json:"governmentId" validate:"required,min=4"`
	VoterID       string `json:"voterId" validate:"required,min=4"`
	MobileNumber  string `json:"mobile" validate:"required,min=10,max=15"`
	WalletAddress string `json:"walletAddress" validate:"required,hexadecimal|eth_addr"`
}

// Key derives the attempt-ledger key for this identity. Keyed by the
// government ID so a voter cannot reset their counter by varying the
// other fields.
func (v *VoterIdentity) Key() string {
	sum := sha256.Sum256([]byte(v.GovernmentID))
	return fmt.Sprintf("%x", sum)[:32]
}

// AttemptRecord tracks consecutive verification failures for one identity.
type AttemptRecord struct {
	IdentityKey  string
	FailureCount int
	LockedUntil  *time.Time
}

// VerificationResult is the transient outcome of a single factor call.
type VerificationResult struct {
	Verified        bool
	Confidence      float64
	NewlyRegistered bool
}

// OnChainVoterVerification mirrors the contract-side verification record.
// The contract is the durable source of truth; the client-side session
// token must agree with it at vote time.
type OnChainVoterVerification struct {
	GovernmentID         string
	VoterID              string
	MobileNumber         string
	IsVerified           bool
	LastVerificationTime time.Time
	VerificationHash     string
}
