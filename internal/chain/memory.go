package chain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/civichain/votegate/internal/models"
)

// Candidate is one ballot entry in the in-memory election.
type Candidate struct {
	Name   string
	Active bool
	Votes  uint64
}

// MemoryElection is an in-process implementation of the election
// contract, used for local deployments and tests. It enforces the same
// rules the contract does: verified-within-window, active candidate,
// matching verification hash, one vote per wallet.
type MemoryElection struct {
	// Now is the clock; overridable in tests.
	Now func() time.Time

	mu            sync.Mutex
	candidates    []Candidate
	verifications map[string]*models.OnChainVoterVerification
	voted         map[string]bool
	validity      time.Duration
}

// NewMemoryElection creates an election with the given candidate names,
// all active, and the given verification validity period.
func NewMemoryElection(candidateNames []string, validity time.Duration) *MemoryElection {
	candidates := make([]Candidate, len(candidateNames))
	for i, name := range candidateNames {
		candidates[i] = Candidate{Name: name, Active: true}
	}
	return &MemoryElection{
		Now:           time.Now,
		candidates:    candidates,
		verifications: make(map[string]*models.OnChainVoterVerification),
		voted:         make(map[string]bool),
		validity:      validity,
	}
}

// SetVerificationValidityPeriod updates the validity window.
func (e *MemoryElection) SetVerificationValidityPeriod(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validity = d
}

// DeactivateCandidate removes a candidate from the active ballot.
func (e *MemoryElection) DeactivateCandidate(idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if idx >= 0 && idx < len(e.candidates) {
		e.candidates[idx].Active = false
	}
}

// VerifyVoter stores the verification record for the identity's wallet.
func (e *MemoryElection) VerifyVoter(ctx context.Context, identity *models.VoterIdentity, verificationHash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.verifications[walletKey(identity.WalletAddress)] = &models.OnChainVoterVerification{
		GovernmentID:         identity.GovernmentID,
		VoterID:              identity.VoterID,
		MobileNumber:         identity.MobileNumber,
		IsVerified:           true,
		LastVerificationTime: e.Now(),
		VerificationHash:     verificationHash,
	}
	return nil
}

// CastVote enforces the contract rules and records the vote.
func (e *MemoryElection) CastVote(ctx context.Context, wallet string, candidateIdx int, verificationHash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := walletKey(wallet)
	if e.voted[key] {
		return models.ErrAlreadyVoted
	}

	rec, ok := e.verifications[key]
	if !ok || !rec.IsVerified {
		return models.ErrNotVerified
	}
	if e.Now().After(rec.LastVerificationTime.Add(e.validity)) {
		return models.ErrVerificationExpired
	}
	if rec.VerificationHash != verificationHash {
		return models.ErrHashMismatch
	}
	if candidateIdx < 0 || candidateIdx >= len(e.candidates) || !e.candidates[candidateIdx].Active {
		return models.ErrInvalidCandidate
	}

	e.candidates[candidateIdx].Votes++
	e.voted[key] = true
	return nil
}

// VoterVerification returns the stored record for a wallet.
func (e *MemoryElection) VoterVerification(ctx context.Context, wallet string) (*models.OnChainVoterVerification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.verifications[walletKey(wallet)]
	if !ok {
		return &models.OnChainVoterVerification{}, nil
	}
	snapshot := *rec
	return &snapshot, nil
}

// Tally returns the current vote counts.
func (e *MemoryElection) Tally() []Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Candidate, len(e.candidates))
	copy(out, e.candidates)
	return out
}

func walletKey(wallet string) string {
	return strings.ToLower(wallet)
}
