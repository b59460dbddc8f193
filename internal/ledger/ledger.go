package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/civichain/votegate/internal/models"
)

// AttemptLedger tracks consecutive verification failures per identity
// and decides lockout. The counter is intentionally coarse: it does not
// distinguish which factor failed, so exhausting attempts on one factor
// locks out the others as well. State is in-memory and session-scoped;
// clearing a lockout is an external operation.
type AttemptLedger struct {
	mu          sync.Mutex
	maxAttempts int
	records     map[string]*models.AttemptRecord
	logger      *slog.Logger
}

// NewAttemptLedger creates a ledger that locks an identity after
// maxAttempts consecutive failures.
func NewAttemptLedger(maxAttempts int, logger *slog.Logger) *AttemptLedger {
	return &AttemptLedger{
		maxAttempts: maxAttempts,
		records:     make(map[string]*models.AttemptRecord),
		logger:      logger,
	}
}

// RecordFailure increments the failure counter for the identity and
// returns a snapshot of the record. The counter never exceeds maxAttempts.
func (l *AttemptLedger) RecordFailure(identityKey string) *models.AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identityKey]
	if !ok {
		rec = &models.AttemptRecord{IdentityKey: identityKey}
		l.records[identityKey] = rec
	}

	if rec.FailureCount < l.maxAttempts {
		rec.FailureCount++
	}

	if rec.FailureCount >= l.maxAttempts && rec.LockedUntil == nil {
		now := time.Now()
		rec.LockedUntil = &now
		l.logger.Warn("identity locked out",
			slog.String("identity_key", identityKey),
			slog.Int("failure_count", rec.FailureCount))
	}

	snapshot := *rec
	return &snapshot
}

// RecordSuccess resets the failure counter for the identity.
func (l *AttemptLedger) RecordSuccess(identityKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, identityKey)
}

// IsLocked reports whether the identity has exhausted its attempts.
// Locked identities must fail fast without contacting external services.
func (l *AttemptLedger) IsLocked(identityKey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identityKey]
	return ok && rec.FailureCount >= l.maxAttempts
}

// Record returns a snapshot of the attempt record, or nil if the
// identity has no recorded failures.
func (l *AttemptLedger) Record(identityKey string) *models.AttemptRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[identityKey]
	if !ok {
		return nil
	}
	snapshot := *rec
	return &snapshot
}
