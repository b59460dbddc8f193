package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents one security-relevant pipeline event.
type AuditEvent struct {
	EventType     string
	IdentityKey   string
	IPAddress     string
	Factor        string
	Success       bool
	FailureReason string
}

// AuditLogger writes the audit trail for verification attempts,
// lockouts, and vote submissions.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogFactorAttempt logs one verification-factor attempt.
func (al *AuditLogger) LogFactorAttempt(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "verification"),
		slog.String("event_type", event.EventType),
		slog.String("factor", event.Factor),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.IdentityKey != "" {
		attrs = append(attrs, slog.String("identity_key", event.IdentityKey))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	if event.Success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}

// LogLockout logs an identity lockout.
func (al *AuditLogger) LogLockout(identityKey, ipAddress string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "verification"),
		slog.String("event_type", "lockout"),
		slog.String("identity_key", identityKey),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}
	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}

// LogVoteCast logs a vote submission. The candidate choice is never
// written to the audit trail.
func (al *AuditLogger) LogVoteCast(identityKey, ipAddress string, success bool, reason string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "vote"),
		slog.String("event_type", "vote_cast"),
		slog.String("identity_key", identityKey),
		slog.Bool("success", success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}
	if reason != "" {
		attrs = append(attrs, slog.String("failure_reason", reason))
	}

	if success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}
