package verifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/civichain/votegate/internal/models"
)

// OTPVerifier confirms the one-time passcode submitted by the voter
// against the live challenge and the backend.
type OTPVerifier struct {
	client *Client
	logger *slog.Logger
}

// NewOTPVerifier creates an OTP verifier.
func NewOTPVerifier(client *Client, logger *slog.Logger) *OTPVerifier {
	return &OTPVerifier{client: client, logger: logger}
}

type otpRequest struct {
	GovernmentID string `json:"governmentId"`
	VoterID      string `json:"voterId"`
	OTP          string `json:"otp"`
}

type otpResponse struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message"`
}

// Verify checks the submitted code against the live challenge. Expiry
// and mismatch are rejections; the backend call is authoritative when
// the challenge code is not held client-side (production).
func (v *OTPVerifier) Verify(ctx context.Context, identity *models.VoterIdentity, challenge *models.OtpChallenge, code string) error {
	if code == "" {
		return &models.ValidationError{Field: "otp", Reason: "code is required"}
	}
	if challenge == nil || challenge.IdentityKey != identity.Key() {
		return models.ErrNoChallenge
	}
	if challenge.Expired(time.Now()) {
		return &models.RejectionError{Factor: "otp", Message: "OTP has expired"}
	}

	// Outside production the issued code is known locally; reject a
	// mismatch without a round trip.
	if challenge.Code != "" && code != challenge.Code {
		return &models.RejectionError{Factor: "otp", Message: "invalid OTP"}
	}

	req := otpRequest{
		GovernmentID: identity.GovernmentID,
		VoterID:      identity.VoterID,
		OTP:          code,
	}

	var resp otpResponse
	if err := v.client.PostJSON(ctx, "otp", "verify-otp", req, &resp); err != nil {
		return err
	}
	if !resp.Verified {
		msg := resp.Message
		if msg == "" {
			msg = "invalid OTP"
		}
		return &models.RejectionError{Factor: "otp", Message: msg}
	}

	challenge.Verified = true
	v.logger.Info("OTP verified", slog.String("identity_key", identity.Key()))
	return nil
}
