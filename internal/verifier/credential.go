package verifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/civichain/votegate/internal/models"
)

// CredentialVerifier checks the government-ID credentials against the
// backend and issues the OTP challenge for the run.
type CredentialVerifier struct {
	client *Client
	otpTTL time.Duration
	logger *slog.Logger
}

// NewCredentialVerifier creates a credential verifier. otpTTL bounds
// the lifetime of the challenge issued on success.
func NewCredentialVerifier(client *Client, otpTTL time.Duration, logger *slog.Logger) *CredentialVerifier {
	return &CredentialVerifier{client: client, otpTTL: otpTTL, logger: logger}
}

type credentialRequest struct {
	GovernmentID  string `json:"governmentId"`
	VoterID       string `json:"voterId"`
	Mobile        string `json:"mobile"`
	WalletAddress string `json:"walletAddress"`
}

type credentialResponse struct {
	Success   bool   `json:"success"`
	OTP       string `json:"otp"`
	FoundInDB bool   `json:"found_in_db"`
	Message   string `json:"message"`
}

// Verify submits the credentials. On success it returns the live OTP
// challenge for the identity; the challenge code is present only when
// the backend runs outside production.
func (v *CredentialVerifier) Verify(ctx context.Context, identity *models.VoterIdentity) (*models.VerificationResult, *models.OtpChallenge, error) {
	req := credentialRequest{
		GovernmentID:  identity.GovernmentID,
		VoterID:       identity.VoterID,
		Mobile:        identity.MobileNumber,
		WalletAddress: identity.WalletAddress,
	}

	var resp credentialResponse
	if err := v.client.PostJSON(ctx, "credential", "verify-credentials", req, &resp); err != nil {
		return nil, nil, err
	}

	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "credentials rejected"
		}
		return nil, nil, &models.RejectionError{Factor: "credential", Message: msg}
	}

	challenge := &models.OtpChallenge{
		IdentityKey: identity.Key(),
		Code:        resp.OTP,
		IssuedAt:    time.Now(),
		TTL:         v.otpTTL,
	}

	v.logger.Info("credentials verified, OTP challenge issued",
		slog.String("identity_key", identity.Key()),
		slog.Bool("found_in_db", resp.FoundInDB))

	return &models.VerificationResult{
		Verified:        true,
		NewlyRegistered: !resp.FoundInDB,
	}, challenge, nil
}
