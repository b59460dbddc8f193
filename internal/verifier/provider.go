package verifier

import (
	"context"
	"errors"

	"github.com/civichain/votegate/internal/models"
)

// IdentityProvider supplies identities for kiosk demo flows. The
// implementation is selected by configuration, never by environment
// sniffing inside business logic.
type IdentityProvider interface {
	RandomIdentity(ctx context.Context) (*models.VoterIdentity, error)
}

// TestProvider fetches a random voter from the backend's non-production
// endpoint.
type TestProvider struct {
	client *Client
}

// NewTestProvider creates the test identity provider.
func NewTestProvider(client *Client) *TestProvider {
	return &TestProvider{client: client}
}

type randomVoterResponse struct {
	GovernmentID  string `json:"governmentId"`
	VoterID       string `json:"voterId"`
	Mobile        string `json:"mobile"`
	Name          string `json:"name"`
	WalletAddress string `json:"walletAddress"`
}

func (p *TestProvider) RandomIdentity(ctx context.Context) (*models.VoterIdentity, error) {
	var resp randomVoterResponse
	if err := p.client.GetJSON(ctx, "provider", "voters/random", &resp); err != nil {
		return nil, err
	}
	return &models.VoterIdentity{
		GovernmentID:  resp.GovernmentID,
		VoterID:       resp.VoterID,
		MobileNumber:  resp.Mobile,
		WalletAddress: resp.WalletAddress,
	}, nil
}

// LiveProvider is the production strategy: random identities are never
// available.
type LiveProvider struct{}

func (LiveProvider) RandomIdentity(ctx context.Context) (*models.VoterIdentity, error) {
	return nil, errors.New("random identities are not available in live mode")
}
