package auth_test

import (
	"testing"
	"time"

	"github.com/civichain/votegate/internal/auth"
	"github.com/civichain/votegate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionTokenManager_MintAndValidate(t *testing.T) {
	m := auth.NewSessionTokenManager("a-reasonably-long-test-secret", 24*time.Hour)

	token, err := m.Mint("ABC1234567")
	require.NoError(t, err)
	require.NotNil(t, token.Claims)
	assert.Equal(t, models.VerificationMethod, token.Claims.Method)

	claims, err := m.Validate(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "ABC1234567", claims.VoterID)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestSessionTokenManager_ExpiredTokenRejected(t *testing.T) {
	m := auth.NewSessionTokenManager("a-reasonably-long-test-secret", -time.Minute)

	token, err := m.Mint("ABC1234567")
	require.NoError(t, err)

	_, err = m.Validate(token.Token)
	assert.ErrorIs(t, err, models.ErrSessionExpired)
}

func TestSessionTokenManager_WrongSecretRejected(t *testing.T) {
	m := auth.NewSessionTokenManager("secret-one-that-is-long-enough", time.Hour)
	other := auth.NewSessionTokenManager("secret-two-that-is-long-enough", time.Hour)

	token, err := m.Mint("ABC1234567")
	require.NoError(t, err)

	_, err = other.Validate(token.Token)
	assert.Error(t, err)
}
