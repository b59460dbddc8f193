package chain

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVerification(t *testing.T) {
	out := []interface{}{"123412341234", "VOTER00001", "9876543210", true, big.NewInt(1700000000)}

	rec, err := decodeVerification(out)
	require.NoError(t, err)
	assert.Equal(t, "123412341234", rec.GovernmentID)
	assert.Equal(t, "VOTER00001", rec.VoterID)
	assert.Equal(t, "9876543210", rec.MobileNumber)
	assert.True(t, rec.IsVerified)
	assert.Equal(t, time.Unix(1700000000, 0), rec.LastVerificationTime)
}

func TestDecodeVerification_ZeroTimestamp(t *testing.T) {
	out := []interface{}{"123412341234", "VOTER00001", "9876543210", false, big.NewInt(0)}

	rec, err := decodeVerification(out)
	require.NoError(t, err)
	assert.False(t, rec.IsVerified)
	assert.True(t, rec.LastVerificationTime.IsZero())
}

func TestDecodeVerification_WrongArity(t *testing.T) {
	_, err := decodeVerification([]interface{}{"123412341234"})
	assert.ErrorContains(t, err, "arity")
}

func TestDecodeVerification_WrongTypes(t *testing.T) {
	// A different contract deployed at the configured address returns
	// mismatched outputs; that must be an error, not a panic.
	out := []interface{}{"123412341234", "VOTER00001", "9876543210", "not-a-bool", big.NewInt(0)}

	_, err := decodeVerification(out)
	assert.ErrorContains(t, err, "output types")
}
