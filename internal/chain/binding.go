package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/civichain/votegate/internal/models"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Binding turns a successful verification run into on-chain state. The
// contract independently re-checks the validity window at vote time;
// anything the client holds is advisory.
type Binding interface {
	// VerifyVoter submits the verification record. Admin-gated on the
	// contract side; sets isVerified and lastVerificationTime.
	VerifyVoter(ctx context.Context, identity *models.VoterIdentity, verificationHash string) error
	// CastVote votes for a candidate with the hash issued at
	// verification time.
	CastVote(ctx context.Context, wallet string, candidateIdx int, verificationHash string) error
	// VoterVerification reads the contract-side record for a wallet.
	VoterVerification(ctx context.Context, wallet string) (*models.OnChainVoterVerification, error)
}

// VerificationHash binds the identity and the biometric result into the
// value submitted on-chain to authorize a vote.
func VerificationHash(identity *models.VoterIdentity, embeddingDigest string, ts time.Time) string {
	payload := fmt.Sprintf("%s|%s|%s|%d",
		identity.GovernmentID, identity.VoterID, embeddingDigest, ts.Unix())
	return hexutil.Encode(crypto.Keccak256([]byte(payload)))
}
