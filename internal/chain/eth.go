package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/civichain/votegate/internal/models"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// electionABI is the consumed surface of the deployed election contract.
const electionABI = `[
  {"type":"function","name":"verifyVoter","stateMutability":"nonpayable","inputs":[{"name":"governmentId","type":"string"},{"name":"voterId","type":"string"},{"name":"mobile","type":"string"},{"name":"verificationHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"vote","stateMutability":"nonpayable","inputs":[{"name":"candidateIndex","type":"uint256"},{"name":"verificationHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getVoterVerification","stateMutability":"view","inputs":[{"name":"voter","type":"address"}],"outputs":[{"name":"governmentId","type":"string"},{"name":"voterId","type":"string"},{"name":"mobile","type":"string"},{"name":"isVerified","type":"bool"},{"name":"lastVerificationTime","type":"uint256"}]},
  {"type":"function","name":"setVerificationValidityPeriod","stateMutability":"nonpayable","inputs":[{"name":"period","type":"uint256"}],"outputs":[]}
]`

// EthConfig configures the on-chain binding.
type EthConfig struct {
	RPCURL          string
	ContractAddress string
	// AdminPrivateKey signs the admin-gated verifyVoter transaction.
	AdminPrivateKey string
	ChainID         int64
}

// EthBinding submits verification records and votes to the deployed
// election contract.
type EthBinding struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	opts     *bind.TransactOpts
}

// NewEthBinding dials the RPC endpoint and binds the contract.
func NewEthBinding(ctx context.Context, cfg EthConfig) (*EthBinding, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(electionABI))
	if err != nil {
		return nil, fmt.Errorf("parse election abi: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.AdminPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse admin key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, big.NewInt(cfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	address := common.HexToAddress(cfg.ContractAddress)
	contract := bind.NewBoundContract(address, parsed, client, client, client)

	return &EthBinding{client: client, contract: contract, opts: opts}, nil
}

// VerifyVoter submits the admin-gated verification transaction.
func (b *EthBinding) VerifyVoter(ctx context.Context, identity *models.VoterIdentity, verificationHash string) error {
	opts := *b.opts
	opts.Context = ctx

	_, err := b.contract.Transact(&opts, "verifyVoter",
		identity.GovernmentID, identity.VoterID, identity.MobileNumber,
		common.HexToHash(verificationHash))
	if err != nil {
		return fmt.Errorf("verifyVoter transaction failed: %w", err)
	}
	return nil
}

// CastVote submits the vote transaction. The contract re-checks
// isVerified, the validity window, and hasVoted on its side.
func (b *EthBinding) CastVote(ctx context.Context, wallet string, candidateIdx int, verificationHash string) error {
	opts := *b.opts
	opts.Context = ctx

	_, err := b.contract.Transact(&opts, "vote",
		big.NewInt(int64(candidateIdx)), common.HexToHash(verificationHash))
	if err != nil {
		return fmt.Errorf("vote transaction failed: %w", err)
	}
	return nil
}

// VoterVerification reads the contract record for a wallet.
func (b *EthBinding) VoterVerification(ctx context.Context, wallet string) (*models.OnChainVoterVerification, error) {
	var out []interface{}
	err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out,
		"getVoterVerification", common.HexToAddress(wallet))
	if err != nil {
		return nil, fmt.Errorf("getVoterVerification call failed: %w", err)
	}
	return decodeVerification(out)
}

// decodeVerification validates the shape of the getVoterVerification
// outputs. A contract at the configured address with a different ABI
// must surface as an error, not a panic.
func decodeVerification(out []interface{}) (*models.OnChainVoterVerification, error) {
	if len(out) != 5 {
		return nil, fmt.Errorf("unexpected getVoterVerification output arity %d", len(out))
	}

	gov, okGov := out[0].(string)
	voterID, okVoter := out[1].(string)
	mobile, okMobile := out[2].(string)
	verified, okVerified := out[3].(bool)
	last, okLast := out[4].(*big.Int)
	if !okGov || !okVoter || !okMobile || !okVerified || !okLast {
		return nil, fmt.Errorf("unexpected getVoterVerification output types %T %T %T %T %T",
			out[0], out[1], out[2], out[3], out[4])
	}

	rec := &models.OnChainVoterVerification{
		GovernmentID: gov,
		VoterID:      voterID,
		MobileNumber: mobile,
		IsVerified:   verified,
	}
	if last != nil && last.Sign() > 0 {
		rec.LastVerificationTime = time.Unix(last.Int64(), 0)
	}
	return rec, nil
}

// Close releases the RPC connection.
func (b *EthBinding) Close() {
	b.client.Close()
}
