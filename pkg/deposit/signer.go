package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"vault-deposit/pkg/types"
)

var (
	// ErrUserRejected is returned by signers when the user declines to sign
	ErrUserRejected = errors.New("transaction rejected by user")
	// ErrWrongNetwork is returned when the signer is not on the chain the
	// transaction is meant for
	ErrWrongNetwork = errors.New("signer is connected to the wrong network")
	// ErrConfirmationTimeout is returned when a transaction was not confirmed in time
	ErrConfirmationTimeout = errors.New("timed out waiting for transaction confirmation")
)

// RevertError is an on-chain execution failure, either detected while
// estimating gas or read from a mined receipt
type RevertError struct {
	TxHash common.Hash
	Reason string
}

func (e *RevertError) Error() string {
	msg := "execution reverted"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.TxHash != (common.Hash{}) {
		msg += fmt.Sprintf(" (tx %s)", e.TxHash.Hex())
	}
	return msg
}

// ApprovalError is a submission that failed after an ERC20 approval was
// already broadcast. The approval stays on chain even though no funds moved.
type ApprovalError struct {
	Token  string
	TxHash common.Hash
	Err    error
}

func (e *ApprovalError) Error() string {
	return fmt.Sprintf("%s approval %s was broadcast: %v", e.Token, e.TxHash.Hex(), e.Err)
}

func (e *ApprovalError) Unwrap() error {
	return e.Err
}

// TxRequest is an unsigned transaction handed to a signer
type TxRequest struct {
	ChainID uint64
	To      common.Address
	Value   *big.Int
	Data    []byte
}

// Signer is the connected wallet. It only signs and broadcasts; keys and
// confirmation prompts stay on its side.
type Signer interface {
	Address() common.Address
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	SendTransaction(ctx context.Context, tx *TxRequest) (common.Hash, error)
}

// SignerProvider hands out signers pinned to one chain, regardless of which
// chain the connected wallet is showing
type SignerProvider interface {
	SignerFor(ctx context.Context, chainID uint64) (Signer, error)
}

// ChainReader is the read side of the per-chain RPC endpoints
type ChainReader interface {
	BalanceOf(ctx context.Context, chainID uint64, token types.Token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, chainID uint64, token, owner, spender common.Address) (*big.Int, error)
	TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*gethtypes.Receipt, error)
	BlockNumber(ctx context.Context, chainID uint64) (uint64, error)
}

// RevertReasoner is implemented by readers that can explain a failed transaction
type RevertReasoner interface {
	RevertReason(ctx context.Context, chainID uint64, hash common.Hash) (string, error)
}
