// Package deposit executes the chain side of a vault deposit: the source
// chain transaction, the settlement on the destination chain, and waiting
// for both to confirm.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vault-deposit/pkg/chains"
	"vault-deposit/pkg/types"
)

const defaultBroadcastRetries = 3

// Option customizes the source and settlement adapters
type Option func(*executor)

// WithBackOff replaces the retry policy used when broadcasting fails on the RPC side
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(e *executor) { e.newBackOff = newBackOff }
}

// WithApprovalTimeout bounds the wait for an ERC20 approval to confirm
func WithApprovalTimeout(timeout time.Duration) Option {
	return func(e *executor) {
		if timeout > 0 {
			e.approvalTimeout = timeout
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *executor) { e.logger = logger }
}

// executor holds what the source and settlement adapters share: broadcasting
// with bounded retries and ERC20 allowance handling
type executor struct {
	registry        *chains.Registry
	reader          ChainReader
	confirmer       *Confirmer
	approvalTimeout time.Duration
	newBackOff      func() backoff.BackOff
	logger          *zap.Logger
}

func newExecutor(registry *chains.Registry, reader ChainReader, confirmer *Confirmer, opts []Option) executor {
	e := executor{
		registry:        registry,
		reader:          reader,
		confirmer:       confirmer,
		approvalTimeout: DefaultConfirmationTimeout,
		newBackOff:      defaultBroadcastBackOff,
		logger:          zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&e)
	}

	return e
}

func defaultBroadcastBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 10 * time.Second
	return backoff.WithMaxRetries(b, defaultBroadcastRetries)
}

// IsPermanent reports whether resubmitting the same transaction cannot help
func IsPermanent(err error) bool {
	var revert *RevertError
	return errors.Is(err, ErrUserRejected) ||
		errors.Is(err, ErrWrongNetwork) ||
		errors.As(err, &revert) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// broadcast sends a transaction, retrying RPC failures. User rejections and
// reverts found while estimating gas are returned at once.
func (e *executor) broadcast(ctx context.Context, signer Signer, tx *TxRequest) (common.Hash, error) {
	var hash common.Hash
	op := func() error {
		h, err := signer.SendTransaction(ctx, tx)
		if err != nil {
			if IsPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		hash = h
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("broadcast failed, retrying",
			zap.Uint64("chain_id", tx.ChainID),
			zap.String("to", tx.To.Hex()),
			zap.Error(err),
			zap.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(e.newBackOff(), ctx), notify); err != nil {
		return common.Hash{}, err
	}

	e.logger.Info("transaction broadcast",
		zap.Uint64("chain_id", tx.ChainID),
		zap.String("to", tx.To.Hex()),
		zap.String("tx", hash.Hex()))

	return hash, nil
}

// ensureAllowance approves spender for amount when the current allowance is
// short, and waits for the approval to confirm. It returns the approval hash
// when one was broadcast.
func (e *executor) ensureAllowance(ctx context.Context, signer Signer, chainID uint64, token types.Token, spender common.Address, amount *big.Int) (common.Hash, error) {
	if token.IsNative() {
		return common.Hash{}, nil
	}

	allowance, err := e.reader.Allowance(ctx, chainID, token.Address, signer.Address(), spender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return common.Hash{}, nil
	}

	data, err := packApprove(spender, amount)
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := e.broadcast(ctx, signer, &TxRequest{ChainID: chainID, To: token.Address, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("approve %s: %w", token.Symbol, err)
	}

	if _, err := e.confirmer.WaitForConfirmation(ctx, chainID, hash, e.approvalTimeout); err != nil {
		return hash, &ApprovalError{Token: token.Symbol, TxHash: hash, Err: err}
	}

	return hash, nil
}

// vaultDeposit builds the vault deposit call, approving the vault first for
// ERC20 tokens. The approval hash is returned when one was broadcast.
func (e *executor) vaultDeposit(ctx context.Context, signer Signer, chainID uint64, vault common.Address, token types.Token, units *big.Int) (*TxRequest, common.Hash, error) {
	if vault == (common.Address{}) {
		return nil, common.Hash{}, fmt.Errorf("vault is not deployed on chain %d", chainID)
	}

	approval, err := e.ensureAllowance(ctx, signer, chainID, token, vault, units)
	if err != nil {
		return nil, approval, err
	}

	data, err := packVaultDeposit(token.Address, units)
	if err != nil {
		return nil, approval, err
	}

	return &TxRequest{ChainID: chainID, To: vault, Value: nativeValue(token, units), Data: data}, approval, nil
}

// withApproval attaches an already broadcast approval to a later failure
func withApproval(token types.Token, approval common.Hash, err error) error {
	var approvalErr *ApprovalError
	if err == nil || approval == (common.Hash{}) || errors.As(err, &approvalErr) {
		return err
	}
	return &ApprovalError{Token: token.Symbol, TxHash: approval, Err: err}
}

func nativeValue(token types.Token, units *big.Int) *big.Int {
	if token.IsNative() {
		return new(big.Int).Set(units)
	}
	return big.NewInt(0)
}
