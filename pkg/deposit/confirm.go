package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

const (
	DefaultConfirmationTimeout = 2 * time.Minute
	DefaultReceiptPollInterval = 2 * time.Second
)

// Confirmer waits for transactions to be mined with enough confirmations
type Confirmer struct {
	reader        ChainReader
	clock         clock.Clock
	interval      time.Duration
	confirmations uint64
	logger        *zap.Logger
}

// ConfirmerOption customizes a Confirmer
type ConfirmerOption func(*Confirmer)

// WithConfirmerClock replaces the wall clock
func WithConfirmerClock(c clock.Clock) ConfirmerOption {
	return func(cf *Confirmer) { cf.clock = c }
}

// WithReceiptPollInterval sets how often the receipt is looked up
func WithReceiptPollInterval(interval time.Duration) ConfirmerOption {
	return func(cf *Confirmer) {
		if interval > 0 {
			cf.interval = interval
		}
	}
}

// WithConfirmations sets the number of blocks required, including the one
// holding the transaction
func WithConfirmations(n uint64) ConfirmerOption {
	return func(cf *Confirmer) {
		if n > 0 {
			cf.confirmations = n
		}
	}
}

// WithConfirmerLogger sets the logger
func WithConfirmerLogger(logger *zap.Logger) ConfirmerOption {
	return func(cf *Confirmer) { cf.logger = logger }
}

// NewConfirmer creates a confirmer requiring one confirmation
func NewConfirmer(reader ChainReader, opts ...ConfirmerOption) *Confirmer {
	c := &Confirmer{
		reader:        reader,
		clock:         clock.New(),
		interval:      DefaultReceiptPollInterval,
		confirmations: 1,
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WaitForConfirmation blocks until the transaction has the required
// confirmations, it reverted, or timeout elapsed. Every RPC call is bounded
// by the same timeout. A reverted transaction yields a *RevertError and an
// expired wait ErrConfirmationTimeout.
func (c *Confirmer) WaitForConfirmation(ctx context.Context, chainID uint64, hash common.Hash, timeout time.Duration) (*gethtypes.Receipt, error) {
	if timeout <= 0 {
		timeout = DefaultConfirmationTimeout
	}
	deadline := c.clock.Now().Add(timeout)
	logger := c.logger.With(zap.Uint64("chain_id", chainID), zap.String("tx", hash.Hex()))

	waitCtx, cancel := c.clock.WithDeadline(ctx, deadline)
	defer cancel()

	for {
		receipt, err := c.reader.TransactionReceipt(waitCtx, chainID, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == gethtypes.ReceiptStatusFailed {
				return receipt, c.revertError(waitCtx, chainID, hash)
			}

			confirmed, err := c.isConfirmed(waitCtx, chainID, receipt)
			if err != nil {
				logger.Warn("failed to read chain head", zap.Error(err))
			} else if confirmed {
				logger.Debug("transaction confirmed", zap.Uint64("block", receipt.BlockNumber.Uint64()))
				return receipt, nil
			}

		case err == nil, errors.Is(err, ethereum.NotFound):
			// not mined yet

		case ctx.Err() != nil:
			return nil, ctx.Err()

		case waitCtx.Err() != nil:
			logger.Info("receipt lookup cut off at deadline", zap.Error(err))

		default:
			logger.Warn("failed to get transaction receipt", zap.Error(err))
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		now := c.clock.Now()
		if !now.Before(deadline) || waitCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %s after %s", ErrConfirmationTimeout, hash.Hex(), timeout)
		}

		wait := c.interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}

		timer := c.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Confirmer) isConfirmed(ctx context.Context, chainID uint64, receipt *gethtypes.Receipt) (bool, error) {
	if c.confirmations <= 1 {
		return true, nil
	}
	if receipt.BlockNumber == nil {
		return false, nil
	}

	head, err := c.reader.BlockNumber(ctx, chainID)
	if err != nil {
		return false, err
	}

	mined := receipt.BlockNumber.Uint64()
	return head >= mined && head-mined+1 >= c.confirmations, nil
}

func (c *Confirmer) revertError(ctx context.Context, chainID uint64, hash common.Hash) error {
	revert := &RevertError{TxHash: hash}

	if reasoner, ok := c.reader.(RevertReasoner); ok {
		reason, err := reasoner.RevertReason(ctx, chainID, hash)
		if err != nil {
			c.logger.Debug("failed to read revert reason", zap.String("tx", hash.Hex()), zap.Error(err))
		}
		revert.Reason = reason
	}

	return revert
}
