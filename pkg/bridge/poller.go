package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"vault-deposit/pkg/types"
)

const (
	DefaultPollInterval         = 30 * time.Second
	DefaultBridgeDeadline       = 30 * time.Minute
	DefaultMaxConsecutiveErrors = 5
)

var (
	// ErrBridgeTimeout means the deadline passed while the order was still
	// pending. The funds may still arrive.
	ErrBridgeTimeout = errors.New("bridge order still pending at deadline")
	// ErrStatusUnavailable means the provider could not be asked for the
	// order status. The funds may still arrive.
	ErrStatusUnavailable = errors.New("bridge order status unavailable")
)

// Poller follows a bridge order until the provider reports it fulfilled or
// failed. Successful polls are spaced by a fixed interval; transient errors
// are retried with exponential backoff that never exceeds that interval.
type Poller struct {
	provider             Provider
	clock                clock.Clock
	interval             time.Duration
	maxConsecutiveErrors int
	newBackOff           func() backoff.BackOff
	logger               *zap.Logger
}

// PollerOption customizes a Poller
type PollerOption func(*Poller)

// WithClock replaces the wall clock, mostly for tests
func WithClock(c clock.Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithPollInterval sets the time between two successful polls
func WithPollInterval(interval time.Duration) PollerOption {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithMaxConsecutiveErrors sets how many provider errors in a row are tolerated
func WithMaxConsecutiveErrors(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxConsecutiveErrors = n
		}
	}
}

// WithPollerLogger sets the logger
func WithPollerLogger(logger *zap.Logger) PollerOption {
	return func(p *Poller) { p.logger = logger }
}

// NewPoller creates a poller for a provider
func NewPoller(provider Provider, opts ...PollerOption) *Poller {
	p := &Poller{
		provider:             provider,
		clock:                clock.New(),
		interval:             DefaultPollInterval,
		maxConsecutiveErrors: DefaultMaxConsecutiveErrors,
		logger:               zap.NewNop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = minDuration(time.Second, p.interval)
		b.MaxInterval = p.interval
		b.MaxElapsedTime = 0
		return b
	}

	return p
}

// Interval returns the time between two successful polls
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// PollUntilTerminal polls the order until it is fulfilled or failed. It
// returns ErrBridgeTimeout when the deadline passes while the order is still
// pending and ErrStatusUnavailable when the provider keeps failing or rejects
// the request outright. An order the provider has not indexed yet counts as
// pending. Every status call is bounded by the deadline. The returned order
// is never nil and holds the last known state.
func (p *Poller) PollUntilTerminal(ctx context.Context, orderID string, deadline time.Time) (*types.BridgeOrder, error) {
	logger := p.logger.With(zap.String("order_id", orderID))
	last := &types.BridgeOrder{OrderID: orderID, Status: types.OrderPending}

	b := p.newBackOff()
	b.Reset()
	consecutiveErrors := 0

	for {
		wait := p.interval

		callCtx, cancel := p.clock.WithDeadline(ctx, deadline)
		order, err := p.provider.OrderStatus(callCtx, orderID)
		expired := callCtx.Err() != nil
		cancel()

		switch {
		case err == nil:
			consecutiveErrors = 0
			b.Reset()
			last = mergeOrder(last, order)
			orderPollsTotal.WithLabelValues(string(last.Status)).Inc()

			logger.Debug("bridge order polled",
				zap.String("status", string(last.Status)),
				zap.String("provider_status", last.ProviderStatus))

			if last.Status.IsTerminal() {
				return last, nil
			}

		case errors.Is(err, types.ErrOrderNotFound):
			consecutiveErrors = 0
			b.Reset()
			orderPollsTotal.WithLabelValues("not_indexed").Inc()
			logger.Debug("bridge order not indexed yet")

		case ctx.Err() != nil:
			return last, ctx.Err()

		case expired:
			orderPollsTotal.WithLabelValues("error").Inc()
			logger.Info("bridge order deadline passed during status call", zap.Time("deadline", deadline), zap.Error(err))
			return last, ErrBridgeTimeout

		case !types.IsRetryable(err):
			orderPollsTotal.WithLabelValues("error").Inc()
			return last, fmt.Errorf("%w: %v", ErrStatusUnavailable, err)

		default:
			consecutiveErrors++
			orderPollsTotal.WithLabelValues("error").Inc()
			logger.Warn("bridge order poll failed",
				zap.Error(err),
				zap.Int("consecutive_errors", consecutiveErrors))

			if consecutiveErrors >= p.maxConsecutiveErrors {
				return last, fmt.Errorf("%w: %d consecutive errors, last: %v", ErrStatusUnavailable, consecutiveErrors, err)
			}
			if next := b.NextBackOff(); next != backoff.Stop {
				wait = minDuration(wait, next)
			}
		}

		now := p.clock.Now()
		if !now.Before(deadline) {
			logger.Info("bridge order deadline passed while pending", zap.Time("deadline", deadline))
			return last, ErrBridgeTimeout
		}
		wait = minDuration(wait, deadline.Sub(now))

		timer := p.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
	}
}

// mergeOrder keeps fields the provider stopped reporting
func mergeOrder(prev, next *types.BridgeOrder) *types.BridgeOrder {
	merged := *next
	if merged.OrderID == "" {
		merged.OrderID = prev.OrderID
	}
	if merged.SourceTxHash == "" {
		merged.SourceTxHash = prev.SourceTxHash
	}
	if merged.DestinationTxHash == "" {
		merged.DestinationTxHash = prev.DestinationTxHash
	}
	if merged.AmountOut.IsZero() {
		merged.AmountOut = prev.AmountOut
	}
	return &merged
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
