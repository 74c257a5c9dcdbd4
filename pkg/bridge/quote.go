package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"vault-deposit/pkg/chains"
	"vault-deposit/pkg/types"
)

const (
	DefaultQuoteTimeout = 10 * time.Second
	DefaultSlippageBps  = 100 // 1%
)

// QuoteService asks the bridge provider whether a deposit can be bridged and
// at what cost. Quotes are never cached: liquidity and fees move between
// requests.
type QuoteService struct {
	provider    Provider
	registry    *chains.Registry
	timeout     time.Duration
	slippageBps int
	newBackOff  func() backoff.BackOff
	logger      *zap.Logger
}

// QuoteOption customizes a QuoteService
type QuoteOption func(*QuoteService)

// WithQuoteTimeout bounds the total time spent waiting for the provider
func WithQuoteTimeout(timeout time.Duration) QuoteOption {
	return func(s *QuoteService) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithSlippage sets the slippage tolerance sent to the provider, in basis points
func WithSlippage(bps int) QuoteOption {
	return func(s *QuoteService) { s.slippageBps = bps }
}

// WithQuoteBackOff replaces the retry policy for transient provider errors
func WithQuoteBackOff(newBackOff func() backoff.BackOff) QuoteOption {
	return func(s *QuoteService) { s.newBackOff = newBackOff }
}

// WithQuoteLogger sets the logger
func WithQuoteLogger(logger *zap.Logger) QuoteOption {
	return func(s *QuoteService) { s.logger = logger }
}

// NewQuoteService creates a quote service on top of a provider
func NewQuoteService(provider Provider, registry *chains.Registry, opts ...QuoteOption) *QuoteService {
	s := &QuoteService{
		provider:    provider,
		registry:    registry,
		timeout:     DefaultQuoteTimeout,
		slippageBps: DefaultSlippageBps,
		newBackOff:  defaultQuoteBackOff,
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func defaultQuoteBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithMaxRetries(b, 2)
}

// GetQuote returns the quote for a deposit. Same-chain deposits get a trivial
// quote without contacting the provider. Provider rejections, non-2xx answers
// and timeouts all come back as an infeasible quote; an error is only
// returned for a malformed request or a cancelled context.
func (s *QuoteService) GetQuote(ctx context.Context, req *types.DepositRequest) (*types.Quote, error) {
	amount, err := req.ParsedAmount()
	if err != nil {
		return nil, err
	}

	if !req.IsCrossChain() {
		quotesTotal.WithLabelValues("same_chain").Inc()
		return types.SameChainQuote(amount), nil
	}

	precheck, err := s.precheckRequest(req)
	if err != nil {
		quotesTotal.WithLabelValues("infeasible").Inc()
		return types.InfeasibleQuote(err.Error()), nil
	}
	precheck.Amount = amount

	quoteCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var quote *types.Quote
	op := func() error {
		q, err := s.provider.Precheck(quoteCtx, precheck)
		if err != nil {
			if !types.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		quote = q
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("bridge quote failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	start := time.Now()
	err = backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), quoteCtx), notify)
	quoteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(quoteCtx.Err(), context.DeadlineExceeded) {
			quotesTotal.WithLabelValues("timeout").Inc()
			return types.InfeasibleQuote(fmt.Sprintf("%s: bridge provider did not answer within %s", types.QuoteTimeout, s.timeout)), nil
		}

		s.logger.Info("bridge quote rejected", zap.Error(err))
		quotesTotal.WithLabelValues("error").Inc()
		return types.InfeasibleQuote(err.Error()), nil
	}

	if !quote.Feasible {
		if len(quote.Errors) == 0 {
			quote.Errors = []string{"bridge provider reported the transfer as infeasible"}
		}
		quotesTotal.WithLabelValues("infeasible").Inc()
		return quote, nil
	}

	quote.GasFeeKnown = false
	quotesTotal.WithLabelValues("feasible").Inc()

	s.logger.Debug("bridge quote",
		zap.Uint64("source_chain", req.SourceChainID),
		zap.Uint64("destination_chain", req.DestinationChainID),
		zap.String("fee", quote.BridgeFee.String()),
		zap.String("min_amount_out", quote.MinAmountOut.String()),
		zap.Int64("eta_seconds", quote.EstimatedSeconds))

	return quote, nil
}

// precheckRequest maps a deposit onto the provider request, resolving the
// destination-side token by symbol
func (s *QuoteService) precheckRequest(req *types.DepositRequest) (*types.PrecheckRequest, error) {
	source, err := s.registry.Resolve(req.SourceChainID)
	if err != nil {
		return nil, err
	}
	dest, err := s.registry.Resolve(req.DestinationChainID)
	if err != nil {
		return nil, err
	}

	destToken, err := s.registry.TokenOn(dest.ChainID, req.Token.Symbol)
	if err != nil {
		return nil, err
	}

	return &types.PrecheckRequest{
		SourceChainID:      source.ChainID,
		DestinationChainID: dest.ChainID,
		SourceToken:        req.Token,
		DestinationToken:   destToken,
		SlippageBps:        s.slippageBps,
		Recipient:          req.Recipient,
		Refund:             req.Recipient,
		SourceSlug:         source.BridgeSlug,
		DestinationSlug:    dest.BridgeSlug,
	}, nil
}
