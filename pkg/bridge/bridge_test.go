package bridge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-deposit/pkg/chains"
	"vault-deposit/pkg/types"
)

type statusResult struct {
	order *types.BridgeOrder
	err   error
}

// fakeProvider replays scripted answers. The last status result repeats.
type fakeProvider struct {
	mu            sync.Mutex
	precheck      func(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error)
	statuses      []statusResult
	precheckCalls int
	statusCalls   int
	lastPrecheck  *types.PrecheckRequest
}

func (f *fakeProvider) Precheck(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
	f.mu.Lock()
	f.precheckCalls++
	f.lastPrecheck = req
	f.mu.Unlock()
	return f.precheck(ctx, req)
}

func (f *fakeProvider) OrderStatus(ctx context.Context, orderID string) (*types.BridgeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.statusCalls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.statusCalls++

	res := f.statuses[i]
	if res.err != nil {
		return nil, res.err
	}
	order := *res.order
	order.OrderID = orderID
	return &order, nil
}

func (f *fakeProvider) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.precheckCalls, f.statusCalls
}

func pending() statusResult {
	return statusResult{order: &types.BridgeOrder{Status: types.OrderPending}}
}

func fulfilled() statusResult {
	return statusResult{order: &types.BridgeOrder{
		Status:            types.OrderFulfilled,
		DestinationTxHash: "0xdest",
		AmountOut:         decimal.RequireFromString("0.0099"),
	}}
}

func providerErr(status int) statusResult {
	return statusResult{err: &types.ProviderError{Op: "order status", StatusCode: status}}
}

func testRegistry(t *testing.T) *chains.Registry {
	t.Helper()

	r, err := chains.NewRegistry(chains.Merge(chains.DefaultChains(), []chains.ChainInfo{
		{ChainID: chains.BaseSepolia, Contracts: chains.Contracts{Vault: common.HexToAddress("0x01")}},
		{ChainID: chains.ArbitrumSepolia, Contracts: chains.Contracts{Vault: common.HexToAddress("0x02")}},
	}))
	require.NoError(t, err)
	return r
}

func crossChainRequest(symbol, amount string) *types.DepositRequest {
	return &types.DepositRequest{
		Token:              types.Token{Symbol: symbol, Decimals: 18},
		Amount:             amount,
		SourceChainID:      chains.ArbitrumSepolia,
		DestinationChainID: chains.BaseSepolia,
		Recipient:          common.HexToAddress("0xaa"),
	}
}

func noRetry() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
}

func TestGetQuoteSameChain(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewQuoteService(provider, testRegistry(t))

	req := crossChainRequest("USDC", "100")
	req.SourceChainID = chains.BaseSepolia

	quote, err := svc.GetQuote(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, quote.Feasible)
	assert.True(t, quote.BridgeFee.IsZero())
	assert.False(t, quote.GasFeeKnown)
	assert.True(t, quote.MinAmountOut.Equal(decimal.NewFromInt(100)))

	precheckCalls, _ := provider.calls()
	assert.Equal(t, 0, precheckCalls)
}

func TestGetQuoteCrossChain(t *testing.T) {
	provider := &fakeProvider{
		precheck: func(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
			return &types.Quote{
				Feasible:         true,
				EstimatedSeconds: 60,
				BridgeFee:        decimal.RequireFromString("0.0001"),
				MinAmountOut:     decimal.RequireFromString("0.0099"),
				MaxAmountOut:     decimal.RequireFromString("0.0099"),
			}, nil
		},
	}
	svc := NewQuoteService(provider, testRegistry(t), WithSlippage(30))

	quote, err := svc.GetQuote(context.Background(), crossChainRequest("eth", "0.01"))
	require.NoError(t, err)
	assert.True(t, quote.Feasible)
	assert.Equal(t, int64(60), quote.EstimatedSeconds)

	sent := provider.lastPrecheck
	require.NotNil(t, sent)
	assert.Equal(t, uint64(chains.ArbitrumSepolia), sent.SourceChainID)
	assert.Equal(t, uint64(chains.BaseSepolia), sent.DestinationChainID)
	assert.Equal(t, "ETH", sent.DestinationToken.Symbol)
	assert.True(t, sent.DestinationToken.IsNative())
	assert.Equal(t, 30, sent.SlippageBps)
	assert.Equal(t, "arb", sent.SourceSlug)
	assert.Equal(t, "base", sent.DestinationSlug)
	assert.True(t, sent.Amount.Equal(decimal.RequireFromString("0.01")))
}

func TestGetQuoteInfeasible(t *testing.T) {
	provider := &fakeProvider{
		precheck: func(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
			return types.InfeasibleQuote("insufficient liquidity"), nil
		},
	}
	svc := NewQuoteService(provider, testRegistry(t))

	quote, err := svc.GetQuote(context.Background(), crossChainRequest("ETH", "0.01"))
	require.NoError(t, err)
	assert.False(t, quote.Feasible)
	assert.Equal(t, []string{"insufficient liquidity"}, quote.Errors)
}

func TestGetQuoteProviderRejection(t *testing.T) {
	provider := &fakeProvider{
		precheck: func(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
			return nil, &types.ProviderError{Op: "precheck", StatusCode: http.StatusBadRequest, Message: "unsupported token"}
		},
	}
	svc := NewQuoteService(provider, testRegistry(t), WithQuoteBackOff(noRetry))

	quote, err := svc.GetQuote(context.Background(), crossChainRequest("ETH", "0.01"))
	require.NoError(t, err)
	assert.False(t, quote.Feasible)
	assert.Contains(t, quote.ErrorSummary(), "unsupported token")

	precheckCalls, _ := provider.calls()
	assert.Equal(t, 1, precheckCalls)
}

func TestGetQuoteRetriesTransientErrors(t *testing.T) {
	attempts := 0
	provider := &fakeProvider{
		precheck: func(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
			attempts++
			if attempts == 1 {
				return nil, &types.ProviderError{Op: "precheck", StatusCode: http.StatusServiceUnavailable}
			}
			return &types.Quote{Feasible: true}, nil
		},
	}
	svc := NewQuoteService(provider, testRegistry(t), WithQuoteBackOff(noRetry))

	quote, err := svc.GetQuote(context.Background(), crossChainRequest("ETH", "0.01"))
	require.NoError(t, err)
	assert.True(t, quote.Feasible)
	assert.Equal(t, 2, attempts)
}

func TestGetQuoteTimeout(t *testing.T) {
	provider := &fakeProvider{
		precheck: func(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
			<-ctx.Done()
			return nil, &types.ProviderError{Op: "precheck", Err: ctx.Err()}
		},
	}
	svc := NewQuoteService(provider, testRegistry(t), WithQuoteTimeout(20*time.Millisecond))

	quote, err := svc.GetQuote(context.Background(), crossChainRequest("ETH", "0.01"))
	require.NoError(t, err)
	assert.False(t, quote.Feasible)
	require.Len(t, quote.Errors, 1)
	assert.True(t, strings.HasPrefix(quote.Errors[0], types.QuoteTimeout))
}

func TestGetQuoteUnknownDestinationToken(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewQuoteService(provider, testRegistry(t))

	quote, err := svc.GetQuote(context.Background(), crossChainRequest("DAI", "1"))
	require.NoError(t, err)
	assert.False(t, quote.Feasible)

	precheckCalls, _ := provider.calls()
	assert.Equal(t, 0, precheckCalls)
}

func TestGetQuoteCancelled(t *testing.T) {
	provider := &fakeProvider{
		precheck: func(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
			<-ctx.Done()
			return nil, &types.ProviderError{Op: "precheck", Err: ctx.Err()}
		},
	}
	svc := NewQuoteService(provider, testRegistry(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := svc.GetQuote(ctx, crossChainRequest("ETH", "0.01"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollUntilFulfilled(t *testing.T) {
	provider := &fakeProvider{statuses: []statusResult{pending(), fulfilled()}}
	poller := NewPoller(provider, WithPollInterval(time.Millisecond))

	order, err := poller.PollUntilTerminal(context.Background(), "ord-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.OrderFulfilled, order.Status)
	assert.Equal(t, "ord-1", order.OrderID)
	assert.Equal(t, "0xdest", order.DestinationTxHash)

	_, statusCalls := provider.calls()
	assert.Equal(t, 2, statusCalls)
}

func TestPollUntilFailed(t *testing.T) {
	provider := &fakeProvider{statuses: []statusResult{
		pending(),
		{order: &types.BridgeOrder{Status: types.OrderFailed, ProviderStatus: "REFUNDED"}},
	}}
	poller := NewPoller(provider, WithPollInterval(time.Millisecond))

	order, err := poller.PollUntilTerminal(context.Background(), "ord-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.OrderFailed, order.Status)
	assert.Equal(t, "REFUNDED", order.ProviderStatus)
}

func TestPollNotIndexedCountsAsPending(t *testing.T) {
	notFound := statusResult{err: &types.ProviderError{Op: "order status", StatusCode: http.StatusNotFound, Err: types.ErrOrderNotFound}}
	provider := &fakeProvider{statuses: []statusResult{notFound, notFound, notFound, notFound, notFound, notFound, fulfilled()}}
	poller := NewPoller(provider, WithPollInterval(time.Millisecond), WithMaxConsecutiveErrors(2))

	order, err := poller.PollUntilTerminal(context.Background(), "ord-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.OrderFulfilled, order.Status)
}

func TestPollRecoversFromTransientErrors(t *testing.T) {
	provider := &fakeProvider{statuses: []statusResult{providerErr(502), providerErr(503), pending(), providerErr(500), fulfilled()}}
	poller := NewPoller(provider, WithPollInterval(time.Millisecond), WithMaxConsecutiveErrors(3))

	order, err := poller.PollUntilTerminal(context.Background(), "ord-1", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.OrderFulfilled, order.Status)

	_, statusCalls := provider.calls()
	assert.Equal(t, 5, statusCalls)
}

func TestPollStatusUnavailableAfterConsecutiveErrors(t *testing.T) {
	provider := &fakeProvider{statuses: []statusResult{pending(), providerErr(503)}}
	poller := NewPoller(provider, WithPollInterval(time.Millisecond), WithMaxConsecutiveErrors(3))

	order, err := poller.PollUntilTerminal(context.Background(), "ord-1", time.Now().Add(time.Minute))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStatusUnavailable)
	assert.Equal(t, types.OrderPending, order.Status)

	_, statusCalls := provider.calls()
	assert.Equal(t, 4, statusCalls)
}

func TestPollStatusUnavailableOnPermanentError(t *testing.T) {
	provider := &fakeProvider{statuses: []statusResult{providerErr(http.StatusUnauthorized)}}
	poller := NewPoller(provider, WithPollInterval(time.Millisecond))

	_, err := poller.PollUntilTerminal(context.Background(), "ord-1", time.Now().Add(time.Minute))
	assert.ErrorIs(t, err, ErrStatusUnavailable)

	_, statusCalls := provider.calls()
	assert.Equal(t, 1, statusCalls)
}

func TestPollTimesOutWhilePending(t *testing.T) {
	mock := clock.NewMock()
	provider := &fakeProvider{statuses: []statusResult{pending()}}
	poller := NewPoller(provider, WithClock(mock), WithPollInterval(30*time.Second))

	deadline := mock.Now().Add(2 * time.Minute)

	type result struct {
		order *types.BridgeOrder
		err   error
	}
	done := make(chan result, 1)
	go func() {
		order, err := poller.PollUntilTerminal(context.Background(), "ord-1", deadline)
		done <- result{order, err}
	}()

	var res result
	for finished := false; !finished; {
		select {
		case res = <-done:
			finished = true
		default:
			mock.Add(30 * time.Second)
			time.Sleep(time.Millisecond)
		}
	}

	require.Error(t, res.err)
	assert.True(t, errors.Is(res.err, ErrBridgeTimeout))
	assert.False(t, errors.Is(res.err, ErrStatusUnavailable))
	assert.Equal(t, types.OrderPending, res.order.Status)

	_, statusCalls := provider.calls()
	assert.GreaterOrEqual(t, statusCalls, 1)
	assert.LessOrEqual(t, statusCalls, 5)
}

func TestPollCancelledWhileWaiting(t *testing.T) {
	provider := &fakeProvider{statuses: []statusResult{pending()}}
	poller := NewPoller(provider, WithPollInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := poller.PollUntilTerminal(ctx, "ord-1", time.Now().Add(2*time.Hour))
	assert.ErrorIs(t, err, context.Canceled)
}

// hangingProvider never answers a status call before its context ends
type hangingProvider struct {
	fakeProvider
}

func (h *hangingProvider) OrderStatus(ctx context.Context, orderID string) (*types.BridgeOrder, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPollDeadlineBoundsHangingStatusCall(t *testing.T) {
	poller := NewPoller(&hangingProvider{}, WithPollInterval(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started := time.Now()
	order, err := poller.PollUntilTerminal(ctx, "ord-1", time.Now().Add(100*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBridgeTimeout)
	assert.NoError(t, ctx.Err())
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, types.OrderPending, order.Status)
	assert.Equal(t, "ord-1", order.OrderID)
}
