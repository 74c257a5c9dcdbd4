package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-deposit/pkg/types"
)

func testPrecheckRequest() *types.PrecheckRequest {
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	return &types.PrecheckRequest{
		SourceChainID:      421614,
		DestinationChainID: 84532,
		SourceToken:        types.Token{Symbol: "ETH", Decimals: 18},
		DestinationToken:   types.Token{Symbol: "ETH", Decimals: 18},
		Amount:             decimal.RequireFromString("0.01"),
		SlippageBps:        50,
		Recipient:          recipient,
		Refund:             recipient,
	}
}

func TestPrecheckFeasible(t *testing.T) {
	var received map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/precheck", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"feasible": true,
			"errors": [],
			"estimatedTime": 90,
			"fee": "0.0001",
			"minAmountOut": "0.0098",
			"maxAmountOut": "0.0099",
			"orderId": "ord-1"
		}`))
	}))
	defer server.Close()

	c := NewBridgeClient(server.URL+"/", "secret")
	quote, err := c.Precheck(context.Background(), testPrecheckRequest())
	require.NoError(t, err)

	assert.True(t, quote.Feasible)
	assert.Equal(t, int64(90), quote.EstimatedSeconds)
	assert.True(t, quote.BridgeFee.Equal(decimal.RequireFromString("0.0001")))
	assert.True(t, quote.MinAmountOut.Equal(decimal.RequireFromString("0.0098")))
	assert.True(t, quote.MaxAmountOut.Equal(decimal.RequireFromString("0.0099")))
	assert.Equal(t, "ord-1", quote.OrderID)
	assert.False(t, quote.GasFeeKnown)

	assert.Equal(t, float64(421614), received["sourceChain"])
	assert.Equal(t, float64(84532), received["destinationChain"])
	assert.Equal(t, "0.01", received["amount"])
	assert.Equal(t, float64(50), received["slippage"])
	_, hasRefund := received["refundTo"]
	assert.False(t, hasRefund)
}

func TestPrecheckInfeasible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"feasible": false, "errors": [{"message": "insufficient liquidity"}]}`))
	}))
	defer server.Close()

	quote, err := NewBridgeClient(server.URL, "").Precheck(context.Background(), testPrecheckRequest())
	require.NoError(t, err)
	assert.False(t, quote.Feasible)
	assert.Equal(t, []string{"insufficient liquidity"}, quote.Errors)
}

func TestPrecheckNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "unsupported token"}`))
	}))
	defer server.Close()

	_, err := NewBridgeClient(server.URL, "").Precheck(context.Background(), testPrecheckRequest())
	require.Error(t, err)

	var perr *types.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusBadRequest, perr.StatusCode)
	assert.Equal(t, "unsupported token", perr.Message)
	assert.False(t, perr.Retryable())
}

func TestOrderStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order/0xabc", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"orderId": "0xabc",
			"status": "fulfilled",
			"sourceTxHash": "0x01",
			"destinationTxHash": "0x02",
			"amountOut": "0.0099"
		}`))
	}))
	defer server.Close()

	order, err := NewBridgeClient(server.URL, "").OrderStatus(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, types.OrderFulfilled, order.Status)
	assert.Equal(t, "0x02", order.DestinationTxHash)
	assert.True(t, order.AmountOut.Equal(decimal.RequireFromString("0.0099")))
}

func TestOrderStatusNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewBridgeClient(server.URL, "").OrderStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrOrderNotFound))
}

func TestOrderStatusServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	_, err := NewBridgeClient(server.URL, "", WithRateLimit(100)).OrderStatus(context.Background(), "ord")
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.Contains(t, err.Error(), "upstream down")
}
