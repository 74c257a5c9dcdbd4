package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vault-deposit/pkg/types"
)

const defaultHTTPTimeout = 30 * time.Second

// BridgeClient talks to a bridge provider exposing the plain JSON API:
// POST /precheck for quotes and GET /order/{id} for order status.
// All amounts on the wire are decimal strings in whole-token units.
type BridgeClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// BridgeOption customizes a BridgeClient
type BridgeOption func(*BridgeClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) BridgeOption {
	return func(b *BridgeClient) { b.http = c }
}

// WithRateLimit caps the number of provider requests per second
func WithRateLimit(perSecond float64) BridgeOption {
	return func(b *BridgeClient) {
		if perSecond > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithLogger sets the logger used for request tracing
func WithLogger(logger *zap.Logger) BridgeOption {
	return func(b *BridgeClient) { b.logger = logger }
}

// NewBridgeClient creates a new bridge provider client
func NewBridgeClient(baseURL, apiKey string, opts ...BridgeOption) *BridgeClient {
	c := &BridgeClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultHTTPTimeout},
		limiter: rate.NewLimiter(rate.Inf, 1),
		logger:  zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type precheckBody struct {
	SourceChain      uint64 `json:"sourceChain"`
	DestinationChain uint64 `json:"destinationChain"`
	SourceToken      string `json:"sourceToken"`
	DestinationToken string `json:"destinationToken"`
	Amount           string `json:"amount"`
	Slippage         int    `json:"slippage"`
	Recipient        string `json:"recipient"`
	RefundTo         string `json:"refundTo,omitempty"`
}

// Precheck asks the provider whether a transfer is feasible and what it costs.
// A provider-reported infeasibility is returned as a quote, not an error.
func (c *BridgeClient) Precheck(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
	body := precheckBody{
		SourceChain:      req.SourceChainID,
		DestinationChain: req.DestinationChainID,
		SourceToken:      req.SourceToken.Address.Hex(),
		DestinationToken: req.DestinationToken.Address.Hex(),
		Amount:           req.Amount.String(),
		Slippage:         req.SlippageBps,
		Recipient:        req.Recipient.Hex(),
	}
	if req.Refund != req.Recipient {
		body.RefundTo = req.Refund.Hex()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode precheck request: %w", err)
	}

	data, err := c.do(ctx, "precheck", http.MethodPost, "/precheck", payload)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(data) {
		return nil, &types.ProviderError{Op: "precheck", Message: "invalid JSON response"}
	}
	result := gjson.ParseBytes(data)

	quote := &types.Quote{
		Feasible:         result.Get("feasible").Bool(),
		Errors:           readErrors(result.Get("errors")),
		EstimatedSeconds: result.Get("estimatedTime").Int(),
		OrderID:          result.Get("orderId").String(),
		DepositAddress:   result.Get("depositAddress").String(),
	}

	if quote.BridgeFee, err = readDecimal(result, "fee"); err != nil {
		return nil, err
	}
	if quote.MinAmountOut, err = readDecimal(result, "minAmountOut"); err != nil {
		return nil, err
	}
	if quote.MaxAmountOut, err = readDecimal(result, "maxAmountOut"); err != nil {
		return nil, err
	}

	if !quote.Feasible && len(quote.Errors) == 0 {
		quote.Errors = []string{"provider reported the transfer as infeasible"}
	}

	return quote, nil
}

// OrderStatus fetches the provider's view of an order. Orders the provider
// has not indexed yet yield an error matching types.ErrOrderNotFound.
func (c *BridgeClient) OrderStatus(ctx context.Context, orderID string) (*types.BridgeOrder, error) {
	data, err := c.do(ctx, "order status", http.MethodGet, "/order/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(data) {
		return nil, &types.ProviderError{Op: "order status", Message: "invalid JSON response"}
	}
	result := gjson.ParseBytes(data)

	raw := result.Get("status").String()
	order := &types.BridgeOrder{
		OrderID:           orderID,
		SourceTxHash:      result.Get("sourceTxHash").String(),
		Status:            types.ParseOrderStatus(raw),
		DestinationTxHash: result.Get("destinationTxHash").String(),
		ProviderStatus:    raw,
	}
	if id := result.Get("orderId").String(); id != "" {
		order.OrderID = id
	}
	if order.AmountOut, err = readDecimal(result, "amountOut"); err != nil {
		return nil, err
	}

	return order, nil
}

// do performs one rate-limited request and returns the body of a 2xx response
func (c *BridgeClient) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &types.ProviderError{Op: op, Err: err}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &types.ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.ProviderError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("bridge provider request",
		zap.String("op", op),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := &types.ProviderError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
		if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
			perr.Err = types.ErrOrderNotFound
		}
		return nil, perr
	}

	return data, nil
}

// errorMessage extracts a readable message from an error body
func errorMessage(data []byte) string {
	if !gjson.ValidBytes(data) {
		return strings.TrimSpace(string(data))
	}

	result := gjson.ParseBytes(data)
	if msg := result.Get("message").String(); msg != "" {
		return msg
	}
	if msg := result.Get("error").String(); msg != "" {
		return msg
	}
	if errs := readErrors(result.Get("errors")); len(errs) > 0 {
		return strings.Join(errs, "; ")
	}

	return strings.TrimSpace(string(data))
}

// readErrors accepts both ["msg"] and [{"message": "msg"}]
func readErrors(value gjson.Result) []string {
	var out []string
	value.ForEach(func(_, item gjson.Result) bool {
		msg := item.String()
		if item.IsObject() {
			msg = item.Get("message").String()
		}
		if msg != "" {
			out = append(out, msg)
		}
		return true
	})
	return out
}

func readDecimal(result gjson.Result, field string) (decimal.Decimal, error) {
	value := result.Get(field)
	if !value.Exists() || value.String() == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(value.String())
	if err != nil {
		return decimal.Zero, &types.ProviderError{Op: "decode", Message: fmt.Sprintf("invalid %s %q", field, value.String())}
	}

	return d, nil
}
