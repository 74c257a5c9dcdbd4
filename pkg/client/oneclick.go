package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vault-deposit/pkg/types"
)

const (
	oneClickSlippageBps = 100 // 1%
	oneClickQuoteTTL    = 24 * time.Hour
)

// OneClickClient adapts the NEAR Intents 1Click API to the bridge provider
// contract. 1Click bridges funds sent to a per-quote deposit address, so the
// deposit address doubles as the order id.
type OneClickClient struct {
	client *oneclick.APIClient
	token  string
	logger *zap.Logger
}

// NewOneClickClient creates a new 1Click API client
func NewOneClickClient(jwtToken, baseURL string, logger *zap.Logger) *OneClickClient {
	config := oneclick.NewConfiguration()
	config.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	if baseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: baseURL}}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &OneClickClient{
		client: oneclick.NewAPIClient(config),
		token:  jwtToken,
		logger: logger,
	}
}

func (c *OneClickClient) authContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oneclick.ContextAccessToken, c.token)
}

// findTokenOnChain searches for a token by symbol on a provider chain
func (c *OneClickClient) findTokenOnChain(ctx context.Context, symbol, chain string) (*oneclick.TokenResponse, error) {
	tokens, httpResp, err := c.client.OneClickAPI.GetTokens(c.authContext(ctx)).Execute()
	if err != nil {
		return nil, providerError("tokens", httpResp, err)
	}
	defer httpResp.Body.Close()

	symbol = strings.ToUpper(symbol)
	chain = strings.ToLower(chain)

	for _, token := range tokens {
		if strings.ToUpper(token.GetSymbol()) == symbol &&
			strings.ToLower(token.GetBlockchain()) == chain {
			return &token, nil
		}
	}

	return nil, fmt.Errorf("token '%s' not found on chain '%s'", symbol, chain)
}

// Precheck requests a live quote. An unknown token pair or an API rejection
// is reported through an infeasible quote.
func (c *OneClickClient) Precheck(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
	sourceToken, err := c.findTokenOnChain(ctx, req.SourceToken.Symbol, req.SourceSlug)
	if err != nil {
		var perr *types.ProviderError
		if errors.As(err, &perr) {
			return nil, err
		}
		return types.InfeasibleQuote(fmt.Sprintf("source token error: %v", err)), nil
	}

	destToken, err := c.findTokenOnChain(ctx, req.DestinationToken.Symbol, req.DestinationSlug)
	if err != nil {
		var perr *types.ProviderError
		if errors.As(err, &perr) {
			return nil, err
		}
		return types.InfeasibleQuote(fmt.Sprintf("destination token error: %v", err)), nil
	}

	units, err := types.ToBaseUnits(req.Amount, uint8(sourceToken.GetDecimals()))
	if err != nil {
		return types.InfeasibleQuote(err.Error()), nil
	}

	quoteReq := oneclick.NewQuoteRequest(
		false,                            // dry - false to get a real deposit address
		"EXACT_INPUT",                    // swapType
		oneClickSlippageBps,              // slippageTolerance
		sourceToken.GetAssetId(),         // originAsset
		"ORIGIN_CHAIN",                   // depositType
		destToken.GetAssetId(),           // destinationAsset
		units.String(),                   // amount in smallest unit
		req.Refund.Hex(),                 // refundTo
		"ORIGIN_CHAIN",                   // refundType
		req.Recipient.Hex(),              // recipient
		"DESTINATION_CHAIN",              // recipientType
		time.Now().Add(oneClickQuoteTTL), // deadline
	)

	resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.authContext(ctx)).QuoteRequest(*quoteReq).Execute()
	if err != nil {
		perr := providerError("quote", httpResp, err)
		if !perr.Retryable() {
			return types.InfeasibleQuote(perr.Error()), nil
		}
		return nil, perr
	}
	defer httpResp.Body.Close()

	if resp == nil {
		return nil, &types.ProviderError{Op: "quote", StatusCode: httpResp.StatusCode, Message: "empty quote response"}
	}

	details := resp.GetQuote()
	amountIn, _ := decimal.NewFromString(details.GetAmountInFormatted())
	amountOut, err := decimal.NewFromString(details.GetAmountOutFormatted())
	if err != nil {
		return nil, &types.ProviderError{Op: "quote", Message: fmt.Sprintf("invalid amount out %q", details.GetAmountOutFormatted())}
	}

	quote := &types.Quote{
		Feasible:         true,
		EstimatedSeconds: int64(details.GetTimeEstimate()),
		MinAmountOut:     amountOut,
		MaxAmountOut:     amountOut,
		OrderID:          details.GetDepositAddress(),
		DepositAddress:   details.GetDepositAddress(),
	}
	// The fee is only meaningful when both legs are the same asset.
	if strings.EqualFold(req.SourceToken.Symbol, req.DestinationToken.Symbol) && amountIn.GreaterThan(amountOut) {
		quote.BridgeFee = amountIn.Sub(amountOut)
	}

	c.logger.Debug("1click quote",
		zap.String("deposit_address", quote.DepositAddress),
		zap.String("amount_out", amountOut.String()),
		zap.Int64("eta_seconds", quote.EstimatedSeconds))

	return quote, nil
}

// OrderStatus checks the execution status of a swap by its deposit address
func (c *OneClickClient) OrderStatus(ctx context.Context, orderID string) (*types.BridgeOrder, error) {
	status, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.authContext(ctx)).DepositAddress(orderID).Execute()
	if err != nil {
		return nil, providerError("order status", httpResp, err)
	}
	defer httpResp.Body.Close()

	raw := string(status.GetStatus())
	order := &types.BridgeOrder{
		OrderID:        orderID,
		Status:         types.ParseOrderStatus(raw),
		ProviderStatus: raw,
	}

	details := status.GetSwapDetails()
	if originTxs := details.GetOriginChainTxHashes(); len(originTxs) > 0 {
		order.SourceTxHash = originTxs[0].GetHash()
	}
	if destTxs := details.GetDestinationChainTxHashes(); len(destTxs) > 0 {
		order.DestinationTxHash = destTxs[0].GetHash()
	}
	if details.HasAmountOutFormatted() {
		if out, err := decimal.NewFromString(details.GetAmountOutFormatted()); err == nil {
			order.AmountOut = out
		}
	}

	return order, nil
}

// NotifyDeposit submits the deposit transaction hash so 1Click can pick up
// the transfer without waiting for its own chain indexer.
func (c *OneClickClient) NotifyDeposit(ctx context.Context, order *types.BridgeOrder) error {
	req := oneclick.NewSubmitDepositTxRequest(order.OrderID, order.SourceTxHash)

	_, httpResp, err := c.client.OneClickAPI.SubmitDepositTx(c.authContext(ctx)).SubmitDepositTxRequest(*req).Execute()
	if err != nil {
		return providerError("submit deposit", httpResp, err)
	}
	defer httpResp.Body.Close()

	return nil
}

// providerError converts an SDK failure into a typed provider error, pulling
// the message out of the response body when there is one.
func providerError(op string, httpResp *http.Response, err error) *types.ProviderError {
	if httpResp == nil {
		return &types.ProviderError{Op: op, Err: err}
	}
	defer httpResp.Body.Close()

	perr := &types.ProviderError{Op: op, StatusCode: httpResp.StatusCode, Err: err}
	if httpResp.StatusCode == http.StatusNotFound {
		perr.Err = types.ErrOrderNotFound
	}

	bodyBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil || len(bodyBytes) == 0 {
		return perr
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok {
			perr.Message = message
			return perr
		}
		if errs, ok := errorResp["errors"]; ok {
			perr.Message = fmt.Sprintf("%v", errs)
			return perr
		}
	}
	perr.Message = strings.TrimSpace(string(bodyBytes))

	return perr
}
