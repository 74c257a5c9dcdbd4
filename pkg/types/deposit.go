package types

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token identifies an asset on one chain. The zero address is the chain's
// native asset.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// IsNative reports whether the token is the chain's native asset
func (t Token) IsNative() bool {
	return t.Address == (common.Address{})
}

// DepositRequest represents a user's deposit into a vault, possibly on another chain
type DepositRequest struct {
	Token              Token          `json:"token"`
	Amount             string         `json:"amount"`
	SourceChainID      uint64         `json:"source_chain_id"`
	DestinationChainID uint64         `json:"destination_chain_id"`
	Recipient          common.Address `json:"recipient"`
}

// IsCrossChain returns true if the deposit has to be bridged
func (r *DepositRequest) IsCrossChain() bool {
	return r.SourceChainID != r.DestinationChainID
}

// ParsedAmount parses the request amount as a decimal
func (r *DepositRequest) ParsedAmount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(r.Amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", r.Amount, err)
	}
	return amount, nil
}

// Quote holds a bridge provider's answer for a prospective transfer
type Quote struct {
	Feasible         bool            `json:"feasible"`
	Errors           []string        `json:"errors,omitempty"`
	EstimatedSeconds int64           `json:"estimated_seconds"`
	BridgeFee        decimal.Decimal `json:"bridge_fee"`
	MinAmountOut     decimal.Decimal `json:"min_amount_out"`
	MaxAmountOut     decimal.Decimal `json:"max_amount_out"`

	// Gas is paid through the wallet and is never part of a quote.
	GasFeeKnown bool `json:"gas_fee_known"`

	// Set by providers that assign the order before the deposit is sent.
	OrderID string `json:"order_id,omitempty"`
	// Set by providers that bridge funds sent to an address instead of a contract call.
	DepositAddress string `json:"deposit_address,omitempty"`
}

// QuoteTimeout prefixes the quote error recorded when the provider did not answer in time
const QuoteTimeout = "QuoteTimeout"

// SameChainQuote returns the quote used when no bridging is involved
func SameChainQuote(amount decimal.Decimal) *Quote {
	return &Quote{
		Feasible:     true,
		BridgeFee:    decimal.Zero,
		MinAmountOut: amount,
		MaxAmountOut: amount,
	}
}

// InfeasibleQuote builds a rejected quote carrying human-readable reasons
func InfeasibleQuote(reasons ...string) *Quote {
	return &Quote{
		Feasible: false,
		Errors:   reasons,
	}
}

// ErrorSummary joins the quote errors for display
func (q *Quote) ErrorSummary() string {
	if len(q.Errors) == 0 {
		return "quote is not feasible"
	}
	return strings.Join(q.Errors, "; ")
}

// PrecheckRequest is what the quote service sends to a bridge provider
type PrecheckRequest struct {
	SourceChainID      uint64
	DestinationChainID uint64
	SourceToken        Token
	DestinationToken   Token
	Amount             decimal.Decimal
	SlippageBps        int
	Recipient          common.Address
	Refund             common.Address

	// Provider-side chain names, for providers that do not key chains by id.
	SourceSlug      string
	DestinationSlug string
}
