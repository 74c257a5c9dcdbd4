package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// OrderStatus is the bridge provider's status of an order
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFulfilled OrderStatus = "fulfilled"
	OrderFailed    OrderStatus = "failed"
)

// IsTerminal returns true once the order can no longer change
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFulfilled || s == OrderFailed
}

// ParseOrderStatus maps provider status strings onto the three order states.
// Unknown values are treated as still pending.
func ParseOrderStatus(raw string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "FULFILLED", "SUCCESS", "COMPLETED", "COMPLETE", "DONE":
		return OrderFulfilled
	case "FAILED", "REFUNDED", "CANCELLED", "CANCELED", "EXPIRED":
		return OrderFailed
	default:
		return OrderPending
	}
}

// BridgeOrder tracks one in-flight cross-chain transfer
type BridgeOrder struct {
	OrderID           string          `json:"order_id"`
	SourceTxHash      string          `json:"source_tx_hash"`
	Status            OrderStatus     `json:"status"`
	DestinationTxHash string          `json:"destination_tx_hash,omitempty"`
	AmountOut         decimal.Decimal `json:"amount_out"`
	ProviderStatus    string          `json:"provider_status,omitempty"`
}
