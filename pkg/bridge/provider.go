// Package bridge talks to the external bridge provider on behalf of a deposit
// workflow: it asks for quotes before anything is signed and follows bridge
// orders until the provider reports a final status.
package bridge

import (
	"context"

	"vault-deposit/pkg/types"
)

// Provider is the bridge provider API consumed by the quote service and the poller
type Provider interface {
	Precheck(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error)
	OrderStatus(ctx context.Context, orderID string) (*types.BridgeOrder, error)
}

// DepositNotifier is implemented by providers that want to be told about the
// source transaction instead of discovering it on their own.
type DepositNotifier interface {
	NotifyDeposit(ctx context.Context, order *types.BridgeOrder) error
}
