package deposit

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vault-deposit/pkg/chains"
	"vault-deposit/pkg/types"
)

// SettlementAdapter deposits bridged funds into the destination chain vault
type SettlementAdapter struct {
	executor
	signers SignerProvider
}

// NewSettlementAdapter creates a settlement adapter. Signers are requested
// per destination chain, so settlement never depends on the chain the
// connected wallet is showing.
func NewSettlementAdapter(signers SignerProvider, registry *chains.Registry, reader ChainReader, confirmer *Confirmer, opts ...Option) *SettlementAdapter {
	return &SettlementAdapter{
		executor: newExecutor(registry, reader, confirmer, opts),
		signers:  signers,
	}
}

// Settle deposits the amount that arrived through the bridge into the
// destination vault and returns the transaction hash. The destination signer
// has to control the recipient, which is where the bridge delivered the funds.
func (a *SettlementAdapter) Settle(ctx context.Context, order *types.BridgeOrder, req *types.DepositRequest, quote *types.Quote) (common.Hash, error) {
	dest, err := a.registry.Resolve(req.DestinationChainID)
	if err != nil {
		return common.Hash{}, err
	}

	token, err := a.registry.TokenOn(dest.ChainID, req.Token.Symbol)
	if err != nil {
		return common.Hash{}, err
	}

	amount, err := SettlementAmount(order, req, quote)
	if err != nil {
		return common.Hash{}, err
	}
	units, err := types.ToBaseUnits(amount.Truncate(int32(token.Decimals)), token.Decimals)
	if err != nil {
		return common.Hash{}, err
	}
	if units.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("nothing to settle for order %s", order.OrderID)
	}

	signer, err := a.signers.SignerFor(ctx, dest.ChainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get signer for chain %d: %w", dest.ChainID, err)
	}
	if signer.Address() != req.Recipient {
		return common.Hash{}, fmt.Errorf("destination signer %s does not control recipient %s", signer.Address().Hex(), req.Recipient.Hex())
	}

	tx, approval, err := a.vaultDeposit(ctx, signer, dest.ChainID, dest.Contracts.Vault, token, units)
	if err != nil {
		return common.Hash{}, withApproval(token, approval, err)
	}

	a.logger.Info("submitting settlement transaction",
		zap.Uint64("chain_id", dest.ChainID),
		zap.String("order_id", order.OrderID),
		zap.String("token", token.Symbol),
		zap.String("amount", amount.String()))

	hash, err := a.broadcast(ctx, signer, tx)
	return hash, withApproval(token, approval, err)
}

// SettlementAmount is what the bridge delivered: the order's reported
// output, else the quoted minimum, else the requested amount
func SettlementAmount(order *types.BridgeOrder, req *types.DepositRequest, quote *types.Quote) (decimal.Decimal, error) {
	if order != nil && order.AmountOut.IsPositive() {
		return order.AmountOut, nil
	}
	if quote != nil && quote.MinAmountOut.IsPositive() {
		return quote.MinAmountOut, nil
	}
	return req.ParsedAmount()
}
