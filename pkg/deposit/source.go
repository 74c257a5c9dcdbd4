package deposit

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vault-deposit/pkg/chains"
	"vault-deposit/pkg/types"
)

// SourceAdapter submits the source chain transaction of a deposit through
// the connected signer
type SourceAdapter struct {
	executor
	signer Signer
}

// NewSourceAdapter creates a source adapter for the connected signer
func NewSourceAdapter(signer Signer, registry *chains.Registry, reader ChainReader, confirmer *Confirmer, opts ...Option) *SourceAdapter {
	return &SourceAdapter{
		executor: newExecutor(registry, reader, confirmer, opts),
		signer:   signer,
	}
}

// Submit broadcasts the source transaction and returns its hash. A failure
// after an ERC20 approval went out is an *ApprovalError.
//
// Same-chain deposits call the vault directly. Cross-chain deposits either
// transfer the funds to the deposit address the quote carries or call the
// bridge contract's depositToChain. The signer must already be on the source
// chain.
func (a *SourceAdapter) Submit(ctx context.Context, req *types.DepositRequest, quote *types.Quote) (common.Hash, error) {
	amount, err := req.ParsedAmount()
	if err != nil {
		return common.Hash{}, err
	}
	units, err := types.ToBaseUnits(amount, req.Token.Decimals)
	if err != nil {
		return common.Hash{}, err
	}

	active, err := a.signer.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get signer chain: %w", err)
	}
	if active != req.SourceChainID {
		return common.Hash{}, fmt.Errorf("%w: signer is on chain %d, deposit starts on chain %d", ErrWrongNetwork, active, req.SourceChainID)
	}

	source, err := a.registry.Resolve(req.SourceChainID)
	if err != nil {
		return common.Hash{}, err
	}

	var (
		tx       *TxRequest
		approval common.Hash
	)
	switch {
	case !req.IsCrossChain():
		tx, approval, err = a.vaultDeposit(ctx, a.signer, source.ChainID, source.Contracts.Vault, req.Token, units)
	case quote != nil && quote.DepositAddress != "":
		tx, err = a.depositAddressTransfer(quote.DepositAddress, source.ChainID, req.Token, units)
	default:
		tx, approval, err = a.bridgeDeposit(ctx, source, req, units)
	}
	if err != nil {
		return common.Hash{}, withApproval(req.Token, approval, err)
	}

	a.logger.Info("submitting source transaction",
		zap.Uint64("chain_id", source.ChainID),
		zap.Bool("cross_chain", req.IsCrossChain()),
		zap.String("token", req.Token.Symbol),
		zap.String("amount", amount.String()))

	hash, err := a.broadcast(ctx, a.signer, tx)
	return hash, withApproval(req.Token, approval, err)
}

// depositAddressTransfer sends the funds to a provider deposit address
func (a *SourceAdapter) depositAddressTransfer(depositAddress string, chainID uint64, token types.Token, amount *big.Int) (*TxRequest, error) {
	if !common.IsHexAddress(depositAddress) {
		return nil, fmt.Errorf("invalid deposit address: %s", depositAddress)
	}
	to := common.HexToAddress(depositAddress)

	if token.IsNative() {
		return &TxRequest{ChainID: chainID, To: to, Value: amount}, nil
	}

	data, err := packTransfer(to, amount)
	if err != nil {
		return nil, err
	}
	return &TxRequest{ChainID: chainID, To: token.Address, Data: data}, nil
}

// bridgeDeposit calls the bridge contract, approving it first for ERC20 tokens
func (a *SourceAdapter) bridgeDeposit(ctx context.Context, source chains.ChainInfo, req *types.DepositRequest, amount *big.Int) (*TxRequest, common.Hash, error) {
	bridge := source.Contracts.Bridge
	if bridge == (common.Address{}) {
		return nil, common.Hash{}, fmt.Errorf("no bridge contract on chain %d and the quote has no deposit address", source.ChainID)
	}

	approval, err := a.ensureAllowance(ctx, a.signer, source.ChainID, req.Token, bridge, amount)
	if err != nil {
		return nil, approval, err
	}

	data, err := packBridgeDeposit(req.Token.Address, amount, req.DestinationChainID, req.Recipient)
	if err != nil {
		return nil, approval, err
	}

	return &TxRequest{ChainID: source.ChainID, To: bridge, Value: nativeValue(req.Token, amount), Data: data}, approval, nil
}
