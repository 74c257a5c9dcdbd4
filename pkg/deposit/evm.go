package deposit

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	nativeTransferGas = uint64(21000)
	gasBufferPercent  = 120
)

// KeyWallet is a Signer backed by a local private key. It plays the role of
// the connected browser wallet for the CLI: it has an active chain that
// SwitchChain moves, and it signs with EIP-155 for whatever chain is active.
type KeyWallet struct {
	clients    *Clients
	privateKey *ecdsa.PrivateKey
	address    common.Address

	mu      sync.Mutex
	chainID uint64
}

// NewKeyWallet creates a wallet from a hex private key, connected to activeChain
func NewKeyWallet(hexKey string, clients *Clients, activeChain uint64) (*KeyWallet, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("private key not configured")
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to get public key")
	}

	return &KeyWallet{
		clients:    clients,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKeyECDSA),
		chainID:    activeChain,
	}, nil
}

// Address returns the wallet address
func (w *KeyWallet) Address() common.Address {
	return w.address
}

// ChainID returns the chain the wallet is connected to
func (w *KeyWallet) ChainID(ctx context.Context) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.chainID, nil
}

// SwitchChain connects the wallet to another chain. The switch only succeeds
// when the chain's RPC endpoint answers with the expected chain id.
func (w *KeyWallet) SwitchChain(ctx context.Context, chainID uint64) error {
	client, err := w.clients.Client(ctx, chainID)
	if err != nil {
		return err
	}

	remote, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain id: %w", err)
	}
	if remote.Uint64() != chainID {
		return fmt.Errorf("RPC endpoint reports chain %d, expected %d", remote.Uint64(), chainID)
	}

	w.mu.Lock()
	w.chainID = chainID
	w.mu.Unlock()

	return nil
}

// SendTransaction signs and broadcasts a transaction on the active chain
func (w *KeyWallet) SendTransaction(ctx context.Context, tx *TxRequest) (common.Hash, error) {
	active, _ := w.ChainID(ctx)
	if tx.ChainID != active {
		return common.Hash{}, fmt.Errorf("%w: wallet is on chain %d, transaction targets chain %d", ErrWrongNetwork, active, tx.ChainID)
	}
	return w.sendOn(ctx, tx)
}

// SignerFor returns a signer that always sends on chainID, leaving the
// wallet's active chain untouched
func (w *KeyWallet) SignerFor(ctx context.Context, chainID uint64) (Signer, error) {
	if !w.clients.Has(chainID) {
		return nil, fmt.Errorf("RPC URL not configured for chain %d", chainID)
	}
	return &pinnedSigner{wallet: w, chainID: chainID}, nil
}

func (w *KeyWallet) sendOn(ctx context.Context, req *TxRequest) (common.Hash, error) {
	client, err := w.clients.Client(ctx, req.ChainID)
	if err != nil {
		return common.Hash{}, err
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	// Get nonce
	nonce, err := client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	// Get gas price
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit := nativeTransferGas
	if len(req.Data) > 0 {
		msg := ethereum.CallMsg{
			From:  w.address,
			To:    &req.To,
			Value: value,
			Data:  req.Data,
		}
		estimatedGas, err := client.EstimateGas(ctx, msg)
		if err != nil {
			if reason, reverted := revertReason(err); reverted {
				return common.Hash{}, &RevertError{Reason: reason}
			}
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimatedGas * gasBufferPercent / 100
	}

	tx := gethtypes.NewTransaction(nonce, req.To, value, gasLimit, gasPrice, req.Data)

	chainID := new(big.Int).SetUint64(req.ChainID)
	signedTx, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(chainID), w.privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash(), nil
}

type pinnedSigner struct {
	wallet  *KeyWallet
	chainID uint64
}

func (s *pinnedSigner) Address() common.Address {
	return s.wallet.address
}

func (s *pinnedSigner) ChainID(ctx context.Context) (uint64, error) {
	return s.chainID, nil
}

func (s *pinnedSigner) SwitchChain(ctx context.Context, chainID uint64) error {
	if chainID != s.chainID {
		return fmt.Errorf("%w: signer is pinned to chain %d", ErrWrongNetwork, s.chainID)
	}
	return nil
}

func (s *pinnedSigner) SendTransaction(ctx context.Context, tx *TxRequest) (common.Hash, error) {
	if tx.ChainID != s.chainID {
		return common.Hash{}, fmt.Errorf("%w: signer is pinned to chain %d, transaction targets chain %d", ErrWrongNetwork, s.chainID, tx.ChainID)
	}
	return s.wallet.sendOn(ctx, tx)
}
