package deposit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"vault-deposit/pkg/types"
)

// Clients keeps one lazily dialed RPC connection per chain and serves as the
// ChainReader of the deposit workflow
type Clients struct {
	mu      sync.Mutex
	rpcURLs map[uint64]string
	clients map[uint64]*ethclient.Client
}

// NewClients creates the client set from chain id -> RPC URL
func NewClients(rpcURLs map[uint64]string) *Clients {
	urls := make(map[uint64]string, len(rpcURLs))
	for chainID, url := range rpcURLs {
		if url != "" {
			urls[chainID] = url
		}
	}

	return &Clients{
		rpcURLs: urls,
		clients: make(map[uint64]*ethclient.Client),
	}
}

// Has reports whether an RPC endpoint is configured for the chain
func (c *Clients) Has(chainID uint64) bool {
	_, ok := c.rpcURLs[chainID]
	return ok
}

// Client returns the connection for a chain, dialing it on first use
func (c *Clients) Client(ctx context.Context, chainID uint64) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[chainID]; ok {
		return client, nil
	}

	url, ok := c.rpcURLs[chainID]
	if !ok {
		return nil, fmt.Errorf("RPC URL not configured for chain %d", chainID)
	}

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint of chain %d: %w", chainID, err)
	}

	c.clients[chainID] = client
	return client, nil
}

// BalanceOf returns the native or ERC20 balance of owner in base units
func (c *Clients) BalanceOf(ctx context.Context, chainID uint64, token types.Token, owner common.Address) (*big.Int, error) {
	client, err := c.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}

	if token.IsNative() {
		balance, err := client.BalanceAt(ctx, owner, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return balance, nil
	}

	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf data: %w", err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &token.Address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	return unpackUint256("balanceOf", result)
}

// Allowance returns how much spender may pull from owner
func (c *Clients) Allowance(ctx context.Context, chainID uint64, token, owner, spender common.Address) (*big.Int, error) {
	client, err := c.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}

	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance data: %w", err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call allowance: %w", err)
	}

	return unpackUint256("allowance", result)
}

// TransactionReceipt returns the receipt of a mined transaction, or
// ethereum.NotFound while it is pending
func (c *Clients) TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*gethtypes.Receipt, error) {
	client, err := c.Client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	return client.TransactionReceipt(ctx, hash)
}

// BlockNumber returns the chain head
func (c *Clients) BlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	client, err := c.Client(ctx, chainID)
	if err != nil {
		return 0, err
	}
	return client.BlockNumber(ctx)
}

// RevertReason replays a failed transaction at its block to recover the
// revert message
func (c *Clients) RevertReason(ctx context.Context, chainID uint64, hash common.Hash) (string, error) {
	client, err := c.Client(ctx, chainID)
	if err != nil {
		return "", err
	}

	tx, _, err := client.TransactionByHash(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("failed to get transaction: %w", err)
	}
	receipt, err := client.TransactionReceipt(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return "", fmt.Errorf("failed to recover sender: %w", err)
	}

	msg := ethereum.CallMsg{
		From:  from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	_, callErr := client.CallContract(ctx, msg, receipt.BlockNumber)
	if callErr == nil {
		return "", nil
	}

	reason, _ := revertReason(callErr)
	return reason, nil
}

// Close closes every open connection
func (c *Clients) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for chainID, client := range c.clients {
		client.Close()
		delete(c.clients, chainID)
	}
}

// revertReason extracts the revert message from an RPC error. The second
// result reports whether the error was a revert at all.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason, true
				}
			}
		}
	}

	if strings.Contains(strings.ToLower(err.Error()), "execution reverted") {
		msg := err.Error()
		if i := strings.Index(msg, "execution reverted:"); i >= 0 {
			return strings.TrimSpace(msg[i+len("execution reverted:"):]), true
		}
		return "", true
	}

	return "", false
}
