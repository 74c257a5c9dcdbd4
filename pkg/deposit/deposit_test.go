package deposit

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-deposit/pkg/chains"
	"vault-deposit/pkg/types"
)

var (
	testVaultBase = common.HexToAddress("0xbA5e000000000000000000000000000000000001")
	testVaultArb  = common.HexToAddress("0xA7b1000000000000000000000000000000000001")
	testBridgeArb = common.HexToAddress("0xA7b1000000000000000000000000000000000002")
	testUser      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testUSDCBase  = common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e")
)

type fakeSigner struct {
	mu       sync.Mutex
	address  common.Address
	chainID  uint64
	sendErrs []error
	attempts int
	sent     []*TxRequest
}

func (s *fakeSigner) Address() common.Address { return s.address }

func (s *fakeSigner) ChainID(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID, nil
}

func (s *fakeSigner) SwitchChain(ctx context.Context, chainID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chainID = chainID
	return nil
}

func (s *fakeSigner) SendTransaction(ctx context.Context, tx *TxRequest) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.attempts
	s.attempts++
	if i < len(s.sendErrs) && s.sendErrs[i] != nil {
		return common.Hash{}, s.sendErrs[i]
	}

	s.sent = append(s.sent, tx)
	return common.BigToHash(big.NewInt(int64(len(s.sent)))), nil
}

type fakeSignerProvider struct {
	signers map[uint64]*fakeSigner
}

func (p *fakeSignerProvider) SignerFor(ctx context.Context, chainID uint64) (Signer, error) {
	s, ok := p.signers[chainID]
	if !ok {
		return nil, errors.New("no signer")
	}
	return s, nil
}

type fakeReader struct {
	mu           sync.Mutex
	allowance    *big.Int
	head         uint64
	headStep     uint64
	receiptFor   func(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	reason       string
	receiptCalls int
}

func (r *fakeReader) BalanceOf(ctx context.Context, chainID uint64, token types.Token, owner common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (r *fakeReader) Allowance(ctx context.Context, chainID uint64, token, owner, spender common.Address) (*big.Int, error) {
	if r.allowance == nil {
		return big.NewInt(0), nil
	}
	return r.allowance, nil
}

func (r *fakeReader) TransactionReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*gethtypes.Receipt, error) {
	r.mu.Lock()
	r.receiptCalls++
	r.mu.Unlock()

	if r.receiptFor != nil {
		return r.receiptFor(ctx, hash)
	}
	return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10), TxHash: hash}, nil
}

func (r *fakeReader) BlockNumber(ctx context.Context, chainID uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	head := r.head
	r.head += r.headStep
	return head, nil
}

func (r *fakeReader) RevertReason(ctx context.Context, chainID uint64, hash common.Hash) (string, error) {
	return r.reason, nil
}

func testRegistry(t *testing.T) *chains.Registry {
	t.Helper()

	r, err := chains.NewRegistry(chains.Merge(chains.DefaultChains(), []chains.ChainInfo{
		{ChainID: chains.BaseSepolia, Contracts: chains.Contracts{Vault: testVaultBase}},
		{ChainID: chains.ArbitrumSepolia, Contracts: chains.Contracts{Vault: testVaultArb, Bridge: testBridgeArb}},
	}))
	require.NoError(t, err)
	return r
}

func zeroBackOff() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func newTestSource(t *testing.T, signer *fakeSigner, reader *fakeReader) *SourceAdapter {
	confirmer := NewConfirmer(reader, WithReceiptPollInterval(time.Millisecond))
	return NewSourceAdapter(signer, testRegistry(t), reader, confirmer, WithBackOff(zeroBackOff))
}

func unpackCall(t *testing.T, contract abi.ABI, method string, data []byte) []interface{} {
	t.Helper()

	m, ok := contract.Methods[method]
	require.True(t, ok)
	require.True(t, bytes.Equal(m.ID, data[:4]), "calldata does not call %s", method)

	args, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return args
}

func ethRequest(source, dest uint64) *types.DepositRequest {
	return &types.DepositRequest{
		Token:              types.Token{Symbol: "ETH", Decimals: 18},
		Amount:             "0.01",
		SourceChainID:      source,
		DestinationChainID: dest,
		Recipient:          testUser,
	}
}

func TestSubmitSameChainNative(t *testing.T) {
	signer := &fakeSigner{address: testUser, chainID: chains.BaseSepolia}
	source := newTestSource(t, signer, &fakeReader{})

	hash, err := source.Submit(context.Background(), ethRequest(chains.BaseSepolia, chains.BaseSepolia), types.SameChainQuote(decimal.RequireFromString("0.01")))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	require.Len(t, signer.sent, 1)
	tx := signer.sent[0]
	assert.Equal(t, testVaultBase, tx.To)
	assert.Equal(t, "10000000000000000", tx.Value.String())

	args := unpackCall(t, vaultABI, "deposit", tx.Data)
	assert.Equal(t, common.Address{}, args[0])
	assert.Equal(t, "10000000000000000", args[1].(*big.Int).String())
}

func TestSubmitSameChainERC20ApprovesFirst(t *testing.T) {
	signer := &fakeSigner{address: testUser, chainID: chains.BaseSepolia}
	source := newTestSource(t, signer, &fakeReader{allowance: big.NewInt(0)})

	req := &types.DepositRequest{
		Token:              types.Token{Address: testUSDCBase, Symbol: "USDC", Decimals: 6},
		Amount:             "100",
		SourceChainID:      chains.BaseSepolia,
		DestinationChainID: chains.BaseSepolia,
		Recipient:          testUser,
	}

	_, err := source.Submit(context.Background(), req, types.SameChainQuote(decimal.NewFromInt(100)))
	require.NoError(t, err)
	require.Len(t, signer.sent, 2)

	approve := signer.sent[0]
	assert.Equal(t, testUSDCBase, approve.To)
	args := unpackCall(t, erc20ABI, "approve", approve.Data)
	assert.Equal(t, testVaultBase, args[0])
	assert.Equal(t, "100000000", args[1].(*big.Int).String())

	deposit := signer.sent[1]
	assert.Equal(t, testVaultBase, deposit.To)
	assert.Equal(t, 0, deposit.Value.Sign())
	args = unpackCall(t, vaultABI, "deposit", deposit.Data)
	assert.Equal(t, testUSDCBase, args[0])
}

func TestSubmitFailureAfterApprovalNamesApproval(t *testing.T) {
	signer := &fakeSigner{address: testUser, chainID: chains.BaseSepolia, sendErrs: []error{nil, ErrUserRejected}}
	source := newTestSource(t, signer, &fakeReader{allowance: big.NewInt(0)})

	req := &types.DepositRequest{
		Token:              types.Token{Address: testUSDCBase, Symbol: "USDC", Decimals: 6},
		Amount:             "100",
		SourceChainID:      chains.BaseSepolia,
		DestinationChainID: chains.BaseSepolia,
		Recipient:          testUser,
	}

	_, err := source.Submit(context.Background(), req, nil)
	require.Error(t, err)

	var approval *ApprovalError
	require.True(t, errors.As(err, &approval))
	assert.Equal(t, common.BigToHash(big.NewInt(1)), approval.TxHash)
	assert.ErrorIs(t, err, ErrUserRejected)
	assert.True(t, IsPermanent(err))
	require.Len(t, signer.sent, 1)
	assert.Equal(t, testUSDCBase, signer.sent[0].To)
}

func TestSubmitSameChainERC20WithAllowance(t *testing.T) {
	signer := &fakeSigner{address: testUser, chainID: chains.BaseSepolia}
	source := newTestSource(t, signer, &fakeReader{allowance: big.NewInt(1_000_000_000)})

	req := &types.DepositRequest{
		Token:              types.Token{Address: testUSDCBase, Symbol: "USDC", Decimals: 6},
		Amount:             "100",
		SourceChainID:      chains.BaseSepolia,
		DestinationChainID: chains.BaseSepolia,
		Recipient:          testUser,
	}

	_, err := source.Submit(context.Background(), req, nil)
	require.NoError(t, err)
	require.Len(t, signer.sent, 1)
	assert.Equal(t, testVaultBase, signer.sent[0].To)
}

func TestSubmitCrossChainBridgeContract(t *testing.T) {
	signer := &fakeSigner{address: testUser, chainID: chains.ArbitrumSepolia}
	source := newTestSource(t, signer, &fakeReader{})

	_, err := source.Submit(context.Background(), ethRequest(chains.ArbitrumSepolia, chains.BaseSepolia), &types.Quote{Feasible: true})
	require.NoError(t, err)
	require.Len(t, signer.sent, 1)

	tx := signer.sent[0]
	assert.Equal(t, testBridgeArb, tx.To)
	assert.Equal(t, chains.ArbitrumSepolia, tx.ChainID)
	assert.Equal(t, "10000000000000000", tx.Value.String())

	args := unpackCall(t, bridgeABI, "depositToChain", tx.Data)
	assert.Equal(t, common.Address{}, args[0])
	assert.Equal(t, "10000000000000000", args[1].(*big.Int).String())
	assert.Equal(t, uint64(chains.BaseSepolia), args[2].(*big.Int).Uint64())
	assert.Equal(t, testUser, args[3])
}

func TestSubmitCrossChainDepositAddress(t *testing.T) {
	signer := &fakeSigner{address: testUser, chainID: chains.ArbitrumSepolia}
	source := newTestSource(t, signer, &fakeReader{})

	depositAddress := "0x00000000000000000000000000000000000000dd"
	quote := &types.Quote{Feasible: true, DepositAddress: depositAddress, OrderID: depositAddress}

	_, err := source.Submit(context.Background(), ethRequest(chains.ArbitrumSepolia, chains.BaseSepolia), quote)
	require.NoError(t, err)
	require.Len(t, signer.sent, 1)

	tx := signer.sent[0]
	assert.Equal(t, common.HexToAddress(depositAddress), tx.To)
	assert.Empty(t, tx.Data)
	assert.Equal(t, "10000000000000000", tx.Value.String())
}

func TestSubmitWrongNetwork(t *testing.T) {
	signer := &fakeSigner{address: testUser, chainID: chains.BaseSepolia}
	source := newTestSource(t, signer, &fakeReader{})

	_, err := source.Submit(context.Background(), ethRequest(chains.ArbitrumSepolia, chains.BaseSepolia), &types.Quote{Feasible: true})
	assert.ErrorIs(t, err, ErrWrongNetwork)
	assert.Empty(t, signer.sent)
}

func TestSubmitRetriesRPCFailures(t *testing.T) {
	signer := &fakeSigner{
		address:  testUser,
		chainID:  chains.BaseSepolia,
		sendErrs: []error{errors.New("connection reset by peer"), errors.New("502 bad gateway")},
	}
	source := newTestSource(t, signer, &fakeReader{})

	_, err := source.Submit(context.Background(), ethRequest(chains.BaseSepolia, chains.BaseSepolia), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, signer.attempts)
	assert.Len(t, signer.sent, 1)
}

func TestSubmitGivesUpAfterBoundedRetries(t *testing.T) {
	rpcErr := errors.New("connection refused")
	signer := &fakeSigner{
		address:  testUser,
		chainID:  chains.BaseSepolia,
		sendErrs: []error{rpcErr, rpcErr, rpcErr, rpcErr, rpcErr, rpcErr},
	}
	source := newTestSource(t, signer, &fakeReader{})

	_, err := source.Submit(context.Background(), ethRequest(chains.BaseSepolia, chains.BaseSepolia), nil)
	assert.ErrorIs(t, err, rpcErr)
	assert.Equal(t, 4, signer.attempts)
}

func TestSubmitDoesNotRetryPermanentFailures(t *testing.T) {
	for name, sendErr := range map[string]error{
		"user rejection": ErrUserRejected,
		"revert":         &RevertError{Reason: "vault paused"},
	} {
		t.Run(name, func(t *testing.T) {
			signer := &fakeSigner{address: testUser, chainID: chains.BaseSepolia, sendErrs: []error{sendErr}}
			source := newTestSource(t, signer, &fakeReader{})

			_, err := source.Submit(context.Background(), ethRequest(chains.BaseSepolia, chains.BaseSepolia), nil)
			require.Error(t, err)
			assert.True(t, IsPermanent(err))
			assert.Equal(t, 1, signer.attempts)
		})
	}
}

func TestSettleUsesDestinationSigner(t *testing.T) {
	destSigner := &fakeSigner{address: testUser, chainID: chains.BaseSepolia}
	signers := &fakeSignerProvider{signers: map[uint64]*fakeSigner{chains.BaseSepolia: destSigner}}
	reader := &fakeReader{}
	settlement := NewSettlementAdapter(signers, testRegistry(t), reader, NewConfirmer(reader), WithBackOff(zeroBackOff))

	order := &types.BridgeOrder{OrderID: "ord-1", Status: types.OrderFulfilled, AmountOut: decimal.RequireFromString("0.0099")}
	_, err := settlement.Settle(context.Background(), order, ethRequest(chains.ArbitrumSepolia, chains.BaseSepolia), &types.Quote{Feasible: true})
	require.NoError(t, err)

	require.Len(t, destSigner.sent, 1)
	tx := destSigner.sent[0]
	assert.Equal(t, chains.BaseSepolia, tx.ChainID)
	assert.Equal(t, testVaultBase, tx.To)
	assert.Equal(t, "9900000000000000", tx.Value.String())
}

func TestSettleRejectsForeignRecipient(t *testing.T) {
	destSigner := &fakeSigner{address: common.HexToAddress("0xbb"), chainID: chains.BaseSepolia}
	signers := &fakeSignerProvider{signers: map[uint64]*fakeSigner{chains.BaseSepolia: destSigner}}
	reader := &fakeReader{}
	settlement := NewSettlementAdapter(signers, testRegistry(t), reader, NewConfirmer(reader), WithBackOff(zeroBackOff))

	order := &types.BridgeOrder{OrderID: "ord-1", Status: types.OrderFulfilled}
	_, err := settlement.Settle(context.Background(), order, ethRequest(chains.ArbitrumSepolia, chains.BaseSepolia), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not control recipient")
	assert.Empty(t, destSigner.sent)
}

func TestSettlementAmount(t *testing.T) {
	req := ethRequest(chains.ArbitrumSepolia, chains.BaseSepolia)
	quote := &types.Quote{MinAmountOut: decimal.RequireFromString("0.0098")}

	amount, err := SettlementAmount(&types.BridgeOrder{AmountOut: decimal.RequireFromString("0.0099")}, req, quote)
	require.NoError(t, err)
	assert.Equal(t, "0.0099", amount.String())

	amount, err = SettlementAmount(&types.BridgeOrder{}, req, quote)
	require.NoError(t, err)
	assert.Equal(t, "0.0098", amount.String())

	amount, err = SettlementAmount(&types.BridgeOrder{}, req, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.01", amount.String())
}

func TestWaitForConfirmation(t *testing.T) {
	reader := &fakeReader{head: 10, headStep: 1}
	confirmer := NewConfirmer(reader, WithConfirmations(3), WithReceiptPollInterval(time.Millisecond))

	receipt, err := confirmer.WaitForConfirmation(context.Background(), chains.BaseSepolia, common.HexToHash("0x01"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, gethtypes.ReceiptStatusSuccessful, receipt.Status)
	assert.GreaterOrEqual(t, reader.receiptCalls, 3)
}

func TestWaitForConfirmationReverted(t *testing.T) {
	reader := &fakeReader{
		reason: "vault paused",
		receiptFor: func(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
			return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusFailed, BlockNumber: big.NewInt(5), TxHash: hash}, nil
		},
	}
	confirmer := NewConfirmer(reader)

	hash := common.HexToHash("0x02")
	_, err := confirmer.WaitForConfirmation(context.Background(), chains.BaseSepolia, hash, time.Second)

	var revert *RevertError
	require.True(t, errors.As(err, &revert))
	assert.Equal(t, "vault paused", revert.Reason)
	assert.Equal(t, hash, revert.TxHash)
}

func TestWaitForConfirmationTimeout(t *testing.T) {
	reader := &fakeReader{
		receiptFor: func(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
			return nil, ethereum.NotFound
		},
	}
	confirmer := NewConfirmer(reader, WithReceiptPollInterval(5*time.Millisecond))

	_, err := confirmer.WaitForConfirmation(context.Background(), chains.BaseSepolia, common.HexToHash("0x03"), 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
}

func TestWaitForConfirmationBoundsHangingRPC(t *testing.T) {
	reader := &fakeReader{
		receiptFor: func(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	confirmer := NewConfirmer(reader, WithReceiptPollInterval(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started := time.Now()
	_, err := confirmer.WaitForConfirmation(ctx, chains.BaseSepolia, common.HexToHash("0x04"), 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.NoError(t, ctx.Err())
	assert.Less(t, time.Since(started), 2*time.Second)
}

func TestRevertReason(t *testing.T) {
	reason, reverted := revertReason(errors.New("execution reverted: vault paused"))
	assert.True(t, reverted)
	assert.Equal(t, "vault paused", reason)

	reason, reverted = revertReason(errors.New("execution reverted"))
	assert.True(t, reverted)
	assert.Empty(t, reason)

	_, reverted = revertReason(errors.New("nonce too low"))
	assert.False(t, reverted)
}
