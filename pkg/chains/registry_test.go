package chains

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-deposit/pkg/types"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()

	infos := Merge(DefaultChains(), []ChainInfo{
		{
			ChainID:   BaseSepolia,
			Contracts: Contracts{Vault: common.HexToAddress("0xbA5e000000000000000000000000000000000001")},
		},
		{
			ChainID: ArbitrumSepolia,
			Contracts: Contracts{
				Vault:  common.HexToAddress("0xA7b1000000000000000000000000000000000001"),
				Bridge: common.HexToAddress("0xA7b1000000000000000000000000000000000002"),
			},
		},
	})

	r, err := NewRegistry(infos)
	require.NoError(t, err)
	return r
}

func TestResolve(t *testing.T) {
	r := testRegistry(t)

	info, err := r.Resolve(BaseSepolia)
	require.NoError(t, err)
	assert.Equal(t, "Base Sepolia", info.DisplayName)
	assert.True(t, info.IsDeployed)

	info, err = r.Resolve(EthereumSepolia)
	require.NoError(t, err)
	assert.False(t, info.IsDeployed)

	_, err = r.Resolve(1)
	var unsupported *UnsupportedChainError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, uint64(1), unsupported.ChainID)
}

func TestIsCrossChain(t *testing.T) {
	r := testRegistry(t)

	assert.False(t, r.IsCrossChain(BaseSepolia, BaseSepolia))
	assert.True(t, r.IsCrossChain(ArbitrumSepolia, BaseSepolia))
}

func TestIsPairSupported(t *testing.T) {
	r := testRegistry(t)

	tests := []struct {
		name      string
		source    uint64
		dest      uint64
		supported bool
	}{
		{"same chain deployed", BaseSepolia, BaseSepolia, true},
		{"cross chain with bridge", ArbitrumSepolia, BaseSepolia, true},
		{"cross chain via provider slug", BaseSepolia, ArbitrumSepolia, true},
		{"destination not deployed", BaseSepolia, EthereumSepolia, false},
		{"source not deployed", EthereumSepolia, BaseSepolia, false},
		{"unknown chain", 1, BaseSepolia, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.supported, r.IsPairSupported(tt.source, tt.dest))
		})
	}
}

func TestCheckPairWithoutBridgeRoute(t *testing.T) {
	r, err := NewRegistry([]ChainInfo{
		{ChainID: 10, DisplayName: "a", Contracts: Contracts{Vault: common.HexToAddress("0x01")}},
		{ChainID: 20, DisplayName: "b", Contracts: Contracts{Vault: common.HexToAddress("0x02")}},
	})
	require.NoError(t, err)

	err = r.CheckPair(10, 20)
	var unsupported *UnsupportedChainError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "no bridge route", unsupported.Reason)

	assert.NoError(t, r.CheckPair(10, 10))
}

func TestCheckPairFollowsProviderRoute(t *testing.T) {
	infos := Merge(DefaultChains(), []ChainInfo{
		{ChainID: BaseSepolia, Contracts: Contracts{Vault: common.HexToAddress("0x01")}},
		{ChainID: ArbitrumSepolia, Contracts: Contracts{Vault: common.HexToAddress("0x02"), Bridge: common.HexToAddress("0x03")}},
	})

	contractOnly, err := NewRegistry(infos, WithRoute(RouteBridgeContract))
	require.NoError(t, err)
	assert.Equal(t, RouteBridgeContract, contractOnly.Route())
	assert.NoError(t, contractOnly.CheckPair(ArbitrumSepolia, BaseSepolia))

	err = contractOnly.CheckPair(BaseSepolia, ArbitrumSepolia)
	var unsupported *UnsupportedChainError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, BaseSepolia, unsupported.ChainID)
	assert.Contains(t, unsupported.Reason, "bridge contract")

	depositAddress, err := NewRegistry(infos, WithRoute(RouteDepositAddress))
	require.NoError(t, err)
	assert.NoError(t, depositAddress.CheckPair(BaseSepolia, ArbitrumSepolia))
	assert.NoError(t, depositAddress.CheckPair(ArbitrumSepolia, BaseSepolia))

	slugless := Merge(infos, nil)
	for i := range slugless {
		slugless[i].BridgeSlug = ""
	}
	noSlug, err := NewRegistry(slugless, WithRoute(RouteDepositAddress))
	require.NoError(t, err)
	assert.Error(t, noSlug.CheckPair(ArbitrumSepolia, BaseSepolia))
}

func TestTokenOn(t *testing.T) {
	r := testRegistry(t)

	usdc, err := r.TokenOn(BaseSepolia, "usdc")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), usdc.Decimals)
	assert.Equal(t, "USDC", usdc.Symbol)

	eth, err := r.TokenOn(ArbitrumSepolia, "ETH")
	require.NoError(t, err)
	assert.True(t, eth.IsNative())

	_, err = r.TokenOn(BaseSepolia, "DOGE")
	assert.Error(t, err)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]ChainInfo{{ChainID: 1}, {ChainID: 1}})
	assert.Error(t, err)

	_, err = NewRegistry([]ChainInfo{{DisplayName: "nameless"}})
	assert.Error(t, err)
}

func TestMergeOverridesTokens(t *testing.T) {
	merged := Merge(DefaultChains(), []ChainInfo{
		{
			ChainID: BaseSepolia,
			Tokens: map[string]types.Token{
				"weth": {Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Decimals: 18},
			},
		},
		{ChainID: 999, DisplayName: "Devnet"},
	})

	r, err := NewRegistry(merged)
	require.NoError(t, err)

	weth, err := r.TokenOn(BaseSepolia, "WETH")
	require.NoError(t, err)
	assert.Equal(t, "WETH", weth.Symbol)

	_, err = r.TokenOn(BaseSepolia, "USDC")
	assert.NoError(t, err)

	chains := r.Chains()
	require.Len(t, chains, 4)
	assert.Equal(t, uint64(999), chains[0].ChainID)
}

func TestLookup(t *testing.T) {
	r := testRegistry(t)

	for _, name := range []string{"84532", "base", "BASE", "Base Sepolia"} {
		info, err := r.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, BaseSepolia, info.ChainID)
	}

	_, err := r.Lookup("solana")
	assert.Error(t, err)

	_, err = r.Lookup("1")
	assert.Error(t, err)
}
