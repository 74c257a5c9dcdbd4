package chains

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"vault-deposit/pkg/types"
)

const (
	EthereumSepolia uint64 = 11155111
	BaseSepolia     uint64 = 84532
	ArbitrumSepolia uint64 = 421614
)

// DefaultChains returns the built-in chain metadata. Vault and bridge
// addresses are not part of it; they come from configuration, so every
// default chain starts out undeployed.
func DefaultChains() []ChainInfo {
	return []ChainInfo{
		{
			ChainID:     EthereumSepolia,
			DisplayName: "Ethereum Sepolia",
			BridgeSlug:  "eth",
			Tokens: map[string]types.Token{
				"ETH":  nativeETH(),
				"USDC": {Address: common.HexToAddress("0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"), Symbol: "USDC", Decimals: 6},
			},
		},
		{
			ChainID:     BaseSepolia,
			DisplayName: "Base Sepolia",
			BridgeSlug:  "base",
			Tokens: map[string]types.Token{
				"ETH":  nativeETH(),
				"USDC": {Address: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), Symbol: "USDC", Decimals: 6},
			},
		},
		{
			ChainID:     ArbitrumSepolia,
			DisplayName: "Arbitrum Sepolia",
			BridgeSlug:  "arb",
			Tokens: map[string]types.Token{
				"ETH":  nativeETH(),
				"USDC": {Address: common.HexToAddress("0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d"), Symbol: "USDC", Decimals: 6},
			},
		},
	}
}

// Merge overlays configured chains on top of base. Configured fields win
// when set; tokens are merged by symbol.
func Merge(base []ChainInfo, overrides []ChainInfo) []ChainInfo {
	index := make(map[uint64]int, len(base))
	merged := make([]ChainInfo, 0, len(base)+len(overrides))

	for _, info := range base {
		index[info.ChainID] = len(merged)
		merged = append(merged, copyChain(info))
	}

	for _, o := range overrides {
		i, exists := index[o.ChainID]
		if !exists {
			index[o.ChainID] = len(merged)
			merged = append(merged, copyChain(o))
			continue
		}

		c := &merged[i]
		if o.DisplayName != "" {
			c.DisplayName = o.DisplayName
		}
		if o.Contracts.Vault != (common.Address{}) {
			c.Contracts.Vault = o.Contracts.Vault
		}
		if o.Contracts.Bridge != (common.Address{}) {
			c.Contracts.Bridge = o.Contracts.Bridge
		}
		if o.BridgeSlug != "" {
			c.BridgeSlug = o.BridgeSlug
		}
		if o.RPCURL != "" {
			c.RPCURL = o.RPCURL
		}
		for symbol, token := range o.Tokens {
			c.Tokens[strings.ToUpper(symbol)] = token
		}
	}

	return merged
}

func copyChain(info ChainInfo) ChainInfo {
	tokens := make(map[string]types.Token, len(info.Tokens))
	for symbol, token := range info.Tokens {
		tokens[strings.ToUpper(symbol)] = token
	}
	info.Tokens = tokens
	return info
}

func nativeETH() types.Token {
	return types.Token{Symbol: "ETH", Decimals: 18}
}
