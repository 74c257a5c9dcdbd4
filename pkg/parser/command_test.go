package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDepositCommand(t *testing.T) {
	tests := []struct {
		input string
		want  DepositCommand
	}{
		{"deposit 100 USDC", DepositCommand{Amount: "100", Symbol: "USDC"}},
		{"0.5 eth from arb to base", DepositCommand{Amount: "0.5", Symbol: "ETH", FromChain: "arb", ToChain: "base"}},
		{"25 usdc to 84532", DepositCommand{Amount: "25", Symbol: "USDC", ToChain: "84532"}},
		{"1 WETH from arbitrum sepolia", DepositCommand{Amount: "1", Symbol: "WETH", FromChain: "arbitrum sepolia"}},
		{"  deposit   2   usdc.e   to   base  ", DepositCommand{Amount: "2", Symbol: "USDC.E", ToChain: "base"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDepositCommand(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseDepositCommandRejects(t *testing.T) {
	for _, input := range []string{"", "deposit USDC", "-1 USDC", "1 USDC into base", "swap 1 SOL to USDC"} {
		_, err := ParseDepositCommand(input)
		assert.Error(t, err, input)
	}
}

func TestNormalizeTokenSymbolKeepsWrappedTokens(t *testing.T) {
	assert.Equal(t, "WETH", NormalizeTokenSymbol(" weth "))
	assert.Equal(t, "USDBC", NormalizeTokenSymbol("USDbC"))
	assert.Equal(t, "ETH", NormalizeTokenSymbol("eth"))
}
