package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// DepositCommand is a parsed deposit instruction. Chains are left as
// written; the registry resolves them.
type DepositCommand struct {
	Amount    string
	Symbol    string
	FromChain string
	ToChain   string
}

var depositPattern = regexp.MustCompile(`^(\d+\.?\d*)\s+([A-Z0-9.]+)(?:\s+FROM\s+([A-Z0-9 ]+?))?(?:\s+TO\s+([A-Z0-9 ]+?))?$`)

// ParseDepositCommand parses a natural language deposit command
// Examples:
//   - "deposit 100 USDC"
//   - "0.5 ETH from arb to base"
//   - "25 usdc to 84532"
func ParseDepositCommand(command string) (*DepositCommand, error) {
	command = strings.Join(strings.Fields(strings.ToUpper(command)), " ")
	command = strings.TrimPrefix(command, "DEPOSIT ")

	matches := depositPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid deposit command format. Expected: 'deposit <amount> <token> [from <chain>] [to <chain>]' (e.g., 'deposit 0.5 ETH from arb to base')")
	}

	return &DepositCommand{
		Amount:    matches[1],
		Symbol:    NormalizeTokenSymbol(matches[2]),
		FromChain: strings.ToLower(matches[3]),
		ToChain:   strings.ToLower(matches[4]),
	}, nil
}

// NormalizeTokenSymbol normalizes token symbols to the registry's form.
// Wrapped and bridged variants such as WETH or USDC.e are distinct tokens and
// keep their own symbol.
func NormalizeTokenSymbol(symbol string) string {
	return strings.TrimSpace(strings.ToUpper(symbol))
}
