package deposit

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Vault deposit entry point. Native deposits pass the zero address as token
// and send the amount as value.
const vaultABIJSON = `[{"inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"name":"deposit","outputs":[],"stateMutability":"payable","type":"function"}]`

// Bridge deposit-initiation entry point
const bridgeABIJSON = `[{"inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"destinationChainId","type":"uint256"},{"name":"recipient","type":"address"}],"name":"depositToChain","outputs":[],"stateMutability":"payable","type":"function"}]`

const erc20ABIJSON = `[
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var (
	vaultABI  = mustParseABI(vaultABIJSON)
	bridgeABI = mustParseABI(bridgeABIJSON)
	erc20ABI  = mustParseABI(erc20ABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

func packVaultDeposit(token common.Address, amount *big.Int) ([]byte, error) {
	data, err := vaultABI.Pack("deposit", token, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack deposit data: %w", err)
	}
	return data, nil
}

func packBridgeDeposit(token common.Address, amount *big.Int, destChainID uint64, recipient common.Address) ([]byte, error) {
	data, err := bridgeABI.Pack("depositToChain", token, amount, new(big.Int).SetUint64(destChainID), recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to pack depositToChain data: %w", err)
	}
	return data, nil
}

func packTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack transfer data: %w", err)
	}
	return data, nil
}

func packApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve data: %w", err)
	}
	return data, nil
}

// unpackUint256 decodes the single uint256 returned by balanceOf and allowance
func unpackUint256(method string, result []byte) (*big.Int, error) {
	values, err := erc20ABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s result: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s result length %d", method, len(values))
	}

	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return value, nil
}
