package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"vault-deposit/pkg/bridge"
	"vault-deposit/pkg/chains"
	"vault-deposit/pkg/deposit"
	"vault-deposit/pkg/orchestrator"
	"vault-deposit/pkg/types"
)

const (
	ProviderOneClick = "oneclick"
	ProviderHTTP     = "http"
)

// Config holds the application configuration
type Config struct {
	Bridge      BridgeConfig      `mapstructure:"bridge"`
	Wallet      WalletConfig      `mapstructure:"wallet"`
	Chains      []ChainConfig     `mapstructure:"chains"`
	MinAmounts  map[string]string `mapstructure:"min_amounts"`
	Timeouts    TimeoutConfig     `mapstructure:"timeouts"`
	HistoryPath string            `mapstructure:"history_path"`
}

// BridgeConfig selects and configures the bridge provider
type BridgeConfig struct {
	Provider          string  `mapstructure:"provider"` // "oneclick" or "http"
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	JWTToken          string  `mapstructure:"jwt_token"`
	SlippageBps       int     `mapstructure:"slippage_bps"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// WalletConfig holds the signing key. ChainID is the network the wallet
// starts on; zero means the source chain of the first deposit.
type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	ChainID    uint64 `mapstructure:"chain_id"`
}

// ChainConfig overlays deployment data on a built-in chain or adds a new one
type ChainConfig struct {
	ChainID    uint64                 `mapstructure:"chain_id"`
	Name       string                 `mapstructure:"name"`
	RPCURL     string                 `mapstructure:"rpc_url"`
	Vault      string                 `mapstructure:"vault"`
	Bridge     string                 `mapstructure:"bridge"`
	BridgeSlug string                 `mapstructure:"bridge_slug"`
	Tokens     map[string]TokenConfig `mapstructure:"tokens"`
}

// TokenConfig is an ERC20 deployment. An empty address is the native asset.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// TimeoutConfig bounds every waiting step of a workflow
type TimeoutConfig struct {
	Quote                   time.Duration `mapstructure:"quote"`
	Switch                  time.Duration `mapstructure:"switch"`
	SourceConfirmation      time.Duration `mapstructure:"source_confirmation"`
	BridgeDeadline          time.Duration `mapstructure:"bridge_deadline"`
	PollInterval            time.Duration `mapstructure:"poll_interval"`
	DestinationConfirmation time.Duration `mapstructure:"destination_confirmation"`
	Confirmations           uint64        `mapstructure:"confirmations"`
}

// Load reads configuration from environment variables and config file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".vault-deposit")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes the configuration held by v, applying defaults and
// VAULT_DEPOSIT_* environment overrides
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("VAULT_DEPOSIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Bridge.Provider = strings.ToLower(strings.TrimSpace(cfg.Bridge.Provider))
	switch cfg.Bridge.Provider {
	case ProviderOneClick, ProviderHTTP:
	default:
		return nil, fmt.Errorf("unknown bridge provider %q (expected %q or %q)", cfg.Bridge.Provider, ProviderOneClick, ProviderHTTP)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bridge.provider", ProviderOneClick)
	v.SetDefault("bridge.base_url", "https://1click.chaindefuser.com")
	v.SetDefault("bridge.api_key", "")
	v.SetDefault("bridge.jwt_token", "")
	v.SetDefault("bridge.slippage_bps", bridge.DefaultSlippageBps)
	v.SetDefault("bridge.requests_per_second", 5)

	v.SetDefault("wallet.private_key", "")
	v.SetDefault("wallet.chain_id", 0)

	v.SetDefault("min_amounts", map[string]string{
		"USDC": "1",
		"ETH":  "0.001",
	})

	v.SetDefault("timeouts.quote", bridge.DefaultQuoteTimeout)
	v.SetDefault("timeouts.switch", time.Minute)
	v.SetDefault("timeouts.source_confirmation", deposit.DefaultConfirmationTimeout)
	v.SetDefault("timeouts.bridge_deadline", bridge.DefaultBridgeDeadline)
	v.SetDefault("timeouts.poll_interval", bridge.DefaultPollInterval)
	v.SetDefault("timeouts.destination_confirmation", deposit.DefaultConfirmationTimeout)
	v.SetDefault("timeouts.confirmations", 1)

	v.SetDefault("history_path", "")
}

// RequireBridge checks the credentials of the selected bridge provider
func (c *Config) RequireBridge() error {
	switch c.Bridge.Provider {
	case ProviderOneClick:
		if c.Bridge.JWTToken == "" {
			return fmt.Errorf("JWT token not found. Please set VAULT_DEPOSIT_BRIDGE_JWT_TOKEN or bridge.jwt_token in .vault-deposit.yaml")
		}
	case ProviderHTTP:
		if c.Bridge.BaseURL == "" {
			return fmt.Errorf("bridge base URL not found. Please set VAULT_DEPOSIT_BRIDGE_BASE_URL or bridge.base_url in .vault-deposit.yaml")
		}
	}
	return nil
}

// RequireWallet checks that a signing key is configured
func (c *Config) RequireWallet() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("private key not found. Please set VAULT_DEPOSIT_WALLET_PRIVATE_KEY or wallet.private_key in .vault-deposit.yaml")
	}
	return nil
}

// ChainInfos converts the configured chains into registry entries
func (c *Config) ChainInfos() ([]chains.ChainInfo, error) {
	infos := make([]chains.ChainInfo, 0, len(c.Chains))

	for _, cc := range c.Chains {
		if cc.ChainID == 0 {
			return nil, fmt.Errorf("chain %q has no chain_id", cc.Name)
		}

		vault, err := parseAddress(cc.Vault)
		if err != nil {
			return nil, fmt.Errorf("chain %d vault: %w", cc.ChainID, err)
		}
		bridgeAddr, err := parseAddress(cc.Bridge)
		if err != nil {
			return nil, fmt.Errorf("chain %d bridge: %w", cc.ChainID, err)
		}

		tokens := make(map[string]types.Token, len(cc.Tokens))
		for symbol, tc := range cc.Tokens {
			address, err := parseAddress(tc.Address)
			if err != nil {
				return nil, fmt.Errorf("chain %d token %s: %w", cc.ChainID, symbol, err)
			}
			symbol = strings.ToUpper(symbol)
			tokens[symbol] = types.Token{Address: address, Symbol: symbol, Decimals: tc.Decimals}
		}

		infos = append(infos, chains.ChainInfo{
			ChainID:     cc.ChainID,
			DisplayName: cc.Name,
			Contracts:   chains.Contracts{Vault: vault, Bridge: bridgeAddr},
			Tokens:      tokens,
			BridgeSlug:  cc.BridgeSlug,
			RPCURL:      cc.RPCURL,
		})
	}

	return infos, nil
}

// Registry builds the chain registry: built-in chains with the configured
// chains laid over them
func (c *Config) Registry() (*chains.Registry, error) {
	infos, err := c.ChainInfos()
	if err != nil {
		return nil, err
	}
	return chains.NewRegistry(chains.Merge(chains.DefaultChains(), infos), chains.WithRoute(c.BridgeRoute()))
}

// BridgeRoute is the way the configured provider moves funds off the source
// chain. 1Click issues deposit addresses; the HTTP provider relies on the
// bridge contract.
func (c *Config) BridgeRoute() chains.Route {
	if c.Bridge.Provider == ProviderHTTP {
		return chains.RouteBridgeContract
	}
	return chains.RouteDepositAddress
}

// RPCURLs maps chain ids to their configured endpoints
func (c *Config) RPCURLs() map[uint64]string {
	urls := make(map[uint64]string, len(c.Chains))
	for _, cc := range c.Chains {
		if cc.RPCURL != "" {
			urls[cc.ChainID] = cc.RPCURL
		}
	}
	return urls
}

// OrchestratorConfig converts the limits into the orchestrator's settings
func (c *Config) OrchestratorConfig() (orchestrator.Config, error) {
	minAmounts := make(map[string]decimal.Decimal, len(c.MinAmounts))
	for symbol, raw := range c.MinAmounts {
		min, err := decimal.NewFromString(raw)
		if err != nil {
			return orchestrator.Config{}, fmt.Errorf("invalid minimum %q for %s: %w", raw, symbol, err)
		}
		if min.IsNegative() {
			return orchestrator.Config{}, fmt.Errorf("minimum for %s is negative", symbol)
		}
		minAmounts[strings.ToUpper(symbol)] = min
	}

	return orchestrator.Config{
		MinAmounts:                     minAmounts,
		SwitchTimeout:                  c.Timeouts.Switch,
		SourceConfirmationTimeout:      c.Timeouts.SourceConfirmation,
		BridgeDeadline:                 c.Timeouts.BridgeDeadline,
		DestinationConfirmationTimeout: c.Timeouts.DestinationConfirmation,
	}, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}
