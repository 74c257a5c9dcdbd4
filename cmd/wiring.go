package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vault-deposit/config"
	"vault-deposit/pkg/bridge"
	"vault-deposit/pkg/chains"
	"vault-deposit/pkg/client"
	"vault-deposit/pkg/deposit"
	"vault-deposit/pkg/history"
	"vault-deposit/pkg/orchestrator"
	"vault-deposit/pkg/parser"
	"vault-deposit/pkg/types"
)

// app holds what every command builds from the configuration
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *chains.Registry
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, registry: registry}, nil
}

// provider returns the configured bridge provider, and its deposit notifier
// when it has one
func (a *app) provider() (bridge.Provider, bridge.DepositNotifier, error) {
	if err := a.cfg.RequireBridge(); err != nil {
		return nil, nil, err
	}

	logger := a.logger.Named("bridge")

	switch a.cfg.Bridge.Provider {
	case config.ProviderHTTP:
		c := client.NewBridgeClient(a.cfg.Bridge.BaseURL, a.cfg.Bridge.APIKey,
			client.WithRateLimit(a.cfg.Bridge.RequestsPerSecond),
			client.WithLogger(logger))
		return c, nil, nil
	default:
		c := client.NewOneClickClient(a.cfg.Bridge.JWTToken, a.cfg.Bridge.BaseURL, logger)
		return c, c, nil
	}
}

func (a *app) quoteService(provider bridge.Provider) *bridge.QuoteService {
	return bridge.NewQuoteService(provider, a.registry,
		bridge.WithQuoteTimeout(a.cfg.Timeouts.Quote),
		bridge.WithSlippage(a.cfg.Bridge.SlippageBps),
		bridge.WithQuoteLogger(a.logger.Named("quote")))
}

func (a *app) poller(provider bridge.Provider) *bridge.Poller {
	return bridge.NewPoller(provider,
		bridge.WithPollInterval(a.cfg.Timeouts.PollInterval),
		bridge.WithPollerLogger(a.logger.Named("poller")))
}

func (a *app) historyStore() (*history.Store, error) {
	return history.NewStore(a.cfg.HistoryPath)
}

// wallet opens the configured key. The wallet starts on the configured
// chain, or on fallback when none is set.
func (a *app) wallet(fallback uint64) (*deposit.KeyWallet, *deposit.Clients, error) {
	if err := a.cfg.RequireWallet(); err != nil {
		return nil, nil, err
	}

	active := a.cfg.Wallet.ChainID
	if active == 0 {
		active = fallback
	}

	clients := deposit.NewClients(a.cfg.RPCURLs())
	wallet, err := deposit.NewKeyWallet(a.cfg.Wallet.PrivateKey, clients, active)
	if err != nil {
		clients.Close()
		return nil, nil, err
	}

	return wallet, clients, nil
}

// orchestrator wires every workflow component. The caller closes the clients.
func (a *app) orchestrator(wallet *deposit.KeyWallet, clients *deposit.Clients, crossChain bool) (*orchestrator.Orchestrator, error) {
	orchCfg, err := a.cfg.OrchestratorConfig()
	if err != nil {
		return nil, err
	}

	var (
		provider bridge.Provider
		notifier bridge.DepositNotifier
	)
	if crossChain {
		provider, notifier, err = a.provider()
		if err != nil {
			return nil, err
		}
	} else {
		// Same-chain deposits never reach the provider
		provider = unusedProvider{}
	}

	depositLogger := a.logger.Named("deposit")
	confirmer := deposit.NewConfirmer(clients,
		deposit.WithConfirmations(a.cfg.Timeouts.Confirmations),
		deposit.WithConfirmerLogger(depositLogger))

	components := orchestrator.Components{
		Registry:   a.registry,
		Signer:     wallet,
		Reader:     clients,
		Quotes:     a.quoteService(provider),
		Source:     deposit.NewSourceAdapter(wallet, a.registry, clients, confirmer, deposit.WithLogger(depositLogger)),
		Poller:     a.poller(provider),
		Settlement: deposit.NewSettlementAdapter(wallet, a.registry, clients, confirmer, deposit.WithLogger(depositLogger)),
		Confirmer:  confirmer,
		Notifier:   notifier,
	}

	return orchestrator.New(components, orchCfg, orchestrator.WithLogger(a.logger.Named("orchestrator")))
}

// buildRequest turns command arguments and flags into a deposit request.
// The destination defaults to the source chain.
func (a *app) buildRequest(args []string, fromFlag, toFlag string) (*types.DepositRequest, error) {
	parsed, err := parser.ParseDepositCommand(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}

	from := firstNonEmpty(fromFlag, parsed.FromChain)
	if from == "" && a.cfg.Wallet.ChainID != 0 {
		from = fmt.Sprint(a.cfg.Wallet.ChainID)
	}
	if from == "" {
		return nil, fmt.Errorf("source chain is required. Use --from-chain or 'from <chain>'")
	}
	to := firstNonEmpty(toFlag, parsed.ToChain, from)

	source, err := a.registry.Lookup(from)
	if err != nil {
		return nil, err
	}
	dest, err := a.registry.Lookup(to)
	if err != nil {
		return nil, err
	}

	token, err := a.registry.TokenOn(source.ChainID, parsed.Symbol)
	if err != nil {
		return nil, err
	}

	return &types.DepositRequest{
		Token:              token,
		Amount:             parsed.Amount,
		SourceChainID:      source.ChainID,
		DestinationChainID: dest.ChainID,
	}, nil
}

func (a *app) chainName(chainID uint64) string {
	info, err := a.registry.Resolve(chainID)
	if err != nil || info.DisplayName == "" {
		return fmt.Sprint(chainID)
	}
	return info.DisplayName
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var errNoBridge = errors.New("bridge provider is not configured for same-chain deposits")

// unusedProvider stands in for the bridge on same-chain deposits, which
// never call it
type unusedProvider struct{}

func (unusedProvider) Precheck(ctx context.Context, req *types.PrecheckRequest) (*types.Quote, error) {
	return nil, errNoBridge
}

func (unusedProvider) OrderStatus(ctx context.Context, orderID string) (*types.BridgeOrder, error) {
	return nil, errNoBridge
}
