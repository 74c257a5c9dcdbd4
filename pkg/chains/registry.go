// Package chains holds the static deployment metadata of every chain the
// vault is available on. The registry is built once at startup and is only
// read afterwards, so it is safe to share between workflows.
package chains

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"vault-deposit/pkg/types"
)

// Contracts are the vault deployments on one chain
type Contracts struct {
	Vault  common.Address `json:"vault"`
	Bridge common.Address `json:"bridge"`
}

// ChainInfo describes one supported chain
type ChainInfo struct {
	ChainID     uint64                 `json:"chain_id"`
	DisplayName string                 `json:"display_name"`
	IsDeployed  bool                   `json:"is_deployed"`
	Contracts   Contracts              `json:"contracts"`
	Tokens      map[string]types.Token `json:"tokens"`
	BridgeSlug  string                 `json:"bridge_slug,omitempty"` // chain name used by the bridge provider
	RPCURL      string                 `json:"-"`
}

// Route is how funds leave the source chain of a cross-chain deposit
type Route int

const (
	// RouteAny accepts either a bridge contract or a provider deposit address
	RouteAny Route = iota
	// RouteDepositAddress transfers to a deposit address the provider issues
	// per quote. The provider must know the chain by its bridge slug.
	RouteDepositAddress
	// RouteBridgeContract calls the chain's bridge contract
	RouteBridgeContract
)

func (r Route) String() string {
	switch r {
	case RouteDepositAddress:
		return "deposit address"
	case RouteBridgeContract:
		return "bridge contract"
	default:
		return "any"
	}
}

// SupportsBridging reports whether deposits can leave this chain through the bridge
func (c ChainInfo) SupportsBridging() bool {
	return c.SupportsRoute(RouteAny)
}

// SupportsRoute reports whether deposits can leave this chain by route
func (c ChainInfo) SupportsRoute(route Route) bool {
	hasContract := c.Contracts.Bridge != (common.Address{})
	hasSlug := c.BridgeSlug != ""

	switch route {
	case RouteDepositAddress:
		return hasSlug
	case RouteBridgeContract:
		return hasContract
	default:
		return hasContract || hasSlug
	}
}

// UnsupportedChainError is returned for chain ids the registry does not know
// or cannot route deposits through.
type UnsupportedChainError struct {
	ChainID uint64
	Reason  string
}

func (e *UnsupportedChainError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported chain %d: %s", e.ChainID, e.Reason)
	}
	return fmt.Sprintf("unsupported chain %d", e.ChainID)
}

// Registry maps chain ids to their deployment metadata
type Registry struct {
	chains map[uint64]ChainInfo
	route  Route
}

// RegistryOption customizes a Registry
type RegistryOption func(*Registry)

// WithRoute restricts cross-chain deposits to the route the configured
// bridge provider can serve
func WithRoute(route Route) RegistryOption {
	return func(r *Registry) { r.route = route }
}

// NewRegistry creates a registry from a list of chains. A chain counts as
// deployed when its vault address is known.
func NewRegistry(infos []ChainInfo, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{chains: make(map[uint64]ChainInfo, len(infos))}
	for _, opt := range opts {
		opt(r)
	}

	for _, info := range infos {
		if info.ChainID == 0 {
			return nil, fmt.Errorf("chain %q has no chain id", info.DisplayName)
		}
		if _, exists := r.chains[info.ChainID]; exists {
			return nil, fmt.Errorf("chain %d is configured twice", info.ChainID)
		}

		tokens := make(map[string]types.Token, len(info.Tokens))
		for symbol, token := range info.Tokens {
			symbol = strings.ToUpper(symbol)
			token.Symbol = symbol
			tokens[symbol] = token
		}
		info.Tokens = tokens
		info.IsDeployed = info.Contracts.Vault != (common.Address{})

		r.chains[info.ChainID] = info
	}

	return r, nil
}

// Resolve returns the metadata of a chain
func (r *Registry) Resolve(chainID uint64) (ChainInfo, error) {
	info, ok := r.chains[chainID]
	if !ok {
		return ChainInfo{}, &UnsupportedChainError{ChainID: chainID}
	}
	return info, nil
}

// IsCrossChain returns true if a deposit between the two chains needs a bridge
func (r *Registry) IsCrossChain(sourceID, destID uint64) bool {
	return sourceID != destID
}

// IsPairSupported returns true if a deposit from source to destination can be routed
func (r *Registry) IsPairSupported(sourceID, destID uint64) bool {
	return r.CheckPair(sourceID, destID) == nil
}

// CheckPair explains why a chain pair cannot be routed, or returns nil
func (r *Registry) CheckPair(sourceID, destID uint64) error {
	source, err := r.Resolve(sourceID)
	if err != nil {
		return err
	}
	dest, err := r.Resolve(destID)
	if err != nil {
		return err
	}

	if !source.IsDeployed {
		return &UnsupportedChainError{ChainID: sourceID, Reason: "vault is not deployed"}
	}
	if !dest.IsDeployed {
		return &UnsupportedChainError{ChainID: destID, Reason: "vault is not deployed"}
	}
	if r.IsCrossChain(sourceID, destID) && !source.SupportsRoute(r.route) {
		reason := "no bridge route"
		if r.route != RouteAny {
			reason = fmt.Sprintf("no bridge route via %s", r.route)
		}
		return &UnsupportedChainError{ChainID: sourceID, Reason: reason}
	}

	return nil
}

// TokenOn finds a token by symbol on a chain
func (r *Registry) TokenOn(chainID uint64, symbol string) (types.Token, error) {
	info, err := r.Resolve(chainID)
	if err != nil {
		return types.Token{}, err
	}

	token, ok := info.Tokens[strings.ToUpper(symbol)]
	if !ok {
		return types.Token{}, fmt.Errorf("token '%s' not found on chain %s", symbol, info.DisplayName)
	}

	return token, nil
}

// Lookup finds a chain by id, bridge slug or display name
func (r *Registry) Lookup(name string) (ChainInfo, error) {
	name = strings.TrimSpace(name)
	if id, err := strconv.ParseUint(name, 10, 64); err == nil {
		return r.Resolve(id)
	}

	for _, info := range r.chains {
		if strings.EqualFold(info.BridgeSlug, name) || strings.EqualFold(info.DisplayName, name) {
			return info, nil
		}
	}

	return ChainInfo{}, fmt.Errorf("chain '%s' not found", name)
}

// Route returns the route cross-chain deposits must take
func (r *Registry) Route() Route {
	return r.route
}

// Chains returns every registered chain, ordered by chain id
func (r *Registry) Chains() []ChainInfo {
	infos := make([]ChainInfo, 0, len(r.chains))
	for _, info := range r.chains {
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ChainID < infos[j].ChainID
	})

	return infos
}
