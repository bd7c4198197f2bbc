// Package registry resolves token and contract identities for the active
// network. Script hashes differ between mainnet and testnet; token decimals
// are fixed per token across networks.
package registry

import (
	"errors"
	"fmt"
	"sort"
)

// Network selects which set of contract deployments is resolved.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

var (
	ErrUnknownNetwork  = errors.New("unknown network")
	ErrUnknownToken    = errors.New("unknown token")
	ErrUnknownContract = errors.New("unknown contract")
)

// tokenDecimals is fixed per token. NEO is indivisible.
var tokenDecimals = map[string]int{
	"NEO":   0,
	"GAS":   8,
	"FLM":   8,
	"BNEO":  8,
	"FUSDT": 6,
}

var tokenHashByNetwork = map[Network]map[string]string{
	NetworkMainnet: {
		"NEO":   "0xef4073a0f2b305a38ec4050e4d3d28bc40ea63f5",
		"GAS":   "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		"FLM":   "0xf0151f528127558851b39c2cd8aa47da7418ab28",
		"BNEO":  "0x48c40d4666f93408be1bef038b6722404d9a4c2a",
		"FUSDT": "0xcd48b160c1bbc9d74997b803b9a7ad50a4bef020",
	},
	NetworkTestnet: {
		"NEO":   "0xef4073a0f2b305a38ec4050e4d3d28bc40ea63f5",
		"GAS":   "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		"FLM":   "0x5b53998b399d10cd25727269e865acc785ef5c1a",
		"BNEO":  "0x85deac50febfd93988d3f391dea54e8289e43e9e",
		"FUSDT": "0x83c442b5dc4ee0ed0e5249352fa7c75f65d6bfd6",
	},
}

var contractHashByNetwork = map[Network]map[string]string{
	NetworkMainnet: {
		"swap-router": "0xf970f4ccecd765b63732b821775dc38c25d74f23",
		"stake-pool":  "0x1c18d2834f794feb1a2a90d76fb419eae1a0b38a",
		"flund":       "0xa9603a59e21d29e37ac39cf1b5f5abf5006b22a3",
	},
	NetworkTestnet: {
		"swap-router": "0x13a83e059c2eedd5157b766d3357bc826810905e",
		"stake-pool":  "0x0a1f2c9b6a2cbbcd8f4f5f4acdcb963afdd4c94c",
		"flund":       "0x2b4b5a3b0fca1dfc7e20ca2b4b07b48e4e6a3b25",
	},
}

// Registry resolves tokens and contracts for one network. It is read-only
// after construction and safe to share across goroutines.
type Registry struct {
	network Network
}

// New creates a registry scoped to the given network.
func New(network Network) (*Registry, error) {
	if _, ok := tokenHashByNetwork[network]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}

	return &Registry{network: network}, nil
}

// Network returns the network this registry resolves against.
func (r *Registry) Network() Network {
	return r.network
}

// TokenDecimals returns the decimal precision of a token.
func (r *Registry) TokenDecimals(token string) (int, error) {
	decimals, ok := tokenDecimals[token]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownToken, token)
	}

	return decimals, nil
}

// TokenHash returns the token's script hash on the active network.
func (r *Registry) TokenHash(token string) (string, error) {
	hash, ok := tokenHashByNetwork[r.network][token]
	if !ok {
		return "", fmt.Errorf("%w: %q on %s", ErrUnknownToken, token, r.network)
	}

	return hash, nil
}

// ContractAddress returns a named contract's script hash on the active
// network.
func (r *Registry) ContractAddress(name string) (string, error) {
	hash, ok := contractHashByNetwork[r.network][name]
	if !ok {
		return "", fmt.Errorf("%w: %q on %s", ErrUnknownContract, name, r.network)
	}

	return hash, nil
}

// SupportedTokens lists every token the registry knows, sorted.
func (r *Registry) SupportedTokens() []string {
	tokens := make([]string, 0, len(tokenDecimals))
	for token := range tokenDecimals {
		tokens = append(tokens, token)
	}

	sort.Strings(tokens)

	return tokens
}
