package network

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
)

// Network describes one supported Substrate chain: the asset it mints, how
// raw chain units convert to decimal units, and where staked balances live
// in storage. Behavior differences between networks are carried entirely by
// this configuration; there is one consumer implementation.
type Network struct {
	// Name is the registry key ("torus", "bittensor", "polkadot").
	Name string

	// Asset is the token symbol stamped on every series row.
	Asset string

	// Decimals is the base-unit exponent: 1 token = 10^Decimals planck.
	Decimals int32

	// SS58Prefix is the network's address format prefix. Addresses are
	// validated against it when decoded for storage-key construction.
	SS58Prefix uint16

	// StakingPallet/StakingItem locate the per-account staked amount in
	// chain storage (a map keyed by AccountId holding a u128). An empty
	// pallet means the network reports zero staked balance.
	StakingPallet string
	StakingItem   string

	// GenesisPathEnv names the environment variable holding the path to
	// this network's genesis balance list. Unset means no genesis seeding.
	GenesisPathEnv string
}

// registry maps network names to their configuration. Selected at process
// start by the NETWORKS env var; adding a chain is adding an entry here.
var registry = map[string]*Network{
	"torus": {
		Name:           "torus",
		Asset:          "TORUS",
		Decimals:       18,
		SS58Prefix:     42,
		GenesisPathEnv: "GENESIS_BALANCES_TORUS",
	},
	"bittensor": {
		Name:       "bittensor",
		Asset:      "TAO",
		Decimals:   9,
		SS58Prefix: 42,
		// Coldkey-total stake map in the subtensor runtime.
		StakingPallet:  "SubtensorModule",
		StakingItem:    "TotalColdkeyStake",
		GenesisPathEnv: "GENESIS_BALANCES_BITTENSOR",
	},
	"polkadot": {
		Name:       "polkadot",
		Asset:      "DOT",
		Decimals:   10,
		SS58Prefix: 0,
		// Staking.Ledger layout varies across runtime upgrades; staked is
		// reported as zero until a stable storage item is wired.
	},
}

// ByName returns the configuration for a supported network.
func ByName(name string) (*Network, error) {
	n, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return n, nil
}

// Names returns the supported network names, sorted for stable messages.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasStaking reports whether the network exposes a staked-balance storage item.
func (n *Network) HasStaking() bool {
	return n.StakingPallet != "" && n.StakingItem != ""
}

// ToDecimal converts a raw chain amount (planck) to decimal units.
// A nil amount converts to zero, matching the "absent account means zero
// balance" oracle contract.
func (n *Network) ToDecimal(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -n.Decimals)
}

// Convert converts a raw balance tuple into decimal units with the total
// computed as the sum of components.
func (n *Network) Convert(raw balancemodels.Raw) balancemodels.Set {
	free := n.ToDecimal(raw.Free)
	reserved := n.ToDecimal(raw.Reserved)
	staked := n.ToDecimal(raw.Staked)
	return balancemodels.Set{
		Free:     free,
		Reserved: reserved,
		Staked:   staked,
		Total:    free.Add(reserved).Add(staked),
	}
}
