package network

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/statelens/statelens/pkg/utils"
)

// GenesisBalance is one entry of a network's initial allocation, amount in
// raw chain units (planck).
type GenesisBalance struct {
	Address string
	Amount  *big.Int
}

// genesisEntry is the on-disk JSON shape. Amounts are strings because they
// routinely exceed float64 and often exceed int64 on 18-decimal networks.
type genesisEntry struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// GenesisBalances loads the network's static genesis allocation list.
// Networks without a configured list return (nil, nil) — seeding is simply
// skipped for them. A configured but unreadable or malformed file is an
// error: a half-seeded genesis is worse than a loud startup failure.
func (n *Network) GenesisBalances() ([]GenesisBalance, error) {
	if n.GenesisPathEnv == "" {
		return nil, nil
	}
	path := utils.Env(n.GenesisPathEnv, "")
	if path == "" {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis balances for %s: %w", n.Name, err)
	}

	var entries []genesisEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse genesis balances for %s: %w", n.Name, err)
	}

	balances := make([]GenesisBalance, 0, len(entries))
	for i, e := range entries {
		if e.Address == "" {
			return nil, fmt.Errorf("genesis balances for %s: entry %d has empty address", n.Name, i)
		}
		amount, ok := new(big.Int).SetString(e.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("genesis balances for %s: entry %d (%s) has invalid amount %q", n.Name, i, e.Address, e.Amount)
		}
		if amount.Sign() < 0 {
			return nil, fmt.Errorf("genesis balances for %s: entry %d (%s) has negative amount", n.Name, i, e.Address)
		}
		balances = append(balances, GenesisBalance{Address: e.Address, Amount: amount})
	}

	return balances, nil
}
