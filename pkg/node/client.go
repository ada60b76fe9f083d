package node

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/vedhavyas/go-subkey/v2"
	"go.uber.org/zap"

	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
	"github.com/statelens/statelens/pkg/network"
	"github.com/statelens/statelens/pkg/retry"
	"github.com/statelens/statelens/pkg/utils"
)

// defaultURLs holds the public RPC endpoint per network, overridable with
// NODE_URL_<NETWORK>.
var defaultURLs = map[string]string{
	"torus":     "wss://api.torus.network",
	"bittensor": "wss://entrypoint-finney.opentensor.ai:443",
	"polkadot":  "wss://rpc.polkadot.io",
}

// Client queries historical account balances from a Substrate node over RPC.
// All state reads are pinned to an explicit block hash so the answers are
// reproducible regardless of chain progress between calls.
type Client struct {
	logger  *zap.Logger
	net     *network.Network
	api     *gsrpc.SubstrateAPI
	retries retry.Config

	metaMu sync.Mutex
	meta   *types.Metadata
}

// New connects to the network's node endpoint. The URL comes from
// NODE_URL_<NETWORK> (for example NODE_URL_TORUS) with a public default.
func New(logger *zap.Logger, net *network.Network) (*Client, error) {
	envKey := fmt.Sprintf("NODE_URL_%s", strings.ToUpper(net.Name))
	url := utils.Env(envKey, defaultURLs[net.Name])
	if url == "" {
		return nil, fmt.Errorf("no node URL for network %s: set %s", net.Name, envKey)
	}

	api, err := gsrpc.NewSubstrateAPI(url)
	if err != nil {
		return nil, fmt.Errorf("connect to %s node at %s: %w", net.Name, url, err)
	}

	logger.Info("Node connection established",
		zap.String("network", net.Name),
		zap.String("url", url))

	return &Client{
		logger: logger,
		net:    net,
		api:    api,
		retries: retry.Config{
			MaxRetries:    8,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			JitterEnabled: true,
		},
	}, nil
}

// GenesisHash returns the hash of block 0, used at startup to confirm the
// endpoint actually serves the configured chain.
func (c *Client) GenesisHash(ctx context.Context) (string, error) {
	var hash types.Hash
	err := retry.WithBackoff(ctx, c.retries, c.logger, "genesis_hash", func() error {
		h, err := c.api.RPC.Chain.GetBlockHash(0)
		if err != nil {
			return err
		}
		hash = h
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch genesis hash for %s: %w", c.net.Name, err)
	}
	return hash.Hex(), nil
}

// BalancesAt returns the address's raw balance components at the given block.
// Accounts absent from state at that block are reported as all-zero, not as
// an error. Transient RPC failures are retried until ctx is cancelled; only
// cancellation or a malformed address surfaces as an error.
func (c *Client) BalancesAt(ctx context.Context, blockHash string, address string) (balancemodels.Raw, error) {
	pubkey, err := decodeAddress(c.net, address)
	if err != nil {
		return balancemodels.Raw{}, err
	}

	hash, err := types.NewHashFromHexString(blockHash)
	if err != nil {
		return balancemodels.Raw{}, fmt.Errorf("parse block hash %s: %w", blockHash, err)
	}

	var raw balancemodels.Raw
	err = retry.Forever(ctx, c.retries, c.logger, "balances_at", func() error {
		meta, err := c.metadata()
		if err != nil {
			return err
		}

		r, err := c.queryBalances(meta, hash, pubkey)
		if err != nil {
			return err
		}
		raw = r
		return nil
	})
	if err != nil {
		return balancemodels.Raw{}, err
	}

	return raw, nil
}

// queryBalances performs one attempt: System.Account for free/reserved plus
// the network's staking storage item when it has one.
func (c *Client) queryBalances(meta *types.Metadata, blockHash types.Hash, pubkey []byte) (balancemodels.Raw, error) {
	raw := balancemodels.ZeroRaw()

	accountKey, err := types.CreateStorageKey(meta, "System", "Account", pubkey)
	if err != nil {
		return balancemodels.Raw{}, fmt.Errorf("build System.Account key: %w", err)
	}

	var account types.AccountInfo
	ok, err := c.api.RPC.State.GetStorage(accountKey, &account, blockHash)
	if err != nil {
		return balancemodels.Raw{}, fmt.Errorf("query System.Account: %w", err)
	}
	if ok {
		if account.Data.Free.Int != nil {
			raw.Free = account.Data.Free.Int
		}
		if account.Data.Reserved.Int != nil {
			raw.Reserved = account.Data.Reserved.Int
		}
	}

	if c.net.HasStaking() {
		stakingKey, err := types.CreateStorageKey(meta, c.net.StakingPallet, c.net.StakingItem, pubkey)
		if err != nil {
			return balancemodels.Raw{}, fmt.Errorf("build %s.%s key: %w", c.net.StakingPallet, c.net.StakingItem, err)
		}

		var staked types.U128
		ok, err := c.api.RPC.State.GetStorage(stakingKey, &staked, blockHash)
		if err != nil {
			return balancemodels.Raw{}, fmt.Errorf("query %s.%s: %w", c.net.StakingPallet, c.net.StakingItem, err)
		}
		if ok && staked.Int != nil {
			raw.Staked = staked.Int
		}
	}

	return raw, nil
}

// decodeAddress extracts the public key from an SS58 address. The embedded
// network prefix must match the configured one: a mismatched address either
// belongs to another chain or was re-encoded, and querying it would silently
// track the wrong account identity.
func decodeAddress(net *network.Network, address string) ([]byte, error) {
	prefix, pubkey, err := subkey.SS58Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode address %s: %w", address, err)
	}
	if prefix != net.SS58Prefix {
		return nil, fmt.Errorf("address %s: ss58 prefix %d does not match %s (prefix %d)",
			address, prefix, net.Name, net.SS58Prefix)
	}
	return pubkey, nil
}

// metadata fetches and caches the runtime metadata used for storage-key
// construction. The hashers for System.Account and the staking maps are
// stable across runtime upgrades, so a single fetch per process suffices.
func (c *Client) metadata() (*types.Metadata, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	if c.meta != nil {
		return c.meta, nil
	}

	meta, err := c.api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, fmt.Errorf("fetch runtime metadata: %w", err)
	}

	c.meta = meta
	return meta, nil
}
