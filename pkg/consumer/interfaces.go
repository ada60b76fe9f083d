package consumer

import (
	"context"

	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
)

// Store is the balance-series persistence the consumer drives. Implemented
// by series.DB. Store errors propagate uncaught; the store does not retry.
type Store interface {
	// LatestProcessedPeriod returns the max period_end and its closing block
	// height, or (0, 0) when no records exist.
	LatestProcessedPeriod(ctx context.Context) (int64, uint64, error)

	// HasRecords reports whether any record exists for the network's asset.
	HasRecords(ctx context.Context) (bool, error)

	// WritePeriod persists one batch of raw balances as versioned records.
	WritePeriod(ctx context.Context, periodStart, periodEnd int64, blockHeight uint64, blockHash string, raws map[string]balancemodels.Raw) error
}

// BlockSource is the ingested block stream the consumer reads periods from.
// Implemented by series.DB over the blocks and transactions tables.
type BlockSource interface {
	// FirstBlock returns the lowest block seen, or nil when none exists yet.
	FirstBlock(ctx context.Context) (*balancemodels.Block, error)

	// BlockByNearestTimestamp returns the highest block with time <= tsMs,
	// or nil when no such block exists.
	BlockByNearestTimestamp(ctx context.Context, tsMs int64) (*balancemodels.Block, error)

	// ActiveAddressesBetween returns the addresses that signed or received a
	// transaction in [startMs, endMs). Empty is a valid quiet-period result.
	ActiveAddressesBetween(ctx context.Context, startMs, endMs int64) ([]string, error)
}

// BalanceOracle is the chain-node balance lookup. Implemented by node.Client.
// BalancesAt retries transient failures internally and must only return an
// error on cancellation or a genuinely unrecoverable condition; absent
// accounts come back as all-zero balances.
type BalanceOracle interface {
	GenesisHash(ctx context.Context) (string, error)
	BalancesAt(ctx context.Context, blockHash string, address string) (balancemodels.Raw, error)
}
