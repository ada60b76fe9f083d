package series

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/statelens/statelens/pkg/db/clickhouse"
	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
	"github.com/statelens/statelens/pkg/network"
)

// ErrNegativeBalance marks a balance component below zero. This is a data
// error, never clamped: the batch it appears in must not reach the table.
var ErrNegativeBalance = errors.New("negative balance component")

// initBalanceSeries creates the balance_series table. ReplacingMergeTree on
// the version column deduplicates re-written periods: the highest version
// per (asset, address, period_start) survives merges and FINAL reads.
func (db *DB) initBalanceSeries(ctx context.Context) error {
	schemaSQL := balancemodels.ColumnsToSchemaSQL(balancemodels.SeriesColumns)

	query := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s
		ORDER BY (asset, address, period_start)
	`, db.Name, balancemodels.SeriesTableName, schemaSQL,
		clickhouse.Engine(clickhouse.ReplacingMergeTree, balancemodels.SeriesVersionColumnName))
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", balancemodels.SeriesTableName, err)
	}

	return nil
}

// LatestProcessedPeriod returns the maximum period_end (epoch ms) across all
// records for this network's asset together with the closing block height of
// that period, or (0, 0) when the table is empty. Resumption state is derived
// from this; there is no separate checkpoint.
func (db *DB) LatestProcessedPeriod(ctx context.Context) (int64, uint64, error) {
	query := fmt.Sprintf(`
		SELECT period_end, block_height
		FROM "%s"."%s" FINAL
		WHERE asset = ?
		ORDER BY period_end DESC
		LIMIT 1
	`, db.Name, balancemodels.SeriesTableName)

	var periodEnd int64
	var height uint64
	err := db.QueryRow(ctx, query, db.Network.Asset).Scan(&periodEnd, &height)
	if err != nil {
		if clickhouse.IsNoRows(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("query latest processed period: %w", err)
	}

	return periodEnd, height, nil
}

// HasRecords reports whether any series record exists for the asset. The
// genesis initializer uses this as its idempotence guard.
func (db *DB) HasRecords(ctx context.Context) (bool, error) {
	query := fmt.Sprintf(`
		SELECT count()
		FROM "%s"."%s"
		WHERE asset = ?
	`, db.Name, balancemodels.SeriesTableName)

	var count uint64
	if err := db.QueryRow(ctx, query, db.Network.Asset).Scan(&count); err != nil {
		return false, fmt.Errorf("count series records: %w", err)
	}
	return count > 0, nil
}

// PreviousBalances returns the most recent record for the address with
// period_start strictly before beforeMs, deduplicated to the highest
// version. Returns (nil, 0, nil) when no prior record exists — the first
// observation of an address.
func (db *DB) PreviousBalances(ctx context.Context, address string, beforeMs int64) (*balancemodels.Set, int64, error) {
	query := fmt.Sprintf(`
		SELECT free_balance, reserved_balance, staked_balance, total_balance, period_start
		FROM "%s"."%s" FINAL
		WHERE asset = ? AND address = ? AND period_start < ?
		ORDER BY period_start DESC
		LIMIT 1
	`, db.Name, balancemodels.SeriesTableName)

	var set balancemodels.Set
	var periodStart int64
	err := db.QueryRow(ctx, query, db.Network.Asset, address, beforeMs).Scan(
		&set.Free,
		&set.Reserved,
		&set.Staked,
		&set.Total,
		&periodStart,
	)
	if err != nil {
		if clickhouse.IsNoRows(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("query previous balances for %s: %w", address, err)
	}

	return &set, periodStart, nil
}

// LatestRecords returns the latest deduplicated record per address for the
// asset. Operational spot-check query; not on the consumer's hot path.
func (db *DB) LatestRecords(ctx context.Context) ([]*balancemodels.Record, error) {
	query := fmt.Sprintf(`
		SELECT address, asset, period_start, period_end, block_height, block_hash,
		       free_balance, reserved_balance, staked_balance, total_balance,
		       free_balance_change, reserved_balance_change, staked_balance_change,
		       total_balance_change, total_balance_percent_change, version
		FROM "%s"."%s" FINAL
		WHERE asset = ?
		ORDER BY address, period_start DESC
		LIMIT 1 BY address
	`, db.Name, balancemodels.SeriesTableName)

	var records []*balancemodels.Record
	if err := db.Select(ctx, &records, query, db.Network.Asset); err != nil {
		return nil, fmt.Errorf("query latest records: %w", err)
	}
	return records, nil
}

// WritePeriod converts, validates and persists one period's balance batch:
// one record per address, deltas computed against each address's previous
// record, all rows stamped with a single write-time version.
//
// An empty input map is a no-op with a warning — quiet periods are skipped
// by the caller, never turned into errors here. Store-level failures
// propagate uncaught; the store does not retry.
func (db *DB) WritePeriod(ctx context.Context, periodStart, periodEnd int64, blockHeight uint64, blockHash string, raws map[string]balancemodels.Raw) error {
	if len(raws) == 0 {
		db.Logger.Warn("WritePeriod called with no balances, skipping",
			zap.Int64("period_start", periodStart),
			zap.Int64("period_end", periodEnd))
		return nil
	}

	version := uint64(time.Now().UnixNano())

	prev := func(address string) (*balancemodels.Set, error) {
		set, _, err := db.PreviousBalances(ctx, address, periodStart)
		return set, err
	}

	records, err := BuildRecords(db.Logger, db.Network, periodStart, periodEnd, blockHeight, blockHash, raws, prev, version)
	if err != nil {
		return err
	}

	if err := db.insertRecords(ctx, records); err != nil {
		return fmt.Errorf("insert period [%d, %d): %w", periodStart, periodEnd, err)
	}

	db.Logger.Info("Period written",
		zap.Int64("period_start", periodStart),
		zap.Int64("period_end", periodEnd),
		zap.Uint64("block_height", blockHeight),
		zap.Int("addresses", len(records)))

	return nil
}

// PreviousFunc looks up an address's previous balance set; nil means the
// address has never been recorded.
type PreviousFunc func(address string) (*balancemodels.Set, error)

// BuildRecords performs the pure part of a period write: decimal conversion,
// non-negativity validation, total reconciliation and delta computation.
// It fails before any record is produced if any component is negative, so a
// violating batch never reaches the insert path.
//
// Addresses are processed in sorted order so output (and reconciliation
// warnings) are deterministic.
func BuildRecords(logger *zap.Logger, net *network.Network, periodStart, periodEnd int64, blockHeight uint64, blockHash string, raws map[string]balancemodels.Raw, prev PreviousFunc, version uint64) ([]*balancemodels.Record, error) {
	addresses := make([]string, 0, len(raws))
	for address := range raws {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	// Validate the whole batch up front: a single negative component must
	// abort before anything is built.
	for _, address := range addresses {
		raw := raws[address]
		for name, v := range map[string]*big.Int{
			"free":     raw.Free,
			"reserved": raw.Reserved,
			"staked":   raw.Staked,
		} {
			if v != nil && v.Sign() < 0 {
				return nil, fmt.Errorf("%w: %s %s at period %d", ErrNegativeBalance, address, name, periodStart)
			}
		}
	}

	hundred := decimal.NewFromInt(100)
	records := make([]*balancemodels.Record, 0, len(addresses))

	for _, address := range addresses {
		raw := raws[address]
		set := net.Convert(raw)

		// Reconcile a producer-supplied total against the component sum.
		// The sum wins; a mismatch is recoverable but worth a warning.
		if raw.Total != nil {
			claimed := net.ToDecimal(raw.Total)
			if !claimed.Equal(set.Total) {
				logger.Warn("Total balance mismatch, using component sum",
					zap.String("address", address),
					zap.String("claimed_total", claimed.String()),
					zap.String("computed_total", set.Total.String()))
			}
		}

		prevSet, err := prev(address)
		if err != nil {
			return nil, fmt.Errorf("previous balances for %s: %w", address, err)
		}

		record := &balancemodels.Record{
			Address:     address,
			Asset:       net.Asset,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			BlockHeight: blockHeight,
			BlockHash:   blockHash,
			Free:        set.Free,
			Reserved:    set.Reserved,
			Staked:      set.Staked,
			Total:       set.Total,
			Version:     version,
		}

		if prevSet == nil {
			// First observation: treated as a rise from a zero baseline.
			record.FreeChange = set.Free
			record.ReservedChange = set.Reserved
			record.StakedChange = set.Staked
			record.TotalChange = set.Total
			record.TotalPercentChange = decimal.Zero
		} else {
			record.FreeChange = set.Free.Sub(prevSet.Free)
			record.ReservedChange = set.Reserved.Sub(prevSet.Reserved)
			record.StakedChange = set.Staked.Sub(prevSet.Staked)
			record.TotalChange = set.Total.Sub(prevSet.Total)
			if prevSet.Total.IsZero() {
				record.TotalPercentChange = decimal.Zero
			} else {
				record.TotalPercentChange = record.TotalChange.Div(prevSet.Total).Mul(hundred)
			}
		}

		records = append(records, record)
	}

	return records, nil
}

// insertRecords appends records in a single batch.
func (db *DB) insertRecords(ctx context.Context, records []*balancemodels.Record) error {
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, balancemodels.SeriesTableName,
		strings.Join(balancemodels.ColumnsToNameList(balancemodels.SeriesColumns), ", "))

	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, r := range records {
		if err = batch.Append(recordRow(r)...); err != nil {
			return err
		}
	}

	return batch.Send()
}

// recordRow orders a record's values to match SeriesColumns.
func recordRow(r *balancemodels.Record) []interface{} {
	return []interface{}{
		r.Address,
		r.Asset,
		r.PeriodStart,
		r.PeriodEnd,
		r.BlockHeight,
		r.BlockHash,
		r.Free,
		r.Reserved,
		r.Staked,
		r.Total,
		r.FreeChange,
		r.ReservedChange,
		r.StakedChange,
		r.TotalChange,
		r.TotalPercentChange,
		r.Version,
	}
}
