package series

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/statelens/statelens/pkg/db/clickhouse"
	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
)

// initBlocks creates the blocks table. ReplacingMergeTree keyed by height
// makes producer re-deliveries harmless.
func (db *DB) initBlocks(ctx context.Context) error {
	schemaSQL := balancemodels.ColumnsToSchemaSQL(balancemodels.BlockColumns)

	query := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s,
			INDEX idx_time time TYPE minmax GRANULARITY 4
		) ENGINE = %s
		ORDER BY height
	`, db.Name, balancemodels.BlocksTableName, schemaSQL,
		clickhouse.Engine(clickhouse.ReplacingMergeTree, ""))
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", balancemodels.BlocksTableName, err)
	}

	return nil
}

// initTransactions creates the transactions table. The time index carries the
// per-period active-address scan.
func (db *DB) initTransactions(ctx context.Context) error {
	schemaSQL := balancemodels.ColumnsToSchemaSQL(balancemodels.TransactionColumns)

	query := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s,
			INDEX idx_time time TYPE minmax GRANULARITY 4
		) ENGINE = %s
		ORDER BY (height, hash)
	`, db.Name, balancemodels.TransactionsTableName, schemaSQL,
		clickhouse.Engine(clickhouse.ReplacingMergeTree, ""))
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", balancemodels.TransactionsTableName, err)
	}

	return nil
}

// blockRow orders a block's values to match BlockColumns.
func blockRow(b *balancemodels.Block) []interface{} {
	return []interface{}{b.Height, b.Hash, b.Time}
}

// transactionRow orders a transaction's values to match TransactionColumns.
func transactionRow(tx *balancemodels.Transaction) []interface{} {
	return []interface{}{tx.Hash, tx.Height, tx.Time, tx.Signer, tx.Recipients}
}

// InsertBlocks writes a batch of block headers from the ingest stream.
func (db *DB) InsertBlocks(ctx context.Context, blocks []*balancemodels.Block) error {
	if len(blocks) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, balancemodels.BlocksTableName,
		strings.Join(balancemodels.ColumnsToNameList(balancemodels.BlockColumns), ", "))

	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, b := range blocks {
		if err = batch.Append(blockRow(b)...); err != nil {
			return err
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert %d blocks: %w", len(blocks), err)
	}

	db.Logger.Debug("Blocks inserted", zap.Int("count", len(blocks)))
	return nil
}

// InsertTransactions writes a batch of transactions from the ingest stream.
func (db *DB) InsertTransactions(ctx context.Context, txs []*balancemodels.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		db.Name, balancemodels.TransactionsTableName,
		strings.Join(balancemodels.ColumnsToNameList(balancemodels.TransactionColumns), ", "))

	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, tx := range txs {
		if err = batch.Append(transactionRow(tx)...); err != nil {
			return err
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("insert %d transactions: %w", len(txs), err)
	}

	db.Logger.Debug("Transactions inserted", zap.Int("count", len(txs)))
	return nil
}

// FirstBlock returns the lowest-height block seen, or nil when the stream has
// not produced anything yet. Anchors the genesis period window.
func (db *DB) FirstBlock(ctx context.Context) (*balancemodels.Block, error) {
	query := fmt.Sprintf(`
		SELECT height, hash, time
		FROM "%s"."%s" FINAL
		ORDER BY height ASC
		LIMIT 1
	`, db.Name, balancemodels.BlocksTableName)

	var block balancemodels.Block
	err := db.QueryRow(ctx, query).Scan(&block.Height, &block.Hash, &block.Time)
	if err != nil {
		if clickhouse.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query first block: %w", err)
	}

	return &block, nil
}

// BlockByNearestTimestamp returns the highest block with time <= tsMs: the
// closing block of a period ending at tsMs. Returns nil when no such block
// exists yet, which the consumer treats as "period not closed, retry".
func (db *DB) BlockByNearestTimestamp(ctx context.Context, tsMs int64) (*balancemodels.Block, error) {
	query := fmt.Sprintf(`
		SELECT height, hash, time
		FROM "%s"."%s" FINAL
		WHERE time <= ?
		ORDER BY time DESC, height DESC
		LIMIT 1
	`, db.Name, balancemodels.BlocksTableName)

	var block balancemodels.Block
	err := db.QueryRow(ctx, query, tsMs).Scan(&block.Height, &block.Hash, &block.Time)
	if err != nil {
		if clickhouse.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query block at or before %d: %w", tsMs, err)
	}

	return &block, nil
}

// ActiveAddressesBetween returns every distinct address that signed or
// received a transaction in the half-open window [startMs, endMs). Empty
// strings (unsigned extrinsics) are excluded.
func (db *DB) ActiveAddressesBetween(ctx context.Context, startMs, endMs int64) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT DISTINCT address
		FROM (
			SELECT arrayJoin(arrayConcat([signer], recipients)) AS address
			FROM "%s"."%s"
			WHERE time >= ? AND time < ?
		)
		WHERE address != ''
	`, db.Name, balancemodels.TransactionsTableName)

	rows, err := db.Query(ctx, query, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query active addresses in [%d, %d): %w", startMs, endMs, err)
	}
	defer rows.Close()

	var addresses []string
	for rows.Next() {
		var address string
		if err := rows.Scan(&address); err != nil {
			return nil, fmt.Errorf("scan active address: %w", err)
		}
		addresses = append(addresses, address)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active addresses: %w", err)
	}

	return addresses, nil
}
