package series

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
)

// The ingest append order is positional: each row builder must produce
// exactly one value per schema column, in schema order.
func TestBlockRowMatchesSchema(t *testing.T) {
	block := &balancemodels.Block{Height: 12, Hash: "0xabc", Time: 34567}

	row := blockRow(block)
	require.Len(t, row, len(balancemodels.BlockColumns))
	assert.Equal(t, []interface{}{uint64(12), "0xabc", int64(34567)}, row)
}

func TestTransactionRowMatchesSchema(t *testing.T) {
	tx := &balancemodels.Transaction{
		Hash:       "0xtx",
		Height:     12,
		Time:       34567,
		Signer:     "addrA",
		Recipients: []string{"addrB", "addrC"},
	}

	row := transactionRow(tx)
	require.Len(t, row, len(balancemodels.TransactionColumns))
	assert.Equal(t, []interface{}{"0xtx", uint64(12), int64(34567), "addrA", []string{"addrB", "addrC"}}, row)
}

func TestRecordRowMatchesSchema(t *testing.T) {
	record := &balancemodels.Record{
		Address:     "addrA",
		Asset:       "TST",
		PeriodStart: 0,
		PeriodEnd:   100,
		BlockHeight: 1,
		BlockHash:   "0xh",
		Free:        decimal.NewFromInt(10),
		Total:       decimal.NewFromInt(10),
		Version:     7,
	}

	row := recordRow(record)
	require.Len(t, row, len(balancemodels.SeriesColumns))
	assert.Equal(t, "addrA", row[0])
	assert.Equal(t, uint64(7), row[len(row)-1])
}

// Empty ingest batches are a no-op; no connection is touched.
func TestInsertBlocksEmptyBatchNoOp(t *testing.T) {
	db := &DB{}
	require.NoError(t, db.InsertBlocks(context.Background(), nil))
	require.NoError(t, db.InsertTransactions(context.Background(), nil))
}
