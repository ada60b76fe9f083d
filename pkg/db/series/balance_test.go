package series_test

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	balancemodels "github.com/statelens/statelens/pkg/db/models/balance"
	"github.com/statelens/statelens/pkg/db/series"
	"github.com/statelens/statelens/pkg/network"
)

const fourHoursMs = 4 * 60 * 60 * 1000

// testnet keeps raw and decimal units identical so expectations read plainly.
var testnet = &network.Network{Name: "testnet", Asset: "TST", Decimals: 0}

func noPrevious(string) (*balancemodels.Set, error) {
	return nil, nil
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// First-ever record: every change equals the value itself and the percent
// change is zero.
func TestBuildRecordsFirstObservation(t *testing.T) {
	raws := map[string]balancemodels.Raw{
		"addrA": {Free: big.NewInt(1000), Reserved: big.NewInt(20), Staked: big.NewInt(30)},
	}

	records, err := series.BuildRecords(zaptest.NewLogger(t), testnet, 0, 100, 1, "0xfirst", raws, noPrevious, 7)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "addrA", r.Address)
	assert.Equal(t, "TST", r.Asset)
	assert.True(t, r.Free.Equal(dec(1000)))
	assert.True(t, r.Total.Equal(dec(1050)))
	assert.True(t, r.FreeChange.Equal(r.Free))
	assert.True(t, r.ReservedChange.Equal(r.Reserved))
	assert.True(t, r.StakedChange.Equal(r.Staked))
	assert.True(t, r.TotalChange.Equal(r.Total))
	assert.True(t, r.TotalPercentChange.IsZero())
	assert.Equal(t, uint64(7), r.Version)
}

// Subsequent record: change = current - previous, percent change derived
// from the previous total.
func TestBuildRecordsDeltaLaw(t *testing.T) {
	prev := func(string) (*balancemodels.Set, error) {
		return &balancemodels.Set{
			Free:     dec(1000),
			Reserved: dec(0),
			Staked:   dec(0),
			Total:    dec(1000),
		}, nil
	}

	raws := map[string]balancemodels.Raw{
		"addrA": {Free: big.NewInt(900)},
	}

	records, err := series.BuildRecords(zaptest.NewLogger(t), testnet, 100, 200, 2, "0xnext", raws, prev, 8)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.True(t, r.Free.Equal(dec(900)))
	assert.True(t, r.FreeChange.Equal(dec(-100)))
	assert.True(t, r.TotalChange.Equal(dec(-100)))
	assert.True(t, r.TotalPercentChange.Equal(dec(-10)), "got %s", r.TotalPercentChange)
}

// A previous total of zero yields a zero percent change, never a division
// error.
func TestBuildRecordsZeroPreviousTotal(t *testing.T) {
	prev := func(string) (*balancemodels.Set, error) {
		return &balancemodels.Set{}, nil
	}

	raws := map[string]balancemodels.Raw{
		"addrA": {Free: big.NewInt(50)},
	}

	records, err := series.BuildRecords(zaptest.NewLogger(t), testnet, 100, 200, 2, "0xnext", raws, prev, 9)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].TotalPercentChange.IsZero())
	assert.True(t, records[0].TotalChange.Equal(dec(50)))
}

// Mismatched producer totals are corrected to the component sum with a
// warning; free=10 reserved=5 staked=0 total=14 stores 15.
func TestBuildRecordsReconcilesTotal(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	raws := map[string]balancemodels.Raw{
		"addrA": {Free: big.NewInt(10), Reserved: big.NewInt(5), Staked: big.NewInt(0), Total: big.NewInt(14)},
	}

	records, err := series.BuildRecords(logger, testnet, 0, 100, 1, "0xh", raws, noPrevious, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.True(t, records[0].Total.Equal(dec(15)), "got %s", records[0].Total)
	assert.Equal(t, 1, logs.FilterMessage("Total balance mismatch, using component sum").Len())
}

// A matching total produces no warning.
func TestBuildRecordsMatchingTotalSilent(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	raws := map[string]balancemodels.Raw{
		"addrA": {Free: big.NewInt(10), Reserved: big.NewInt(5), Staked: big.NewInt(0), Total: big.NewInt(15)},
	}

	_, err := series.BuildRecords(logger, testnet, 0, 100, 1, "0xh", raws, noPrevious, 1)
	require.NoError(t, err)
	assert.Zero(t, logs.Len())
}

// A negative component anywhere in the batch fails before any record is
// produced.
func TestBuildRecordsRejectsNegative(t *testing.T) {
	raws := map[string]balancemodels.Raw{
		"addrA": {Free: big.NewInt(100)},
		"addrB": {Free: big.NewInt(-1)},
	}

	records, err := series.BuildRecords(zaptest.NewLogger(t), testnet, 0, 100, 1, "0xh", raws, noPrevious, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, series.ErrNegativeBalance)
	assert.Nil(t, records)
}

// Output order is sorted by address regardless of map iteration order.
func TestBuildRecordsDeterministicOrder(t *testing.T) {
	raws := map[string]balancemodels.Raw{
		"c": {Free: big.NewInt(1)},
		"a": {Free: big.NewInt(2)},
		"b": {Free: big.NewInt(3)},
	}

	records, err := series.BuildRecords(zaptest.NewLogger(t), testnet, 0, 100, 1, "0xh", raws, noPrevious, 1)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].Address)
	assert.Equal(t, "b", records[1].Address)
	assert.Equal(t, "c", records[2].Address)
}

// Nil components (absent account) convert to zeros.
func TestBuildRecordsNilComponents(t *testing.T) {
	raws := map[string]balancemodels.Raw{
		"addrA": {},
	}

	records, err := series.BuildRecords(zaptest.NewLogger(t), testnet, 0, 100, 1, "0xh", raws, noPrevious, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Free.IsZero())
	assert.True(t, records[0].Total.IsZero())
	assert.True(t, records[0].TotalPercentChange.IsZero())
}

// End-to-end delta scenario over two periods with an 18-decimal network:
// genesis 1000 tokens, then 900 tokens, change -100, percent -10.
func TestBuildRecordsEndToEndScenario(t *testing.T) {
	torus, err := network.ByName("torus")
	require.NoError(t, err)

	planck := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	genesisAmount := new(big.Int).Mul(big.NewInt(1000), planck)
	laterAmount := new(big.Int).Mul(big.NewInt(900), planck)

	genesisRecords, err := series.BuildRecords(zaptest.NewLogger(t), torus, 0, fourHoursMs, 1, "0xgen",
		map[string]balancemodels.Raw{"addrA": {Free: genesisAmount}}, noPrevious, 1)
	require.NoError(t, err)
	require.Len(t, genesisRecords, 1)
	assert.True(t, genesisRecords[0].Free.Equal(dec(1000)))
	assert.True(t, genesisRecords[0].FreeChange.Equal(dec(1000)))
	assert.True(t, genesisRecords[0].TotalPercentChange.IsZero())

	prev := func(string) (*balancemodels.Set, error) {
		set := genesisRecords[0].Set()
		return &set, nil
	}

	records, err := series.BuildRecords(zaptest.NewLogger(t), torus, fourHoursMs, 2*fourHoursMs, 42, "0xlater",
		map[string]balancemodels.Raw{"addrA": {Free: laterAmount}}, prev, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.True(t, r.Free.Equal(dec(900)))
	assert.True(t, r.FreeChange.Equal(dec(-100)))
	assert.True(t, r.TotalChange.Equal(dec(-100)))
	assert.True(t, r.TotalPercentChange.Equal(dec(-10)))
}
