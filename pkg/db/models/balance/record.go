package balance

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const SeriesTableName = "balance_series"
const SeriesVersionColumnName = "version"

// SeriesColumns defines the schema for the balance_series table.
// One row per (asset, address, period_start); ReplacingMergeTree on the
// version column keeps the highest-version row per key after merges, which
// is what makes period re-writes idempotent.
//
// Decimal(38, 18) leaves 20 integer digits, enough headroom for 18-decimal
// networks (Torus) while keeping 9/10-decimal networks (TAO, DOT) exact.
var SeriesColumns = []ColumnDef{
	// Identity
	{Name: "address", Type: "String", Codec: "ZSTD(1)"},
	{Name: "asset", Type: "LowCardinality(String)"},

	// Period window (epoch ms, half-open [start, end))
	{Name: "period_start", Type: "Int64", Codec: "DoubleDelta, ZSTD(1)"},
	{Name: "period_end", Type: "Int64", Codec: "DoubleDelta, ZSTD(1)"},

	// Closing block the snapshot reflects
	{Name: "block_height", Type: "UInt64", Codec: "DoubleDelta, ZSTD(1)"},
	{Name: "block_hash", Type: "String", Codec: "ZSTD(1)"},

	// Converted balances
	{Name: "free_balance", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "reserved_balance", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "staked_balance", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "total_balance", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},

	// Deltas vs. the previous period for the same (asset, address)
	{Name: "free_balance_change", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "reserved_balance_change", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "staked_balance_change", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "total_balance_change", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},
	{Name: "total_balance_percent_change", Type: "Decimal(38, 18)", Codec: "ZSTD(3)"},

	// Write-time version tag; latest version per key wins on read
	{Name: SeriesVersionColumnName, Type: "UInt64", Codec: "DoubleDelta, ZSTD(1)"},
}

// Record is one versioned balance snapshot row.
type Record struct {
	Address string `ch:"address"`
	Asset   string `ch:"asset"`

	PeriodStart int64 `ch:"period_start"`
	PeriodEnd   int64 `ch:"period_end"`

	BlockHeight uint64 `ch:"block_height"`
	BlockHash   string `ch:"block_hash"`

	Free     decimal.Decimal `ch:"free_balance"`
	Reserved decimal.Decimal `ch:"reserved_balance"`
	Staked   decimal.Decimal `ch:"staked_balance"`
	Total    decimal.Decimal `ch:"total_balance"`

	FreeChange         decimal.Decimal `ch:"free_balance_change"`
	ReservedChange     decimal.Decimal `ch:"reserved_balance_change"`
	StakedChange       decimal.Decimal `ch:"staked_balance_change"`
	TotalChange        decimal.Decimal `ch:"total_balance_change"`
	TotalPercentChange decimal.Decimal `ch:"total_balance_percent_change"`

	Version uint64 `ch:"version"`
}

// Set is the converted balance tuple carried between periods for delta math.
type Set struct {
	Free     decimal.Decimal
	Reserved decimal.Decimal
	Staked   decimal.Decimal
	Total    decimal.Decimal
}

// Set returns the record's balances as a Set.
func (r *Record) Set() Set {
	return Set{Free: r.Free, Reserved: r.Reserved, Staked: r.Staked, Total: r.Total}
}

// Raw holds unconverted chain-unit balances as returned by the node.
// Amounts are in the network's base unit (planck); conversion to decimal
// units happens at write time using the network's decimal configuration.
// Total is optional: when set it is reconciled against the component sum at
// write time (sum wins, with a warning), when nil it is computed.
type Raw struct {
	Free     *big.Int
	Reserved *big.Int
	Staked   *big.Int
	Total    *big.Int
}

// ZeroRaw returns a Raw with all components set to zero. The node client
// returns this for accounts absent from state.
func ZeroRaw() Raw {
	return Raw{Free: new(big.Int), Reserved: new(big.Int), Staked: new(big.Int)}
}
