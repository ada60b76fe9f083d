package balance

const BlocksTableName = "blocks"
const TransactionsTableName = "transactions"

// BlockColumns defines the schema for the raw block stream table.
// The minmax index on time supports the closing-block lookup
// (highest block with time <= period end).
var BlockColumns = []ColumnDef{
	{Name: "height", Type: "UInt64", Codec: "DoubleDelta, ZSTD(1)"},
	{Name: "hash", Type: "String", Codec: "ZSTD(1)"},
	{Name: "time", Type: "Int64", Codec: "DoubleDelta, ZSTD(1)"}, // epoch ms
}

// TransactionColumns defines the schema for the extrinsic stream table.
// signer plus recipients together form the block's active-address set.
var TransactionColumns = []ColumnDef{
	{Name: "hash", Type: "String", Codec: "ZSTD(1)"},
	{Name: "height", Type: "UInt64", Codec: "DoubleDelta, ZSTD(1)"},
	{Name: "time", Type: "Int64", Codec: "DoubleDelta, ZSTD(1)"}, // epoch ms
	{Name: "signer", Type: "String", Codec: "ZSTD(1)"},
	{Name: "recipients", Type: "Array(String)", Codec: "ZSTD(1)"},
}

// Block is one row of the raw block stream.
type Block struct {
	Height uint64 `ch:"height"`
	Hash   string `ch:"hash"`
	Time   int64  `ch:"time"` // epoch ms
}

// Transaction is one extrinsic with the addresses it touched.
type Transaction struct {
	Hash       string   `ch:"hash"`
	Height     uint64   `ch:"height"`
	Time       int64    `ch:"time"` // epoch ms
	Signer     string   `ch:"signer"`
	Recipients []string `ch:"recipients"`
}
