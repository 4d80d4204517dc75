package solana

import "time"

// TransactionRecord is the unit flowing through the ingest pipeline.
// The decoder creates it, the classifier and aggregator fill in the
// derived fields, and enrichment populates BlockTime before the write.
type TransactionRecord struct {
	Signature   string
	Slot        uint64
	Success     bool
	FeeLamports uint64
	FeePayer    string

	// ComputeUnits is nil when the runtime did not report it.
	ComputeUnits *uint64

	// BlockTime is populated asynchronously by enrichment and stays nil
	// when the lookup fails; a later redelivery may fill it in via upsert.
	BlockTime *time.Time

	// ArbitrageSuccess is the heuristic label. It is nil for failed
	// transactions, where the heuristic does not apply.
	ArbitrageSuccess *bool

	// ErrorType is the normalized failure category, set only when
	// Success is false.
	ErrorType string

	// RuntimeErr is the raw on-chain error as reported by the runtime,
	// empty for successful transactions.
	RuntimeErr string

	// ProgramIDs is the ordered list of invoked program ids, top-level
	// and inner instructions included.
	ProgramIDs []string

	// LogLines are the raw program log messages.
	LogLines []string

	// ProgramCounts maps non-noise program id to invocation count.
	ProgramCounts map[string]int
}
