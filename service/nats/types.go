package nats

import (
	"time"

	"github.com/arbwatch/indexer/service/solana"
)

// BurnEvent represents an ingested transaction published to NATS.
// This is published to the subject "burns.{fee_payer}" in JetStream.
type BurnEvent struct {
	// Transaction identifiers
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`

	// Outcome
	Success          bool    `json:"success"`
	ErrorType        string  `json:"error_type,omitempty"`
	ArbitrageSuccess *bool   `json:"arbitrage_success,omitempty"`

	// Cost
	FeePayer     string  `json:"fee_payer"`
	FeeLamports  uint64  `json:"fee_lamports"`
	ComputeUnits *uint64 `json:"compute_units,omitempty"`

	// Program activity (noise programs excluded)
	ProgramCounts map[string]int `json:"program_counts,omitempty"`

	// Timing information
	BlockTime   *time.Time `json:"block_time,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
}

// FromRecord converts a decoded transaction record to a BurnEvent for publishing.
func FromRecord(rec *solana.TransactionRecord) *BurnEvent {
	return &BurnEvent{
		Signature:        rec.Signature,
		Slot:             rec.Slot,
		Success:          rec.Success,
		ErrorType:        rec.ErrorType,
		ArbitrageSuccess: rec.ArbitrageSuccess,
		FeePayer:         rec.FeePayer,
		FeeLamports:      rec.FeeLamports,
		ComputeUnits:     rec.ComputeUnits,
		ProgramCounts:    rec.ProgramCounts,
		BlockTime:        rec.BlockTime,
		PublishedAt:      time.Now().UTC(),
	}
}
