package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbwatch/indexer/service/solana"
)

// Store provides database operations for the indexer. Writes are
// idempotent upserts keyed by signature, so redelivered updates and
// late-arriving enrichment converge to the same persisted state.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// schema is executed at startup. Columns added after the initial
// release use ALTER ... IF NOT EXISTS so existing deployments pick them
// up without a migration step. fee mirrors fee_lamports and is kept for
// consumers of the original column name.
const schema = `
CREATE TABLE IF NOT EXISTS burns (
  signature TEXT PRIMARY KEY,
  slot BIGINT NOT NULL,
  success BOOLEAN NOT NULL,
  fee_lamports BIGINT NOT NULL,
  fee BIGINT NOT NULL,
  fee_payer TEXT NOT NULL,
  block_time TIMESTAMPTZ NULL,
  ingest_ts TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE IF EXISTS burns ADD COLUMN IF NOT EXISTS compute_units BIGINT;
ALTER TABLE IF EXISTS burns ADD COLUMN IF NOT EXISTS arbitrage_success BOOLEAN;
CREATE TABLE IF NOT EXISTS tx_failures (
  signature TEXT PRIMARY KEY,
  error_type TEXT NOT NULL,
  slot BIGINT NOT NULL,
  ts TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS tx_instructions (
  signature TEXT NOT NULL,
  program_id TEXT NOT NULL,
  num_instructions INT NOT NULL,
  PRIMARY KEY (signature, program_id)
);
`

// EnsureSchema creates the three tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveRecord persists a fully formed record as one transaction:
// the primary burns row, the failure-taxonomy row (iff the transaction
// failed), and one hotspot row per non-noise program. The burns upsert
// uses COALESCE on the optional columns so a redelivery or a write that
// raced enrichment never regresses an already-populated field to null.
func (s *Store) SaveRecord(ctx context.Context, rec *solana.TransactionRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO burns (signature, slot, success, fee_lamports, fee, fee_payer, block_time, compute_units, arbitrage_success)
		 VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8)
		 ON CONFLICT (signature) DO UPDATE SET
		   slot = EXCLUDED.slot,
		   success = EXCLUDED.success,
		   fee_lamports = EXCLUDED.fee_lamports,
		   fee = EXCLUDED.fee,
		   fee_payer = EXCLUDED.fee_payer,
		   block_time = COALESCE(EXCLUDED.block_time, burns.block_time),
		   compute_units = COALESCE(EXCLUDED.compute_units, burns.compute_units),
		   arbitrage_success = COALESCE(EXCLUDED.arbitrage_success, burns.arbitrage_success)`,
		rec.Signature,
		int64(rec.Slot),
		rec.Success,
		int64(rec.FeeLamports),
		rec.FeePayer,
		rec.BlockTime,
		int64PtrFromUint64Ptr(rec.ComputeUnits),
		rec.ArbitrageSuccess,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert burn: %w", err)
	}

	if !rec.Success {
		// The classification is deterministic, so replace-on-conflict
		// is safe here.
		_, err = tx.Exec(ctx,
			`INSERT INTO tx_failures (signature, error_type, slot)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (signature) DO UPDATE SET
			   error_type = EXCLUDED.error_type,
			   slot = EXCLUDED.slot`,
			rec.Signature,
			rec.ErrorType,
			int64(rec.Slot),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert failure: %w", err)
		}
	}

	for programID, count := range rec.ProgramCounts {
		if count <= 0 {
			continue
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO tx_instructions (signature, program_id, num_instructions)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (signature, program_id) DO UPDATE SET
			   num_instructions = EXCLUDED.num_instructions`,
			rec.Signature,
			programID,
			count,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert instructions: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit record: %w", err)
	}
	return nil
}

// Burn is one persisted transaction-fact row.
type Burn struct {
	Signature        string
	Slot             int64
	Success          bool
	FeeLamports      int64
	Fee              int64
	FeePayer         string
	BlockTime        *time.Time
	ComputeUnits     *int64
	ArbitrageSuccess *bool
	IngestTS         time.Time
}

// Failure is one persisted failure-taxonomy row.
type Failure struct {
	Signature string
	ErrorType string
	Slot      int64
	TS        time.Time
}

// Hotspot is one persisted (signature, program) invocation-count row.
type Hotspot struct {
	Signature       string
	ProgramID       string
	NumInstructions int32
}

// FeePayerTotal aggregates burned fees per fee payer.
type FeePayerTotal struct {
	FeePayer      string
	TotalLamports int64
	TxCount       int64
}

// FailureCount aggregates failed transactions per normalized error type.
type FailureCount struct {
	ErrorType string
	Count     int64
}

// ProgramTotal aggregates hotspot rows per external program.
type ProgramTotal struct {
	ProgramID    string
	Invocations  int64
	Transactions int64
}

const burnColumns = `signature, slot, success, fee_lamports, fee, fee_payer, block_time, compute_units, arbitrage_success, ingest_ts`

// GetBurn retrieves a burn row by its signature.
func (s *Store) GetBurn(ctx context.Context, signature string) (*Burn, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+burnColumns+` FROM burns WHERE signature = $1`, signature)
	return scanBurn(row)
}

// ListRecentBurns retrieves the most recently ingested burns.
func (s *Store) ListRecentBurns(ctx context.Context, limit int32) ([]*Burn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+burnColumns+` FROM burns ORDER BY ingest_ts DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var burns []*Burn
	for rows.Next() {
		b, err := scanBurn(rows)
		if err != nil {
			return nil, err
		}
		burns = append(burns, b)
	}
	return burns, rows.Err()
}

// GetFailure retrieves a failure row by its signature.
func (s *Store) GetFailure(ctx context.Context, signature string) (*Failure, error) {
	var f Failure
	err := s.pool.QueryRow(ctx,
		`SELECT signature, error_type, slot, ts FROM tx_failures WHERE signature = $1`,
		signature,
	).Scan(&f.Signature, &f.ErrorType, &f.Slot, &f.TS)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListHotspots retrieves the hotspot rows for a signature.
func (s *Store) ListHotspots(ctx context.Context, signature string) ([]*Hotspot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT signature, program_id, num_instructions FROM tx_instructions
		 WHERE signature = $1 ORDER BY program_id`, signature)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hotspots []*Hotspot
	for rows.Next() {
		var h Hotspot
		if err := rows.Scan(&h.Signature, &h.ProgramID, &h.NumInstructions); err != nil {
			return nil, err
		}
		hotspots = append(hotspots, &h)
	}
	return hotspots, rows.Err()
}

// TopFeePayers aggregates total burned lamports per fee payer,
// descending.
func (s *Store) TopFeePayers(ctx context.Context, limit int32) ([]*FeePayerTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fee_payer, SUM(fee_lamports) AS total, COUNT(*) AS txs
		 FROM burns GROUP BY fee_payer ORDER BY total DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []*FeePayerTotal
	for rows.Next() {
		var t FeePayerTotal
		if err := rows.Scan(&t.FeePayer, &t.TotalLamports, &t.TxCount); err != nil {
			return nil, err
		}
		totals = append(totals, &t)
	}
	return totals, rows.Err()
}

// FailureSummary counts failed transactions per error type, descending.
func (s *Store) FailureSummary(ctx context.Context) ([]*FailureCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT error_type, COUNT(*) AS cnt
		 FROM tx_failures GROUP BY error_type ORDER BY cnt DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []*FailureCount
	for rows.Next() {
		var c FailureCount
		if err := rows.Scan(&c.ErrorType, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, &c)
	}
	return counts, rows.Err()
}

// ProgramHotspots aggregates invocation counts per external program
// across all transactions, descending.
func (s *Store) ProgramHotspots(ctx context.Context, limit int32) ([]*ProgramTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT program_id, SUM(num_instructions) AS invocations, COUNT(DISTINCT signature) AS txs
		 FROM tx_instructions GROUP BY program_id ORDER BY invocations DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []*ProgramTotal
	for rows.Next() {
		var t ProgramTotal
		if err := rows.Scan(&t.ProgramID, &t.Invocations, &t.Transactions); err != nil {
			return nil, err
		}
		totals = append(totals, &t)
	}
	return totals, rows.Err()
}

// scanBurn scans one burns row from either a Row or Rows.
func scanBurn(row pgx.Row) (*Burn, error) {
	var b Burn
	err := row.Scan(
		&b.Signature,
		&b.Slot,
		&b.Success,
		&b.FeeLamports,
		&b.Fee,
		&b.FeePayer,
		&b.BlockTime,
		&b.ComputeUnits,
		&b.ArbitrageSuccess,
		&b.IngestTS,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func int64PtrFromUint64Ptr(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	signed := int64(*v)
	return &signed
}
