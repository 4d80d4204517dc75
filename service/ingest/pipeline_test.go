package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	sgo "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbwatch/indexer/service/metrics"
	"github.com/arbwatch/indexer/service/nats"
	"github.com/arbwatch/indexer/service/solana"
	"github.com/arbwatch/indexer/service/stream"
)

var (
	testBotKey   = sgo.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	testOtherKey = sgo.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

// fakeEnricher returns a canned block time or error.
type fakeEnricher struct {
	mu        sync.Mutex
	blockTime time.Time
	err       error
	calls     int
}

func (e *fakeEnricher) BlockTime(ctx context.Context, slot uint64) (*time.Time, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	bt := e.blockTime
	return &bt, nil
}

func (e *fakeEnricher) setError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// fakeStore records saves, optionally slowly.
type fakeStore struct {
	mu    sync.Mutex
	saved []*solana.TransactionRecord
	delay time.Duration
}

func (s *fakeStore) SaveRecord(ctx context.Context, rec *solana.TransactionRecord) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, rec)
	return nil
}

func (s *fakeStore) records() []*solana.TransactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*solana.TransactionRecord, len(s.saved))
	copy(out, s.saved)
	return out
}

// makeUpdate wraps a transaction in the wire envelope, base64-encoded
// the way the subscription delivers it. The envelope's fields are
// unexported, so it is populated through a JSON round-trip.
func makeUpdate(t *testing.T, slot uint64, tx *sgo.Transaction, meta *rpc.TransactionMeta) stream.Update {
	t.Helper()

	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	payload, err := json.Marshal(struct {
		Transaction []string `json:"transaction"`
	}{Transaction: []string{base64.StdEncoding.EncodeToString(raw), "base64"}})
	require.NoError(t, err)

	var env rpc.TransactionWithMeta
	require.NoError(t, json.Unmarshal(payload, &env))
	env.Meta = meta

	return stream.Update{Slot: slot, Tx: env}
}

func makeSwapTx(sigByte byte) *sgo.Transaction {
	var sig sgo.Signature
	sig[0] = sigByte
	sig[1] = 1
	return &sgo.Transaction{
		Signatures: []sgo.Signature{sig},
		Message: sgo.Message{
			AccountKeys: []sgo.PublicKey{
				testBotKey,
				testOtherKey,
				solana.ComputeBudgetProgramID,
				solana.RaydiumAMMV4ProgramID,
			},
			Instructions: []sgo.CompiledInstruction{
				{ProgramIDIndex: 2, Accounts: []uint16{0}},
				{ProgramIDIndex: 3, Accounts: []uint16{0, 1}},
			},
		},
	}
}

func newTestPipeline(cfg Config, enricher BlockTimeSource, store RecordStore, pub nats.Publisher) *Pipeline {
	m := metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, enricher, store, pub, m, logger)
}

func runPipeline(t *testing.T, p *Pipeline, updates []stream.Update) {
	t.Helper()

	ch := make(chan stream.Update, len(updates))
	for _, u := range updates {
		ch <- u
	}
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Run(ctx, ch))
}

func TestPipeline_SuccessfulArbitrage(t *testing.T) {
	blockTime := time.Unix(1700000000, 0).UTC()
	enricher := &fakeEnricher{blockTime: blockTime}
	store := &fakeStore{}
	pub := nats.NewMockPublisher()
	p := newTestPipeline(Config{Workers: 2, ShutdownGrace: time.Second}, enricher, store, pub)

	meta := &rpc.TransactionMeta{
		Fee: 5000,
		LogMessages: []string{
			"Program 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8 invoke [1]",
			"Program log: Instruction: Swap",
		},
	}
	runPipeline(t, p, []stream.Update{makeUpdate(t, 100, makeSwapTx(1), meta)})

	recs := store.records()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.True(t, rec.Success)
	assert.Equal(t, uint64(100), rec.Slot)
	assert.Equal(t, testBotKey.String(), rec.FeePayer)
	require.NotNil(t, rec.ArbitrageSuccess)
	assert.True(t, *rec.ArbitrageSuccess)
	require.NotNil(t, rec.BlockTime)
	assert.Equal(t, blockTime, *rec.BlockTime)
	// Compute budget is noise, only the venue program is counted.
	assert.Equal(t, map[string]int{solana.RaydiumAMMV4ProgramID.String(): 1}, rec.ProgramCounts)

	events := pub.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, rec.Signature, events[0].Signature)
	assert.Equal(t, rec.FeePayer, events[0].FeePayer)
}

func TestPipeline_SubjectProgramExcludedFromHotspots(t *testing.T) {
	enricher := &fakeEnricher{blockTime: time.Now()}
	store := &fakeStore{}
	p := newTestPipeline(Config{
		ProgramID:     solana.RaydiumAMMV4ProgramID.String(),
		Workers:       1,
		ShutdownGrace: time.Second,
	}, enricher, store, nil)

	// The swap tx invokes the subject program plus Jupiter. Only the
	// latter may surface as a hotspot.
	var sig sgo.Signature
	sig[0] = 9
	tx := &sgo.Transaction{
		Signatures: []sgo.Signature{sig},
		Message: sgo.Message{
			AccountKeys: []sgo.PublicKey{
				testBotKey,
				solana.RaydiumAMMV4ProgramID,
				solana.JupiterV6ProgramID,
			},
			Instructions: []sgo.CompiledInstruction{
				{ProgramIDIndex: 1, Accounts: []uint16{0}},
				{ProgramIDIndex: 2, Accounts: []uint16{0}},
			},
		},
	}
	runPipeline(t, p, []stream.Update{makeUpdate(t, 150, tx, &rpc.TransactionMeta{Fee: 5000})})

	recs := store.records()
	require.Len(t, recs, 1)
	assert.Equal(t, map[string]int{solana.JupiterV6ProgramID.String(): 1}, recs[0].ProgramCounts)
	assert.NotContains(t, recs[0].ProgramCounts, solana.RaydiumAMMV4ProgramID.String())
}

func TestPipeline_FailedTransactionClassified(t *testing.T) {
	enricher := &fakeEnricher{blockTime: time.Now()}
	store := &fakeStore{}
	p := newTestPipeline(Config{Workers: 1, ShutdownGrace: time.Second}, enricher, store, nil)

	meta := &rpc.TransactionMeta{
		Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
		Fee: 5000,
		LogMessages: []string{
			"Transfer: insufficient lamports 100, need 5000",
		},
	}
	runPipeline(t, p, []stream.Update{makeUpdate(t, 200, makeSwapTx(2), meta)})

	recs := store.records()
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Success)
	assert.Equal(t, "insufficient funds", recs[0].ErrorType)
	assert.Nil(t, recs[0].ArbitrageSuccess)
}

func TestPipeline_MalformedUpdateSkipped(t *testing.T) {
	enricher := &fakeEnricher{blockTime: time.Now()}
	store := &fakeStore{}
	p := newTestPipeline(Config{Workers: 1, ShutdownGrace: time.Second}, enricher, store, nil)

	malformed := stream.Update{Slot: 300, Tx: rpc.TransactionWithMeta{}}
	good := makeUpdate(t, 301, makeSwapTx(3), &rpc.TransactionMeta{Fee: 5000})

	runPipeline(t, p, []stream.Update{malformed, good})

	recs := store.records()
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(301), recs[0].Slot)
}

func TestPipeline_BotAccountFilter(t *testing.T) {
	enricher := &fakeEnricher{blockTime: time.Now()}
	store := &fakeStore{}
	p := newTestPipeline(Config{BotAccount: testBotKey.String(), Workers: 1, ShutdownGrace: time.Second}, enricher, store, nil)

	foreign := makeSwapTx(4)
	foreign.Message.AccountKeys[0] = testOtherKey

	runPipeline(t, p, []stream.Update{
		makeUpdate(t, 400, foreign, &rpc.TransactionMeta{Fee: 5000}),
		makeUpdate(t, 401, makeSwapTx(5), &rpc.TransactionMeta{Fee: 5000}),
	})

	recs := store.records()
	require.Len(t, recs, 1)
	assert.Equal(t, testBotKey.String(), recs[0].FeePayer)
}

func TestPipeline_EnrichmentFailureThenRedelivery(t *testing.T) {
	blockTime := time.Unix(1700000000, 0).UTC()
	enricher := &fakeEnricher{blockTime: blockTime}
	enricher.setError(errors.New("rpc timeout"))
	store := &fakeStore{}
	p := newTestPipeline(Config{Workers: 1, ShutdownGrace: time.Second}, enricher, store, nil)

	update := makeUpdate(t, 500, makeSwapTx(6), &rpc.TransactionMeta{Fee: 5000})

	// First delivery: enrichment fails, record written without a block time.
	runPipeline(t, p, []stream.Update{update})
	recs := store.records()
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].BlockTime)

	// Redelivery after the RPC recovers fills the block time in.
	enricher.setError(nil)
	runPipeline(t, p, []stream.Update{update})
	recs = store.records()
	require.Len(t, recs, 2)
	require.NotNil(t, recs[1].BlockTime)
	assert.Equal(t, blockTime, *recs[1].BlockTime)
	assert.Equal(t, recs[0].Signature, recs[1].Signature)
}

func TestPipeline_PublishErrorDoesNotBlockWrites(t *testing.T) {
	enricher := &fakeEnricher{blockTime: time.Now()}
	store := &fakeStore{}
	pub := nats.NewMockPublisher()
	pub.SetPublishError(errors.New("nats unavailable"))
	p := newTestPipeline(Config{Workers: 1, ShutdownGrace: time.Second}, enricher, store, pub)

	runPipeline(t, p, []stream.Update{makeUpdate(t, 600, makeSwapTx(7), &rpc.TransactionMeta{Fee: 5000})})

	require.Len(t, store.records(), 1)
	assert.Equal(t, 0, pub.GetPublishedEventCount())
}

func TestPipeline_BurstDrainsWithoutDrops(t *testing.T) {
	enricher := &fakeEnricher{blockTime: time.Now()}
	store := &fakeStore{delay: 5 * time.Millisecond}
	p := newTestPipeline(Config{Workers: 4, ShutdownGrace: 5 * time.Second}, enricher, store, nil)

	const burst = 40
	updates := make([]stream.Update, 0, burst)
	for i := 0; i < burst; i++ {
		updates = append(updates, makeUpdate(t, uint64(1000+i), makeSwapTx(byte(10+i)), &rpc.TransactionMeta{Fee: 5000}))
	}
	runPipeline(t, p, updates)

	recs := store.records()
	require.Len(t, recs, burst)

	seen := make(map[string]bool, burst)
	for _, rec := range recs {
		require.False(t, seen[rec.Signature], fmt.Sprintf("duplicate record %s", rec.Signature))
		seen[rec.Signature] = true
	}
}

func TestPipeline_StopsOnContextCancel(t *testing.T) {
	enricher := &fakeEnricher{blockTime: time.Now()}
	store := &fakeStore{}
	p := newTestPipeline(Config{Workers: 1, ShutdownGrace: time.Second}, enricher, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan stream.Update)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, updates) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not stop after cancellation")
	}
}
