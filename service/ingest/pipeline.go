package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/arbwatch/indexer/service/metrics"
	"github.com/arbwatch/indexer/service/nats"
	"github.com/arbwatch/indexer/service/solana"
	"github.com/arbwatch/indexer/service/stream"
)

// BlockTimeSource resolves the wall-clock time of a slot.
type BlockTimeSource interface {
	BlockTime(ctx context.Context, slot uint64) (*time.Time, error)
}

// RecordStore persists fully formed transaction records.
type RecordStore interface {
	SaveRecord(ctx context.Context, rec *solana.TransactionRecord) error
}

// Config holds pipeline tuning knobs.
type Config struct {
	// ProgramID is the subject program the subscription follows. It is
	// added to the noise set: the bot's own program is ambient in every
	// transaction and must not show up as a hotspot.
	ProgramID string

	// BotAccount, when set, restricts ingestion to transactions whose
	// fee payer matches it. Empty means ingest everything the
	// subscription delivers.
	BotAccount string

	// Workers is the number of concurrent enrich-and-write workers.
	Workers int

	// ShutdownGrace bounds how long in-flight records may take to
	// drain after the update channel closes.
	ShutdownGrace time.Duration
}

const (
	defaultWorkers       = 8
	defaultShutdownGrace = 20 * time.Second

	writeMaxAttempts = 3
	writeBackoff     = 250 * time.Millisecond
)

// Pipeline turns raw stream updates into persisted, classified,
// enriched records. Decode and classification happen inline on the
// read loop; the slower block-time lookup and database write are
// fanned out to a bounded worker pool. Handoff to the pool blocks,
// so a slow sink backpressures the read loop instead of dropping
// updates.
type Pipeline struct {
	cfg        Config
	classifier *solana.Classifier
	noise      solana.NoiseSet
	enricher   BlockTimeSource
	store      RecordStore
	publisher  nats.Publisher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a Pipeline. publisher may be nil, in which case events
// are not published.
func New(cfg Config, enricher BlockTimeSource, store RecordStore, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}
	var extraNoise []string
	if cfg.ProgramID != "" {
		extraNoise = append(extraNoise, cfg.ProgramID)
	}
	return &Pipeline{
		cfg:        cfg,
		classifier: solana.DefaultClassifier(),
		noise:      solana.NewNoiseSet(extraNoise...),
		enricher:   enricher,
		store:      store,
		publisher:  publisher,
		metrics:    m,
		logger:     logger,
	}
}

// Run consumes updates until the channel closes or ctx is cancelled,
// then drains in-flight records within the shutdown grace window.
// Records enqueued before shutdown always complete or time out; they
// are never abandoned silently.
func (p *Pipeline) Run(ctx context.Context, updates <-chan stream.Update) error {
	// Workers get a context that outlives ctx cancellation so records
	// already handed off can finish during the drain window.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	jobs := make(chan *solana.TransactionRecord)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				p.process(workCtx, rec)
			}
		}()
	}

read:
	for {
		select {
		case <-ctx.Done():
			break read
		case u, ok := <-updates:
			if !ok {
				break read
			}
			rec := p.prepare(ctx, u)
			if rec == nil {
				continue
			}
			select {
			case jobs <- rec:
			case <-ctx.Done():
				// Shutdown raced the handoff. Process the record on
				// the read loop so it is not lost.
				p.process(workCtx, rec)
				break read
			}
		}
	}

	close(jobs)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.InfoContext(workCtx, "pipeline drained")
	case <-time.After(p.cfg.ShutdownGrace):
		p.logger.WarnContext(workCtx, "shutdown grace expired, aborting in-flight records",
			"grace", p.cfg.ShutdownGrace)
		cancelWork()
		<-done
	}
	return nil
}

// prepare decodes, filters, classifies, and aggregates an update on
// the read loop. It returns nil when the update should be dropped
// (malformed) or skipped (foreign fee payer).
func (p *Pipeline) prepare(ctx context.Context, u stream.Update) *solana.TransactionRecord {
	rec, err := solana.DecodeUpdate(u.Slot, &u.Tx)
	if err != nil {
		p.metrics.RecordDecodeFailure()
		p.logger.WarnContext(ctx, "failed to decode update",
			"slot", u.Slot,
			"error", err,
		)
		return nil
	}

	if p.cfg.BotAccount != "" && rec.FeePayer != p.cfg.BotAccount {
		p.metrics.RecordRecordDecoded("skipped")
		return nil
	}

	p.classifier.Classify(rec)
	rec.ProgramCounts = solana.CountPrograms(rec.ProgramIDs, p.noise)

	if rec.Success {
		p.metrics.RecordRecordDecoded("success")
	} else {
		p.metrics.RecordRecordDecoded("failed")
		p.metrics.RecordFailureType(rec.ErrorType)
	}
	if rec.ArbitrageSuccess == nil {
		p.metrics.RecordArbLabel("unset")
	} else if *rec.ArbitrageSuccess {
		p.metrics.RecordArbLabel("true")
	} else {
		p.metrics.RecordArbLabel("false")
	}
	return rec
}

// process enriches and persists one record on a worker goroutine.
func (p *Pipeline) process(ctx context.Context, rec *solana.TransactionRecord) {
	blockTime, err := p.enricher.BlockTime(ctx, rec.Slot)
	if err != nil {
		// Enrichment is best effort. The record is written without a
		// block time and a redelivery can fill it in later.
		p.logger.WarnContext(ctx, "block time enrichment failed",
			"signature", rec.Signature,
			"slot", rec.Slot,
			"error", err,
		)
	} else {
		rec.BlockTime = blockTime
	}

	if err := p.write(ctx, rec); err != nil {
		p.logger.ErrorContext(ctx, "failed to persist record",
			"signature", rec.Signature,
			"slot", rec.Slot,
			"error", err,
		)
		return
	}

	p.logger.InfoContext(ctx, "record persisted",
		"signature", rec.Signature,
		"slot", rec.Slot,
		"success", rec.Success,
		"fee_lamports", rec.FeeLamports,
	)

	if p.publisher != nil {
		if err := p.publisher.PublishBurn(ctx, nats.FromRecord(rec)); err != nil {
			p.metrics.RecordEventPublished("error")
			p.logger.WarnContext(ctx, "failed to publish burn event",
				"signature", rec.Signature,
				"error", err,
			)
		} else {
			p.metrics.RecordEventPublished("ok")
		}
	}
}

// write persists the record, retrying transient database errors.
func (p *Pipeline) write(ctx context.Context, rec *solana.TransactionRecord) error {
	var err error
	for attempt := 1; attempt <= writeMaxAttempts; attempt++ {
		start := time.Now()
		err = p.store.SaveRecord(ctx, rec)
		if err == nil {
			p.metrics.RecordWrite("ok", time.Since(start).Seconds())
			return nil
		}
		p.metrics.RecordWrite("error", time.Since(start).Seconds())
		if ctx.Err() != nil {
			return err
		}
		if attempt < writeMaxAttempts {
			select {
			case <-time.After(writeBackoff << uint(attempt-1)):
			case <-ctx.Done():
				return err
			}
		}
	}
	return err
}
