package solana

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/arbwatch/indexer/service/metrics"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real
// Solana nodes. *rpc.Client satisfies it.
type RPCClient interface {
	GetBlockTime(ctx context.Context, slot uint64) (*solana.UnixTimeSeconds, error)
}

// BlockTimeFetcher resolves an approximate wall-clock timestamp for a
// slot. Transient RPC failures are retried with exponential backoff up
// to a small attempt budget; calls are rate limited and guarded by a
// circuit breaker so a dead RPC node fails fast instead of stalling the
// enrichment worker pool on timeouts.
type BlockTimeFetcher struct {
	rpc     RPCClient
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*solana.UnixTimeSeconds]
	timeout time.Duration
	backoff time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

const blockTimeMaxAttempts = 3

// NewBlockTimeFetcher creates a fetcher. rps bounds the request rate to
// the RPC node; timeout bounds each individual lookup attempt. If m is
// nil, no metrics are recorded.
func NewBlockTimeFetcher(rpcClient RPCClient, rps int, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *BlockTimeFetcher {
	breaker := gobreaker.NewCircuitBreaker[*solana.UnixTimeSeconds](gobreaker.Settings{
		Name:    "block-time-rpc",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &BlockTimeFetcher{
		rpc:     rpcClient,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		breaker: breaker,
		timeout: timeout,
		backoff: time.Second,
		logger:  logger,
		metrics: m,
	}
}

// BlockTime returns the approximate timestamp for the slot, or nil when
// the chain has no block time for it (skipped slot, pruned history).
// After retries are exhausted it returns the last error rather than
// blocking the record indefinitely; the caller persists a null
// block_time and a later redelivery may fill it in.
func (f *BlockTimeFetcher) BlockTime(ctx context.Context, slot uint64) (*time.Time, error) {
	var lastErr error

	for attempt := 0; attempt < blockTimeMaxAttempts; attempt++ {
		if attempt > 0 {
			f.metrics.RecordEnrichRetry()
			wait := f.backoff << uint(attempt-1)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		ts, err := f.breaker.Execute(func() (*solana.UnixTimeSeconds, error) {
			callCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			return f.rpc.GetBlockTime(callCtx, slot)
		})
		duration := time.Since(start).Seconds()

		if err == nil {
			f.metrics.RecordEnrichCall("success", duration)
			if ts == nil {
				return nil, nil
			}
			t := ts.Time().UTC()
			return &t, nil
		}

		if isBlockTimeUnavailable(err) {
			f.metrics.RecordEnrichCall("unavailable", duration)
			return nil, nil
		}

		f.metrics.RecordEnrichCall("error", duration)
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) {
			// No point retrying while the breaker is open.
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		f.logger.WarnContext(ctx, "block time lookup failed",
			"slot", slot,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return nil, lastErr
}

// isBlockTimeUnavailable reports whether the error is the node telling
// us the slot has no block time, as opposed to a transient failure.
func isBlockTimeUnavailable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "skipped") ||
		strings.Contains(msg, "not available") ||
		strings.Contains(msg, "not found")
}
