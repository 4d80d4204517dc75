package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"github.com/arbwatch/indexer/service/metrics"
)

// Update is one raw transaction update from the stream: the slot it
// landed in plus the wire-encoded transaction and its metadata.
type Update struct {
	Slot uint64
	Tx   rpc.TransactionWithMeta
}

// Config holds subscriber configuration.
type Config struct {
	WSURL          string
	AuthToken      string
	ProgramID      solana.PublicKey
	Commitment     rpc.CommitmentType
	BufferSize     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// ErrFatalSubscribe marks subscription errors that retrying cannot fix
// (bad credentials, rejected filter). They are surfaced to the operator
// instead of being retried.
var ErrFatalSubscribe = errors.New("fatal subscribe error")

// blockStream abstracts one live block subscription so tests can drive
// the subscriber without a websocket.
type blockStream interface {
	Recv(ctx context.Context) (*ws.BlockResult, error)
	Close()
}

// connectFunc establishes a new subscription. Injectable for tests.
type connectFunc func(ctx context.Context) (blockStream, error)

// Subscriber owns the long-lived stream connection. It subscribes to
// blocks mentioning the subject program, forwards every contained
// transaction as an Update on a bounded channel, and reconnects with
// jittered exponential backoff on transient failures. When the channel
// is full the subscriber blocks (backpressure) rather than dropping
// updates it has already received. There is no cursor: delivery after a
// reconnect may repeat or skip.
type Subscriber struct {
	cfg     Config
	connect connectFunc
	updates chan Update
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Subscriber for the configured websocket endpoint.
func New(cfg Config, m *metrics.Metrics, logger *slog.Logger) *Subscriber {
	s := &Subscriber{
		cfg:     cfg,
		updates: make(chan Update, cfg.BufferSize),
		logger:  logger,
		metrics: m,
	}
	s.connect = s.dial
	return s
}

// Updates returns the channel of raw updates. It is closed when Run
// returns.
func (s *Subscriber) Updates() <-chan Update {
	return s.updates
}

// Run drives the subscribe/consume/reconnect loop until the context is
// cancelled or a fatal subscription error occurs.
func (s *Subscriber) Run(ctx context.Context) error {
	defer close(s.updates)

	backoff := s.cfg.InitialBackoff
	for {
		stream, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrFatalSubscribe) {
				s.logger.ErrorContext(ctx, "subscription rejected", "error", err)
				return err
			}
			s.metrics.RecordStreamReconnect()
			s.logger.WarnContext(ctx, "stream connect failed, backing off",
				"error", err,
				"backoff", backoff,
			)
			if !sleepCtx(ctx, withJitter(backoff)) {
				return nil
			}
			backoff = nextBackoff(backoff, s.cfg.MaxBackoff)
			continue
		}

		s.logger.InfoContext(ctx, "subscribed to transaction stream",
			"program", s.cfg.ProgramID.String(),
			"commitment", string(s.cfg.Commitment),
		)

		delivered, err := s.consume(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return nil
		}
		if delivered > 0 {
			// The connection was healthy; start the backoff ladder over.
			backoff = s.cfg.InitialBackoff
		}

		s.metrics.RecordStreamReconnect()
		s.logger.WarnContext(ctx, "stream ended, reconnecting",
			"error", err,
			"updates_delivered", delivered,
			"backoff", backoff,
		)
		if !sleepCtx(ctx, withJitter(backoff)) {
			return nil
		}
		backoff = nextBackoff(backoff, s.cfg.MaxBackoff)
	}
}

// consume reads block results until the stream errors, forwarding each
// contained transaction in receipt order. Returns how many updates were
// delivered downstream.
func (s *Subscriber) consume(ctx context.Context, stream blockStream) (int, error) {
	delivered := 0
	for {
		result, err := stream.Recv(ctx)
		if err != nil {
			return delivered, err
		}
		if result == nil || result.Value.Block == nil {
			continue
		}

		slot := result.Value.Slot
		if slot == 0 {
			slot = result.Context.Slot
		}
		for _, tx := range result.Value.Block.Transactions {
			s.metrics.RecordStreamUpdate("received")
			select {
			case s.updates <- Update{Slot: slot, Tx: tx}:
				delivered++
				s.metrics.SetStreamBufferDepth(len(s.updates))
			case <-ctx.Done():
				return delivered, ctx.Err()
			}
		}
	}
}

// dial opens the websocket connection and subscribes to blocks
// mentioning the subject program, with full transaction details.
func (s *Subscriber) dial(ctx context.Context) (blockStream, error) {
	var opt *ws.Options
	if s.cfg.AuthToken != "" {
		opt = &ws.Options{
			HttpHeader: http.Header{"x-token": []string{s.cfg.AuthToken}},
		}
	}

	client, err := ws.ConnectWithOptions(ctx, s.cfg.WSURL, opt)
	if err != nil {
		if isFatalSubscribeError(err) {
			return nil, fmt.Errorf("%w: %v", ErrFatalSubscribe, err)
		}
		return nil, fmt.Errorf("failed to connect to stream: %w", err)
	}

	rewards := false
	maxVersion := uint64(0)
	sub, err := client.BlockSubscribe(
		ws.NewBlockSubscribeFilterMentionsAccountOrProgram(s.cfg.ProgramID),
		&ws.BlockSubscribeOpts{
			Commitment:                     s.cfg.Commitment,
			Encoding:                       solana.EncodingBase64,
			TransactionDetails:             rpc.TransactionDetailsFull,
			Rewards:                        &rewards,
			MaxSupportedTransactionVersion: &maxVersion,
		},
	)
	if err != nil {
		client.Close()
		if isFatalSubscribeError(err) {
			return nil, fmt.Errorf("%w: %v", ErrFatalSubscribe, err)
		}
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return &wsStream{client: client, sub: sub}, nil
}

// wsStream adapts a live websocket subscription to blockStream.
type wsStream struct {
	client *ws.Client
	sub    *ws.BlockSubscription
}

func (w *wsStream) Recv(ctx context.Context) (*ws.BlockResult, error) {
	return w.sub.Recv(ctx)
}

func (w *wsStream) Close() {
	w.sub.Unsubscribe()
	w.client.Close()
}

// isFatalSubscribeError distinguishes auth/filter rejections from
// transient network failures.
func isFatalSubscribeError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"401", "403",
		"unauthorized", "forbidden",
		"invalid param", "invalid request",
		"api key",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// nextBackoff doubles the delay up to the configured maximum.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		next = max
	}
	return next
}

// withJitter spreads reconnect attempts by up to ±25% so restarts of
// many instances do not thundering-herd the stream provider.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	half := int64(d / 2)
	if half == 0 {
		return d
	}
	return d - time.Duration(half/2) + time.Duration(rand.Int63n(half))
}

// sleepCtx sleeps for d, returning false if the context was cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
