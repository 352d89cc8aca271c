// Package relay delivers committed outbox events to external sinks in
// sequence order. Each sink keeps its own cursor in the store, so delivery
// is at-least-once and resumes after a restart.
package relay

import (
	"context"
	"fmt"
	"time"

	"NeuroVault/internal/event"
	"NeuroVault/internal/ledger"
	"NeuroVault/internal/observability"
	"NeuroVault/internal/store"

	"github.com/rs/zerolog"
)

// Sink receives envelopes one at a time, in sequence order. Publish must
// return only once the sink has accepted the envelope.
type Sink interface {
	Name() string
	Publish(ctx context.Context, env event.Envelope) error
	Close() error
}

type Options struct {
	BatchSize      int
	PollInterval   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	return o
}

// Relay tails the outbox for one sink.
type Relay struct {
	store   store.Store
	sink    Sink
	opts    Options
	logger  zerolog.Logger
	metrics *observability.Metrics

	verifier *event.ChainVerifier
}

func New(st store.Store, sink Sink, opts Options, logger zerolog.Logger, metrics *observability.Metrics) *Relay {
	return &Relay{
		store:   st,
		sink:    sink,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("sink", sink.Name()).Logger(),
		metrics: metrics,
	}
}

// CursorName is the store cursor a sink's progress is kept under.
func CursorName(sink string) string { return "relay/" + sink }

// Run delivers events until ctx is cancelled. A sink that keeps failing
// blocks its relay; events are never skipped.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Msg("relay started")
	defer r.logger.Info().Msg("relay stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		n, err := r.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		if n == r.opts.BatchSize {
			timer.Reset(0)
		} else {
			timer.Reset(r.opts.PollInterval)
		}
	}
}

// RunOnce delivers at most one batch and returns how many envelopes were
// delivered.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	cursorName := CursorName(r.sink.Name())
	cursor, err := r.store.Cursor(ctx, cursorName)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}

	if r.verifier == nil {
		if r.verifier, err = r.resume(ctx, cursor); err != nil {
			return 0, err
		}
	}

	envs, err := event.Load(ctx, r.store, cursor, r.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load events after %d: %w", cursor, err)
	}
	if len(envs) == 0 {
		r.observeLag(ctx, cursor)
		return 0, nil
	}

	start := time.Now()
	for i, env := range envs {
		if err := r.verifier.Next(env); err != nil {
			return i, err
		}
		if err := r.publishWithRetry(ctx, env); err != nil {
			return i, err
		}
		if err := r.store.SetCursor(ctx, cursorName, env.Sequence); err != nil {
			return i + 1, fmt.Errorf("save cursor: %w", err)
		}
		cursor = env.Sequence

		if r.metrics != nil {
			r.metrics.RelayPublished.WithLabelValues(r.sink.Name()).Inc()
			r.metrics.RelayLastCursor.WithLabelValues(r.sink.Name()).Set(float64(cursor))
		}
	}

	if r.metrics != nil {
		r.metrics.RelayBatchDur.WithLabelValues(r.sink.Name()).Observe(time.Since(start).Seconds())
	}
	r.observeLag(ctx, cursor)
	r.logger.Debug().Int("events", len(envs)).Int64("cursor", cursor).Msg("batch delivered")
	return len(envs), nil
}

// resume rebuilds the chain verifier at the cursor so every delivered
// envelope is checked against its predecessor.
func (r *Relay) resume(ctx context.Context, cursor int64) (*event.ChainVerifier, error) {
	if cursor == 0 {
		return event.NewChainVerifier(), nil
	}
	envs, err := event.Load(ctx, r.store, cursor-1, 1)
	if err != nil {
		return nil, fmt.Errorf("load event %d: %w", cursor, err)
	}
	if len(envs) != 1 || envs[0].Sequence != cursor {
		return nil, fmt.Errorf("%w: cursor %d has no event", event.ErrChainBroken, cursor)
	}
	return event.ResumeChainVerifier(cursor, envs[0].StateHash), nil
}

// publishWithRetry retries with exponential backoff until the sink accepts
// the envelope or ctx is cancelled.
func (r *Relay) publishWithRetry(ctx context.Context, env event.Envelope) error {
	backoff := r.opts.InitialBackoff

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			r.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int64("sequence", env.Sequence).
				Msg("relay retry")
			if r.metrics != nil {
				r.metrics.RelayRetry.WithLabelValues(r.sink.Name()).Inc()
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > r.opts.MaxBackoff {
				backoff = r.opts.MaxBackoff
			}
		}

		err := r.sink.Publish(ctx, env)
		if err == nil {
			if attempt > 0 {
				r.logger.Info().Int("retries", attempt).Int64("sequence", env.Sequence).Msg("relay publish succeeded after retries")
			}
			return nil
		}

		if r.metrics != nil {
			r.metrics.RelayErrors.WithLabelValues(r.sink.Name()).Inc()
		}
		r.logger.Debug().Err(err).Int64("sequence", env.Sequence).Msg("publish failed")
	}
}

func (r *Relay) observeLag(ctx context.Context, cursor int64) {
	if r.metrics == nil {
		return
	}
	var head ledger.EventHead
	err := r.store.View(ctx, func(rd store.Reader) error {
		var err error
		head, _, err = ledger.LoadEventHead(ctx, rd)
		return err
	})
	if err != nil {
		return
	}
	r.metrics.RelayLag.WithLabelValues(r.sink.Name()).Set(float64(head.Sequence - cursor))
}
