// Package vault is the accounting engine: every operation loads the
// configuration record, authorizes the caller, validates, moves tokens,
// writes the ledger and emits its event inside one store transaction.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"NeuroVault/internal/access"
	"NeuroVault/internal/event"
	"NeuroVault/internal/ledger"
	fpmath "NeuroVault/internal/math"
	"NeuroVault/internal/observability"
	"NeuroVault/internal/store"
	"NeuroVault/internal/token"

	"github.com/rs/zerolog"
)

const (
	// MinimumDeposit is in raw token units whatever the token precision. Not configurable.
	MinimumDeposit int64 = 1_000_000

	DefaultUserDepositCap int64 = 10_000_000_000
	DefaultTvlCap         int64 = 100_000_000_000

	InitialVersion uint32 = 1
)

type Vault struct {
	store   store.Store
	tokens  token.Resolver
	emitter *event.Emitter
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

type Option func(*Vault)

func WithLogger(l zerolog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(v *Vault) { v.metrics = m }
}

func WithEmitter(e *event.Emitter) Option {
	return func(v *Vault) { v.emitter = e }
}

// WithClock replaces the time source used for nonce expiry.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

func New(st store.Store, tokens token.Resolver, opts ...Option) *Vault {
	v := &Vault{
		store:   st,
		tokens:  tokens,
		emitter: event.NewEmitter(),
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// mutation is the body of a state-changing operation. It returns the
// configuration as it will be committed and the event to emit, or a nil
// event for a no-op success.
type mutation func(ctx context.Context, tx store.Tx, cfg *ledger.Config) (event.Event, error)

// commit runs fn in one store transaction. Emission is the last step of the
// transaction, so an operation and its event commit or roll back together.
func (v *Vault) commit(ctx context.Context, op string, fn func(tx store.Tx) (*ledger.Config, event.Event, error)) (*event.Envelope, error) {
	start := time.Now()

	var (
		env *event.Envelope
		cfg *ledger.Config
	)
	err := v.store.Update(ctx, func(tx store.Tx) error {
		env, cfg = nil, nil

		c, ev, err := fn(tx)
		if err != nil {
			return err
		}
		cfg = c
		if ev == nil {
			return nil
		}

		e, err := v.emitter.Emit(ctx, tx, ev)
		if err != nil {
			return err
		}
		env = &e
		return nil
	})
	if err != nil {
		env, cfg = nil, nil
	}

	v.observe(op, start, err, cfg, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return env, nil
}

// mutate loads the configuration and authorizes caller against role before
// fn sees any business state.
func (v *Vault) mutate(ctx context.Context, op string, caller access.Principal, role access.Role, fn mutation) (*event.Envelope, error) {
	return v.commit(ctx, op, func(tx store.Tx) (*ledger.Config, event.Event, error) {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return nil, nil, err
		}
		if err := access.Authorize(caller, role, cfg); err != nil {
			return nil, nil, err
		}
		if err := v.consumeNonce(ctx, tx, caller); err != nil {
			return nil, nil, err
		}
		ev, err := fn(ctx, tx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return cfg, ev, nil
	})
}

// consumeNonce records a signed caller's nonce in the same transaction as
// the operation, so a replay is refused across restarts. Trusted callers
// carry no nonce.
func (v *Vault) consumeNonce(ctx context.Context, tx store.Tx, caller access.Principal) error {
	nonce, expires, ok := caller.Nonce()
	if !ok {
		return nil
	}
	if err := ledger.ConsumeNonce(ctx, tx, caller.Account(), nonce, expires, v.now()); err != nil {
		if errors.Is(err, ledger.ErrNonceUsed) {
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return err
	}
	return nil
}

func (v *Vault) observe(op string, start time.Time, err error, cfg *ledger.Config, env *event.Envelope) {
	elapsed := time.Since(start)
	reason := Reason(err)

	if v.metrics != nil {
		v.metrics.OpsTotal.WithLabelValues(op, reason).Inc()
		v.metrics.OpDuration.WithLabelValues(op).Observe(elapsed.Seconds())
		if cfg != nil {
			v.setGauges(cfg)
		}
		if env != nil {
			v.metrics.EventSequence.Set(float64(env.Sequence))
		}
	}

	switch {
	case err == nil:
		l := v.logger.Debug().Str("op", op).Dur("elapsed", elapsed)
		if env != nil {
			l = l.Int64("sequence", env.Sequence).Str("topic", env.Topic())
		}
		if cfg != nil {
			l = l.Str("total_deposits", fpmath.FormatUnits(cfg.TotalDeposits, cfg.TokenDecimals))
		}
		l.Msg("operation committed")
	case IsRejection(err):
		v.logger.Info().Str("op", op).Str("reason", reason).Err(err).Msg("operation rejected")
	default:
		v.logger.Error().Str("op", op).Err(err).Msg("operation failed")
	}
}

func (v *Vault) setGauges(cfg *ledger.Config) {
	v.metrics.TotalDeposits.Set(float64(cfg.TotalDeposits))
	v.metrics.TotalAssets.Set(float64(cfg.TotalAssets))
	if cfg.Paused {
		v.metrics.Paused.Set(1)
	} else {
		v.metrics.Paused.Set(0)
	}
}

func loadConfig(ctx context.Context, r store.Reader) (*ledger.Config, error) {
	cfg, found, err := ledger.LoadConfig(ctx, r)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

func (v *Vault) gateway(ctx context.Context, cfg *ledger.Config) (token.Gateway, error) {
	gw, err := v.tokens.Resolve(ctx, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenTransferFailed, err)
	}
	return gw, nil
}

// transfer runs one gateway call. Failures of any kind surface as
// ErrTokenTransferFailed so the operation aborts.
func (v *Vault) transfer(direction string, call func() error) error {
	start := time.Now()
	err := call()

	if v.metrics != nil {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		v.metrics.TokenTransfers.WithLabelValues(direction, result).Inc()
		v.metrics.TokenTransferDur.WithLabelValues(direction).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		if errors.Is(err, ErrTokenTransferFailed) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrTokenTransferFailed, direction, err)
	}
	return nil
}

// checked maps fpmath overflow and underflow to ErrArithmetic.
func checked(v int64, err error) (int64, error) {
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrArithmetic, err)
	}
	return v, nil
}

// warnUnstaged logs a commit that failed after a gateway which cannot roll
// back had already moved tokens.
func (v *Vault) warnUnstaged(op string, gw token.Gateway, moved bool, err error) {
	if err == nil || !moved {
		return
	}
	if s, ok := gw.(token.Staged); ok && s.StagedInTx() {
		return
	}
	v.logger.Error().Str("op", op).Err(err).Msg("token transfer completed but ledger commit failed; manual reconciliation required")
}
