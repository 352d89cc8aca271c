package vault

import (
	"context"
	"fmt"
	"time"

	"NeuroVault/internal/event"
	"NeuroVault/internal/ledger"
	"NeuroVault/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

// view runs a configuration read against committed state. Reads need no
// role but still fail with ErrNotInitialized before initialization.
func (v *Vault) view(ctx context.Context, op string, fn func(r store.Reader, cfg *ledger.Config) error) error {
	start := time.Now()
	err := v.store.View(ctx, func(r store.Reader) error {
		cfg, err := loadConfig(ctx, r)
		if err != nil {
			return err
		}
		return fn(r, cfg)
	})

	if v.metrics != nil {
		v.metrics.OpsTotal.WithLabelValues(op, Reason(err)).Inc()
		v.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetBalance reads an account balance. It needs no configuration record, so
// unknown accounts read as 0 before initialization too.
func (v *Vault) GetBalance(ctx context.Context, account common.Address) (int64, error) {
	start := time.Now()
	var bal int64
	err := v.store.View(ctx, func(r store.Reader) error {
		var err error
		bal, err = ledger.Balance(ctx, r, account)
		return err
	})

	if v.metrics != nil {
		v.metrics.OpsTotal.WithLabelValues("get_balance", Reason(err)).Inc()
		v.metrics.OpDuration.WithLabelValues("get_balance").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return 0, fmt.Errorf("get_balance: %w", err)
	}
	return bal, nil
}

func (v *Vault) GetTotalDeposits(ctx context.Context) (int64, error) {
	var total int64
	err := v.view(ctx, "get_total_deposits", func(_ store.Reader, cfg *ledger.Config) error {
		total = cfg.TotalDeposits
		return nil
	})
	return total, err
}

func (v *Vault) GetAgent(ctx context.Context) (common.Address, error) {
	var agent common.Address
	err := v.view(ctx, "get_agent", func(_ store.Reader, cfg *ledger.Config) error {
		agent = cfg.Agent
		return nil
	})
	return agent, err
}

func (v *Vault) IsPaused(ctx context.Context) (bool, error) {
	var paused bool
	err := v.view(ctx, "is_paused", func(_ store.Reader, cfg *ledger.Config) error {
		paused = cfg.Paused
		return nil
	})
	return paused, err
}

// GetConfig returns a snapshot of the whole configuration record.
func (v *Vault) GetConfig(ctx context.Context) (ledger.Config, error) {
	var snap ledger.Config
	err := v.view(ctx, "get_config", func(_ store.Reader, cfg *ledger.Config) error {
		snap = *cfg
		return nil
	})
	return snap, err
}

// Events lists committed envelopes after the given sequence.
func (v *Vault) Events(ctx context.Context, after int64, limit int) ([]event.Envelope, error) {
	if after < 0 {
		return nil, fmt.Errorf("list events: %w: negative cursor %d", ErrInvalidInput, after)
	}
	return event.Load(ctx, v.store, after, limit)
}

// Recover checks the event chain against the stored head and primes the
// gauges from committed state. The daemon calls it before serving.
func (v *Vault) Recover(ctx context.Context) (int64, error) {
	n, err := event.VerifyStore(ctx, v.store, 0)
	if err != nil {
		return n, fmt.Errorf("verify event chain: %w", err)
	}

	if v.metrics != nil {
		v.metrics.EventSequence.Set(float64(n))
		err := v.store.View(ctx, func(r store.Reader) error {
			cfg, found, err := ledger.LoadConfig(ctx, r)
			if err != nil || !found {
				return err
			}
			v.setGauges(cfg)
			return nil
		})
		if err != nil {
			return n, err
		}
	}

	v.logger.Info().Int64("events", n).Msg("event chain verified")
	return n, nil
}
