package vault

import (
	"context"
	"fmt"
	"math"

	"NeuroVault/internal/access"
	"NeuroVault/internal/event"
	"NeuroVault/internal/ledger"
	"NeuroVault/internal/store"
)

// SetPaused sets the pause flag. Setting it to its current value is a no-op
// success with no event.
func (v *Vault) SetPaused(ctx context.Context, caller access.Principal, paused bool) (*event.Envelope, error) {
	op := "unpause"
	if paused {
		op = "pause"
	}
	return v.mutate(ctx, op, caller, access.Owner(), func(ctx context.Context, tx store.Tx, cfg *ledger.Config) (event.Event, error) {
		if cfg.Paused == paused {
			return nil, nil
		}
		cfg.Paused = paused
		if err := ledger.SaveConfig(ctx, tx, cfg); err != nil {
			return nil, err
		}
		return event.Pause{Paused: paused, Caller: caller.Account()}, nil
	})
}

// EmergencyPause pauses unconditionally and always emits.
func (v *Vault) EmergencyPause(ctx context.Context, caller access.Principal) (*event.Envelope, error) {
	return v.mutate(ctx, "emergency_pause", caller, access.Owner(), func(ctx context.Context, tx store.Tx, cfg *ledger.Config) (event.Event, error) {
		cfg.Paused = true
		if err := ledger.SaveConfig(ctx, tx, cfg); err != nil {
			return nil, err
		}
		return event.EmergencyPaused{Caller: caller.Account()}, nil
	})
}

// SetTvlCap overwrites the TVL cap. Existing deposits above a lowered cap
// are left alone.
func (v *Vault) SetTvlCap(ctx context.Context, caller access.Principal, tvlCap int64) (*event.Envelope, error) {
	return v.setLimits(ctx, "set_tvl_cap", caller, nil, &tvlCap)
}

// SetUserDepositCap overwrites the per-account cap.
func (v *Vault) SetUserDepositCap(ctx context.Context, caller access.Principal, userCap int64) (*event.Envelope, error) {
	return v.setLimits(ctx, "set_user_deposit_cap", caller, &userCap, nil)
}

// SetLimits overwrites both caps with one event.
func (v *Vault) SetLimits(ctx context.Context, caller access.Principal, userCap, tvlCap int64) (*event.Envelope, error) {
	return v.setLimits(ctx, "set_limits", caller, &userCap, &tvlCap)
}

func (v *Vault) setLimits(ctx context.Context, op string, caller access.Principal, userCap, tvlCap *int64) (*event.Envelope, error) {
	return v.mutate(ctx, op, caller, access.Owner(), func(ctx context.Context, tx store.Tx, cfg *ledger.Config) (event.Event, error) {
		ev := event.LimitsUpdated{
			OldUserDepositCap: cfg.UserDepositCap,
			NewUserDepositCap: cfg.UserDepositCap,
			OldTvlCap:         cfg.TvlCap,
			NewTvlCap:         cfg.TvlCap,
		}
		if userCap != nil {
			if *userCap < 0 {
				return nil, fmt.Errorf("%w: user deposit cap %d is negative", ErrInvalidAmount, *userCap)
			}
			ev.NewUserDepositCap = *userCap
		}
		if tvlCap != nil {
			if *tvlCap < 0 {
				return nil, fmt.Errorf("%w: tvl cap %d is negative", ErrInvalidAmount, *tvlCap)
			}
			ev.NewTvlCap = *tvlCap
		}

		cfg.UserDepositCap = ev.NewUserDepositCap
		cfg.TvlCap = ev.NewTvlCap
		if err := ledger.SaveConfig(ctx, tx, cfg); err != nil {
			return nil, err
		}
		return ev, nil
	})
}

// ReportAssets records the agent's figure for value under management,
// including funds deployed off-ledger. It never feeds accounting checks.
func (v *Vault) ReportAssets(ctx context.Context, caller access.Principal, total int64) (*event.Envelope, error) {
	return v.mutate(ctx, "report_assets", caller, access.Agent(), func(ctx context.Context, tx store.Tx, cfg *ledger.Config) (event.Event, error) {
		if total < 0 {
			return nil, fmt.Errorf("%w: total assets %d is negative", ErrInvalidAmount, total)
		}
		ev := event.AssetsUpdated{OldTotal: cfg.TotalAssets, NewTotal: total}
		cfg.TotalAssets = total
		if err := ledger.SaveConfig(ctx, tx, cfg); err != nil {
			return nil, err
		}
		return ev, nil
	})
}

// Upgrade bumps the version. It is the only writer of Version.
func (v *Vault) Upgrade(ctx context.Context, caller access.Principal) (*event.Envelope, error) {
	return v.mutate(ctx, "upgrade", caller, access.Owner(), func(ctx context.Context, tx store.Tx, cfg *ledger.Config) (event.Event, error) {
		if cfg.Version == math.MaxUint32 {
			return nil, fmt.Errorf("%w: version overflow", ErrArithmetic)
		}
		ev := event.Upgraded{FromVersion: cfg.Version, ToVersion: cfg.Version + 1}
		cfg.Version = ev.ToVersion
		if err := ledger.SaveConfig(ctx, tx, cfg); err != nil {
			return nil, err
		}
		return ev, nil
	})
}
