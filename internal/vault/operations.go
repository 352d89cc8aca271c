package vault

import (
	"context"
	"fmt"
	"regexp"

	"NeuroVault/internal/access"
	"NeuroVault/internal/event"
	"NeuroVault/internal/ledger"
	fpmath "NeuroVault/internal/math"
	"NeuroVault/internal/store"
	"NeuroVault/internal/token"

	"github.com/ethereum/go-ethereum/common"
)

var strategyPattern = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)

// Initialize writes the configuration record. It runs once; every other
// operation fails with ErrNotInitialized until it has.
func (v *Vault) Initialize(ctx context.Context, caller access.Principal, owner, agent, tokenContract common.Address) (*event.Envelope, error) {
	return v.commit(ctx, "initialize", func(tx store.Tx) (*ledger.Config, event.Event, error) {
		_, found, err := ledger.LoadConfig(ctx, tx)
		if err != nil {
			return nil, nil, err
		}
		if found {
			return nil, nil, ErrAlreadyInitialized
		}
		if caller.IsAnonymous() {
			return nil, nil, fmt.Errorf("%w: anonymous deployer", ErrUnauthorized)
		}
		if err := v.consumeNonce(ctx, tx, caller); err != nil {
			return nil, nil, err
		}

		zero := common.Address{}
		if owner == zero || agent == zero || tokenContract == zero {
			return nil, nil, fmt.Errorf("%w: owner, agent and token must be set", ErrInvalidInput)
		}

		gw, err := v.tokens.Resolve(ctx, tokenContract)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		decimals, err := gw.Decimals(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: token decimals: %w", ErrInvalidInput, err)
		}
		if decimals > fpmath.MaxDecimals {
			return nil, nil, fmt.Errorf("%w: token declares %d decimals", ErrInvalidInput, decimals)
		}

		cfg := &ledger.Config{
			Owner:          owner,
			Agent:          agent,
			Token:          tokenContract,
			TokenDecimals:  decimals,
			TvlCap:         DefaultTvlCap,
			UserDepositCap: DefaultUserDepositCap,
			Version:        InitialVersion,
		}
		if err := ledger.SaveConfig(ctx, tx, cfg); err != nil {
			return nil, nil, err
		}

		return cfg, event.Initialized{
			Owner:          owner,
			Agent:          agent,
			Token:          tokenContract,
			TokenDecimals:  decimals,
			TvlCap:         cfg.TvlCap,
			UserDepositCap: cfg.UserDepositCap,
		}, nil
	})
}

// Deposit pulls amount from account into custody and credits it.
// Every check runs before the pull.
func (v *Vault) Deposit(ctx context.Context, caller access.Principal, account common.Address, amount int64) (*event.Envelope, error) {
	var (
		gw    token.Gateway
		moved bool
	)
	env, err := v.mutate(ctx, "deposit", caller, access.Self(account), func(ctx context.Context, tx store.Tx, cfg *ledger.Config) (event.Event, error) {
		gw, moved = nil, false

		if cfg.Paused {
			return nil, ErrPaused
		}
		if amount <= 0 {
			return nil, fmt.Errorf("%w: %d is not positive", ErrInvalidAmount, amount)
		}
		if amount < MinimumDeposit {
			return nil, fmt.Errorf("%w: %d is below the minimum deposit %d", ErrInvalidAmount, amount, MinimumDeposit)
		}

		bal, err := ledger.Balance(ctx, tx, account)
		if err != nil {
			return nil, err
		}
		nextBal, err := checked(fpmath.Add(bal, amount))
		if err != nil {
			return nil, err
		}
		if nextBal > cfg.UserDepositCap {
			return nil, fmt.Errorf("%w: balance %d would exceed user deposit cap %d", ErrCapExceeded, nextBal, cfg.UserDepositCap)
		}
		nextTotal, err := checked(fpmath.Add(cfg.TotalDeposits, amount))
		if err != nil {
			return nil, err
		}
		if nextTotal > cfg.TvlCap {
			return nil, fmt.Errorf("%w: total deposits %d would exceed tvl cap %d", ErrCapExceeded, nextTotal, cfg.TvlCap)
		}

		gw, err = v.gateway(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := v.transfer("pull", func() error { return gw.Pull(ctx, tx, account, amount) }); err != nil {
			return nil, err
		}
		moved = true

		if err := ledger.SetBalance(ctx, tx, account, nextBal); err != nil {
			return nil, err
		}
		cfg.TotalDeposits = nextTotal
		if err := ledger.SaveConfig(ctx, tx, cfg); err != nil {
			return nil, err
		}
		return event.Deposit{Account: account, Amount: amount}, nil
	})
	v.warnUnstaged("deposit", gw, moved, err)
	return env, err
}

// Withdraw debits account and then pushes amount from custody to it.
// The ledger is written before the push.
func (v *Vault) Withdraw(ctx context.Context, caller access.Principal, account common.Address, amount int64) (*event.Envelope, error) {
	var (
		gw    token.Gateway
		moved bool
	)
	env, err := v.mutate(ctx, "withdraw", caller, access.Self(account), func(ctx context.Context, tx store.Tx, cfg *ledger.Config) (event.Event, error) {
		gw, moved = nil, false

		if cfg.Paused {
			return nil, ErrPaused
		}
		if amount <= 0 {
			return nil, fmt.Errorf("%w: %d is not positive", ErrInvalidAmount, amount)
		}

		bal, err := ledger.Balance(ctx, tx, account)
		if err != nil {
			return nil, err
		}
		if bal < amount {
			return nil, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientBalance, bal, amount)
		}
		nextBal, err := checked(fpmath.SubNonNegative(bal, amount))
		if err != nil {
			return nil, err
		}
		nextTotal, err := checked(fpmath.SubNonNegative(cfg.TotalDeposits, amount))
		if err != nil {
			return nil, err
		}

		if err := ledger.SetBalance(ctx, tx, account, nextBal); err != nil {
			return nil, err
		}
		cfg.TotalDeposits = nextTotal
		if err := ledger.SaveConfig(ctx, tx, cfg); err != nil {
			return nil, err
		}

		gw, err = v.gateway(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := v.transfer("push", func() error { return gw.Push(ctx, tx, account, amount) }); err != nil {
			return nil, err
		}
		moved = true

		return event.Withdraw{Account: account, Amount: amount}, nil
	})
	v.warnUnstaged("withdraw", gw, moved, err)
	return env, err
}

// Rebalance records the agent's strategy signal. No balance or token moves.
func (v *Vault) Rebalance(ctx context.Context, caller access.Principal, strategy string, amount int64) (*event.Envelope, error) {
	return v.mutate(ctx, "rebalance", caller, access.Agent(), func(ctx context.Context, tx store.Tx, cfg *ledger.Config) (event.Event, error) {
		if cfg.Paused {
			return nil, ErrPaused
		}
		if !strategyPattern.MatchString(strategy) {
			return nil, fmt.Errorf("%w: strategy %q", ErrInvalidInput, strategy)
		}
		if amount < 0 {
			return nil, fmt.Errorf("%w: %d is negative", ErrInvalidAmount, amount)
		}
		return event.Rebalance{Strategy: strategy, Amount: amount}, nil
	})
}
