package main

import (
	"context"
	"testing"

	"NeuroVault/internal/access"
	"NeuroVault/internal/config"
	"NeuroVault/internal/store/memory"
	"NeuroVault/internal/vault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

const holder = "0x00000000000000000000000000000000000000a1"

func TestDefaultDaemonAcceptsDeposit(t *testing.T) {
	ctx := context.Background()
	st := memory.New()

	cfg := config.Default()
	cfg.Token.BookFunding = []config.BookGrant{{Holder: holder, Amount: 50_000_000}}
	cfg.Bootstrap = config.BootstrapConfig{
		Owner: "0x000000000000000000000000000000000000000a",
		Agent: "0x000000000000000000000000000000000000000b",
		Token: cfg.Token.Contract,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}

	start := func() *vault.Vault {
		t.Helper()
		tokens, closeTokens, err := buildTokens(ctx, cfg.Token, st, zerolog.Nop())
		if err != nil {
			t.Fatalf("tokens: %v", err)
		}
		t.Cleanup(closeTokens)
		v := vault.New(st, tokens)
		if err := bootstrap(ctx, v, cfg.Bootstrap, zerolog.Nop()); err != nil {
			t.Fatalf("bootstrap: %v", err)
		}
		return v
	}

	v := start()
	user := common.HexToAddress(holder)
	if _, err := v.Deposit(ctx, access.Trusted(user), user, 30_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// A restart must neither re-initialize nor re-fund.
	v = start()
	if _, err := v.Deposit(ctx, access.Trusted(user), user, 30_000_000); err == nil {
		t.Fatal("second deposit: got nil, want token transfer failure after a restart")
	}
	bal, err := v.GetBalance(ctx, user)
	if err != nil || bal != 30_000_000 {
		t.Errorf("balance: got (%d, %v), want 30000000", bal, err)
	}
}
