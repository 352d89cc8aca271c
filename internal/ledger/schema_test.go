package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"NeuroVault/internal/ledger"
	"NeuroVault/internal/store"
	"NeuroVault/internal/store/memory"

	"github.com/ethereum/go-ethereum/common"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000A11CE")

func TestLoadConfigAbsent(t *testing.T) {
	s := memory.New()
	err := s.View(context.Background(), func(r store.Reader) error {
		cfg, found, err := ledger.LoadConfig(context.Background(), r)
		if err != nil {
			return err
		}
		if found || cfg != nil {
			t.Errorf("got (%v, %v), want absent", cfg, found)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	want := &ledger.Config{
		Owner:          common.HexToAddress("0x01"),
		Agent:          common.HexToAddress("0x02"),
		Token:          common.HexToAddress("0x03"),
		TokenDecimals:  7,
		TotalDeposits:  5_000_000,
		TvlCap:         100_000_000_000,
		UserDepositCap: 10_000_000_000,
		Version:        1,
	}
	if err := s.Update(ctx, func(tx store.Tx) error { return ledger.SaveConfig(ctx, tx, want) }); err != nil {
		t.Fatalf("save: %v", err)
	}

	s.View(ctx, func(r store.Reader) error {
		got, found, err := ledger.LoadConfig(ctx, r)
		if err != nil || !found {
			t.Fatalf("load: found=%v err=%v", found, err)
		}
		if *got != *want {
			t.Errorf("got %+v, want %+v", *got, *want)
		}
		return nil
	})
}

func TestUnknownBalanceReadsZero(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	s.View(ctx, func(r store.Reader) error {
		bal, err := ledger.Balance(ctx, r, alice)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if bal != 0 {
			t.Errorf("got %d, want 0", bal)
		}
		return nil
	})
}

func TestZeroBalanceIsKept(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	s.Update(ctx, func(tx store.Tx) error { return ledger.SetBalance(ctx, tx, alice, 0) })

	s.View(ctx, func(r store.Reader) error {
		_, found, _ := r.Get(ctx, store.TierPersistent, ledger.BalanceKey(alice))
		if !found {
			t.Error("zero balance record missing")
		}
		return nil
	})
}

func TestSetNegativeBalanceRejected(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Tx) error { return ledger.SetBalance(ctx, tx, alice, -1) })
	if !errors.Is(err, ledger.ErrNegativeBalance) {
		t.Fatalf("got %v, want ErrNegativeBalance", err)
	}
}

func TestBalanceKeyIsCaseInsensitive(t *testing.T) {
	lower := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	if ledger.BalanceKey(lower) != ledger.BalanceKey(alice) {
		t.Errorf("keys differ: %s vs %s", ledger.BalanceKey(lower), ledger.BalanceKey(alice))
	}
}

func TestConsumeNonce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Unix(1_750_000_000, 0)
	expires := now.Add(time.Minute)

	consume := func(at time.Time) error {
		return s.Update(ctx, func(tx store.Tx) error {
			return ledger.ConsumeNonce(ctx, tx, alice, "n-1", at.Add(time.Minute), at)
		})
	}

	if err := consume(now); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := consume(now.Add(30 * time.Second)); !errors.Is(err, ledger.ErrNonceUsed) {
		t.Errorf("before expiry: got %v, want ErrNonceUsed", err)
	}
	if err := consume(expires); !errors.Is(err, ledger.ErrNonceUsed) {
		t.Errorf("at expiry: got %v, want ErrNonceUsed", err)
	}
	if err := consume(expires.Add(time.Second)); err != nil {
		t.Errorf("after expiry: got %v, want nil", err)
	}

	err := s.Update(ctx, func(tx store.Tx) error {
		return ledger.ConsumeNonce(ctx, tx, common.HexToAddress("0xB0B"), "n-1", expires, now)
	})
	if err != nil {
		t.Errorf("other signer, same nonce: %v", err)
	}
}
