package token_test

import (
	"context"
	"errors"
	"testing"

	"NeuroVault/internal/store"
	"NeuroVault/internal/store/memory"
	"NeuroVault/internal/token"

	"github.com/ethereum/go-ethereum/common"
)

var (
	usdc    = common.HexToAddress("0x00000000000000000000000000000000000000C0")
	custody = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	holder  = common.HexToAddress("0x00000000000000000000000000000000000000C2")
)

func balanceOf(t *testing.T, s store.Store, b *token.Book, who common.Address) int64 {
	t.Helper()
	var bal int64
	err := s.View(context.Background(), func(r store.Reader) error {
		var err error
		bal, err = b.BalanceOf(context.Background(), r, who)
		return err
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func TestBookPullPush(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	b := token.NewBook(usdc, custody, 6)

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := b.Mint(ctx, tx, holder, 5_000_000); err != nil {
			return err
		}
		if err := b.Pull(ctx, tx, holder, 3_000_000); err != nil {
			return err
		}
		return b.Push(ctx, tx, holder, 1_000_000)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := balanceOf(t, s, b, holder); got != 3_000_000 {
		t.Errorf("holder: got %d, want 3000000", got)
	}
	if got := balanceOf(t, s, b, custody); got != 2_000_000 {
		t.Errorf("custody: got %d, want 2000000", got)
	}
}

func TestBookPullInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	b := token.NewBook(usdc, custody, 6)

	err := s.Update(ctx, func(tx store.Tx) error {
		return b.Pull(ctx, tx, holder, 1)
	})
	if !errors.Is(err, token.ErrTransferFailed) {
		t.Fatalf("got %v, want ErrTransferFailed", err)
	}
}

func TestBookFailTransfers(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	b := token.NewBook(usdc, custody, 6)
	boom := errors.New("boom")
	b.FailTransfers(boom)

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := b.Mint(ctx, tx, holder, 10); err != nil {
			return err
		}
		return b.Pull(ctx, tx, holder, 1)
	})
	if !errors.Is(err, token.ErrTransferFailed) || !errors.Is(err, boom) {
		t.Fatalf("got %v, want ErrTransferFailed wrapping boom", err)
	}
	if got := balanceOf(t, s, b, holder); got != 0 {
		t.Errorf("mint survived rollback: got %d", got)
	}

	b.FailTransfers(nil)
	err = s.Update(ctx, func(tx store.Tx) error {
		if err := b.Mint(ctx, tx, holder, 10); err != nil {
			return err
		}
		return b.Pull(ctx, tx, holder, 1)
	})
	if err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := token.NewRegistry()
	b := token.NewBook(usdc, custody, 6)
	r.Register(usdc, b)

	gw, err := r.Resolve(context.Background(), usdc)
	if err != nil || gw != b {
		t.Fatalf("resolve: got (%v, %v)", gw, err)
	}
	if _, err := r.Resolve(context.Background(), holder); !errors.Is(err, token.ErrUnknownContract) {
		t.Fatalf("got %v, want ErrUnknownContract", err)
	}
}

func TestBookFundAppliesOnce(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	b := token.NewBook(usdc, custody, 6)
	grants := []token.Grant{{Holder: holder, Amount: 5_000_000}}

	applied, err := b.Fund(ctx, s, grants)
	if err != nil || !applied {
		t.Fatalf("first fund: got (%t, %v), want (true, nil)", applied, err)
	}
	applied, err = b.Fund(ctx, s, grants)
	if err != nil || applied {
		t.Fatalf("second fund: got (%t, %v), want (false, nil)", applied, err)
	}
	if got := balanceOf(t, s, b, holder); got != 5_000_000 {
		t.Errorf("holder: got %d, want 5000000", got)
	}
}

func TestBookFundIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	b := token.NewBook(usdc, custody, 6)

	_, err := b.Fund(ctx, s, []token.Grant{
		{Holder: holder, Amount: 5_000_000},
		{Holder: custody, Amount: 0},
	})
	if err == nil {
		t.Fatal("got nil, want error for zero grant")
	}
	if got := balanceOf(t, s, b, holder); got != 0 {
		t.Errorf("holder: got %d, want 0 after failed fund", got)
	}

	applied, err := b.Fund(ctx, s, []token.Grant{{Holder: holder, Amount: 1}})
	if err != nil || !applied {
		t.Errorf("retry: got (%t, %v), want (true, nil)", applied, err)
	}
}
