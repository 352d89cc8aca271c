package memory_test

import (
	"context"
	"errors"
	"testing"

	"NeuroVault/internal/store"
	"NeuroVault/internal/store/memory"
	"NeuroVault/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
}

func TestClosedStoreRejectsUpdates(t *testing.T) {
	s := memory.New()
	s.Close()

	err := s.Update(context.Background(), func(tx store.Tx) error { return nil })
	if !errors.Is(err, store.ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	buf := []byte("abc")
	s.Update(ctx, func(tx store.Tx) error {
		return tx.Put(ctx, store.TierPersistent, "k", buf)
	})
	buf[0] = 'z'

	s.View(ctx, func(r store.Reader) error {
		v, _, _ := r.Get(ctx, store.TierPersistent, "k")
		if string(v) != "abc" {
			t.Errorf("got %q, want abc", v)
		}
		return nil
	})
}

func TestInvalidTier(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.Put(ctx, store.Tier(9), "k", nil)
	})
	if !errors.Is(err, store.ErrInvalidTier) {
		t.Fatalf("got %v, want ErrInvalidTier", err)
	}
}
