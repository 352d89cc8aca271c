// Package storetest holds behaviour tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"NeuroVault/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run exercises the contract every Store must honour.
func Run(t *testing.T, newStore Factory) {
	t.Run("AbsentKey", func(t *testing.T) { testAbsentKey(t, newStore(t)) })
	t.Run("CommitVisible", func(t *testing.T) { testCommitVisible(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore(t)) })
	t.Run("TiersIsolated", func(t *testing.T) { testTiersIsolated(t, newStore(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newStore(t)) })
	t.Run("EventsOrdered", func(t *testing.T) { testEventsOrdered(t, newStore(t)) })
	t.Run("EventSequenceGap", func(t *testing.T) { testEventSequenceGap(t, newStore(t)) })
	t.Run("Cursor", func(t *testing.T) { testCursor(t, newStore(t)) })
}

var errAbort = errors.New("abort")

func put(t *testing.T, s store.Store, tier store.Tier, key, value string) {
	t.Helper()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		return tx.Put(context.Background(), tier, key, []byte(value))
	})
	if err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func get(t *testing.T, s store.Store, tier store.Tier, key string) (string, bool) {
	t.Helper()
	var (
		val   []byte
		found bool
	)
	err := s.View(context.Background(), func(r store.Reader) error {
		var err error
		val, found, err = r.Get(context.Background(), tier, key)
		return err
	})
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return string(val), found
}

func record(seq int64, topic string) store.EventRecord {
	return store.EventRecord{
		Sequence:  seq,
		ID:        topic + "-" + time.Unix(seq, 0).UTC().Format("150405"),
		Topic:     topic,
		Payload:   []byte(`{"n":1}`),
		StateHash: make([]byte, 32),
		PrevHash:  make([]byte, 32),
		Timestamp: time.Unix(1_700_000_000+seq, 0).UTC(),
	}
}

func testAbsentKey(t *testing.T, s store.Store) {
	defer s.Close()
	if v, found := get(t, s, store.TierPersistent, "missing"); found || v != "" {
		t.Errorf("got (%q, %v), want absent", v, found)
	}
}

func testCommitVisible(t *testing.T, s store.Store) {
	defer s.Close()
	put(t, s, store.TierInstance, "config", "v1")
	put(t, s, store.TierInstance, "config", "v2")
	if v, _ := get(t, s, store.TierInstance, "config"); v != "v2" {
		t.Errorf("got %q, want v2", v)
	}
}

func testRollbackOnError(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	put(t, s, store.TierPersistent, "a", "1")

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.Put(ctx, store.TierPersistent, "a", []byte("2")); err != nil {
			return err
		}
		if err := tx.Put(ctx, store.TierPersistent, "b", []byte("3")); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, record(1, "deposit")); err != nil {
			return err
		}
		return errAbort
	})
	if !errors.Is(err, errAbort) {
		t.Fatalf("got %v, want errAbort", err)
	}

	if v, _ := get(t, s, store.TierPersistent, "a"); v != "1" {
		t.Errorf("a: got %q, want 1", v)
	}
	if _, found := get(t, s, store.TierPersistent, "b"); found {
		t.Error("b: staged write survived rollback")
	}
	events, err := s.Events(ctx, 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func testTiersIsolated(t *testing.T, s store.Store) {
	defer s.Close()
	put(t, s, store.TierInstance, "k", "instance")
	put(t, s, store.TierPersistent, "k", "persistent")
	if v, _ := get(t, s, store.TierInstance, "k"); v != "instance" {
		t.Errorf("instance: got %q", v)
	}
	if v, _ := get(t, s, store.TierPersistent, "k"); v != "persistent" {
		t.Errorf("persistent: got %q", v)
	}
}

func testReadYourWrites(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.Put(ctx, store.TierPersistent, "x", []byte("staged")); err != nil {
			return err
		}
		v, found, err := tx.Get(ctx, store.TierPersistent, "x")
		if err != nil {
			return err
		}
		if !found || string(v) != "staged" {
			t.Errorf("got (%q, %v), want staged", v, found)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func testEventsOrdered(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	for seq := int64(1); seq <= 5; seq++ {
		err := s.Update(ctx, func(tx store.Tx) error {
			return tx.AppendEvent(ctx, record(seq, "deposit"))
		})
		if err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	events, err := s.Events(ctx, 2, 2)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Sequence != 3 || events[1].Sequence != 4 {
		t.Errorf("got sequences %d,%d, want 3,4", events[0].Sequence, events[1].Sequence)
	}
	if string(events[0].Payload) != `{"n":1}` {
		t.Errorf("payload: got %s", events[0].Payload)
	}
	if !events[0].Timestamp.Equal(time.Unix(1_700_000_003, 0)) {
		t.Errorf("timestamp: got %v", events[0].Timestamp)
	}
}

func testEventSequenceGap(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.AppendEvent(ctx, record(2, "deposit"))
	})
	if !errors.Is(err, store.ErrEventSequence) {
		t.Fatalf("got %v, want ErrEventSequence", err)
	}
}

func testCursor(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	seq, err := s.Cursor(ctx, "nats")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if seq != 0 {
		t.Errorf("got %d, want 0", seq)
	}
	if err := s.SetCursor(ctx, "nats", 7); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := s.SetCursor(ctx, "nats", 9); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if seq, _ = s.Cursor(ctx, "nats"); seq != 9 {
		t.Errorf("got %d, want 9", seq)
	}
	if seq, _ = s.Cursor(ctx, "amqp"); seq != 0 {
		t.Errorf("amqp: got %d, want 0", seq)
	}
}
