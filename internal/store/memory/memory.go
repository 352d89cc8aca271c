// Package memory is an in-process Store used by tests and the memory driver.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"NeuroVault/internal/store"
)

type tierKey struct {
	tier store.Tier
	key  string
}

// Store keeps both tiers and the outbox in maps guarded by one RWMutex.
// Update holds the write lock for the whole callback, so operations never
// interleave.
type Store struct {
	mu      sync.RWMutex
	data    map[tierKey][]byte
	events  []store.EventRecord
	cursors map[string]int64
	closed  bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		data:    make(map[tierKey][]byte),
		cursors: make(map[string]int64),
	}
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}

	tx := &memTx{base: s, writes: make(map[tierKey][]byte)}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit: nothing below can fail.
	for k, v := range tx.writes {
		s.data[k] = v
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return store.ErrClosed
	}
	return fn(&memReader{base: s})
}

func (s *Store) Events(ctx context.Context, after int64, limit int) ([]store.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	var out []store.EventRecord
	for _, rec := range s.events {
		if rec.Sequence <= after {
			continue
		}
		out = append(out, cloneRecord(rec))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Cursor(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, store.ErrClosed
	}
	return s.cursors[name], nil
}

func (s *Store) SetCursor(ctx context.Context, name string, sequence int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	s.cursors[name] = sequence
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) lastSequence() int64 {
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].Sequence
}

type memReader struct {
	base *Store
}

func (r *memReader) Get(_ context.Context, tier store.Tier, key string) ([]byte, bool, error) {
	if !tier.Valid() {
		return nil, false, store.ErrInvalidTier
	}
	v, ok := r.base.data[tierKey{tier, key}]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// memTx stages writes on top of the committed maps.
type memTx struct {
	base   *Store
	writes map[tierKey][]byte
	events []store.EventRecord
}

func (t *memTx) Get(_ context.Context, tier store.Tier, key string) ([]byte, bool, error) {
	if !tier.Valid() {
		return nil, false, store.ErrInvalidTier
	}
	k := tierKey{tier, key}
	if v, ok := t.writes[k]; ok {
		return bytes.Clone(v), true, nil
	}
	v, ok := t.base.data[k]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (t *memTx) Put(_ context.Context, tier store.Tier, key string, value []byte) error {
	if !tier.Valid() {
		return store.ErrInvalidTier
	}
	t.writes[tierKey{tier, key}] = bytes.Clone(value)
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, rec store.EventRecord) error {
	last := t.base.lastSequence()
	if n := len(t.events); n > 0 {
		last = t.events[n-1].Sequence
	}
	if rec.Sequence != last+1 {
		return fmt.Errorf("%w: got %d, want %d", store.ErrEventSequence, rec.Sequence, last+1)
	}
	t.events = append(t.events, cloneRecord(rec))
	return nil
}

func cloneRecord(rec store.EventRecord) store.EventRecord {
	rec.Payload = bytes.Clone(rec.Payload)
	rec.StateHash = bytes.Clone(rec.StateHash)
	rec.PrevHash = bytes.Clone(rec.PrevHash)
	return rec
}
