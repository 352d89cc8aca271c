package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"NeuroVault/internal/ledger"
	"NeuroVault/internal/store"

	"github.com/google/uuid"
)

// Emitter appends envelopes to the outbox of the caller's transaction and
// advances the event head in the same transaction.
type Emitter struct {
	now   func() time.Time
	newID func() uuid.UUID
}

func NewEmitter() *Emitter {
	return &Emitter{now: time.Now, newID: uuid.New}
}

// WithClock replaces the time source. Used by tests.
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

func (e *Emitter) Emit(ctx context.Context, tx store.Tx, ev Event) (Envelope, error) {
	et := ev.EventType()
	if et == EventTypeUnknown {
		panic(fmt.Sprintf("event: emit of %T with unknown type", ev))
	}

	head, found, err := ledger.LoadEventHead(ctx, tx)
	if err != nil {
		return Envelope{}, err
	}
	prev := head.Hash
	if !found {
		prev = GenesisHash()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", et, err)
	}

	env := Envelope{
		ID:        e.newID(),
		Sequence:  head.Sequence + 1,
		EventType: et,
		Payload:   payload,
		PrevHash:  prev,
		Timestamp: e.now().UTC(),
	}
	env.StateHash = env.Expected()

	if err := tx.AppendEvent(ctx, env.Record()); err != nil {
		return Envelope{}, fmt.Errorf("append %s: %w", et, err)
	}
	if err := ledger.SaveEventHead(ctx, tx, ledger.EventHead{Sequence: env.Sequence, Hash: env.StateHash}); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Load reads committed envelopes after the given sequence.
func Load(ctx context.Context, s store.Store, after int64, limit int) ([]Envelope, error) {
	recs, err := s.Events(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Envelope, 0, len(recs))
	for _, rec := range recs {
		env, err := FromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// VerifyStore walks the whole committed outbox and checks the hash chain
// against the stored head. Returns the number of envelopes checked.
func VerifyStore(ctx context.Context, s store.Store, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}

	v := NewChainVerifier()
	var after int64
	for {
		envs, err := Load(ctx, s, after, batch)
		if err != nil {
			return after, err
		}
		for _, env := range envs {
			if err := v.Next(env); err != nil {
				return after, err
			}
			after = env.Sequence
		}
		if len(envs) < batch {
			break
		}
	}

	var (
		head  ledger.EventHead
		found bool
	)
	err := s.View(ctx, func(r store.Reader) error {
		var err error
		head, found, err = ledger.LoadEventHead(ctx, r)
		return err
	})
	if err != nil {
		return after, err
	}

	seq, hash := v.Head()
	if !found {
		if seq != 0 {
			return after, fmt.Errorf("%w: %d events but no head", ErrChainBroken, seq)
		}
		return 0, nil
	}
	if head.Sequence != seq || head.Hash != hash {
		return after, fmt.Errorf("%w: head at %d/%x, outbox at %d/%x", ErrChainBroken, head.Sequence, head.Hash, seq, hash)
	}
	return seq, nil
}
