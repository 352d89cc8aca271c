package event_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"NeuroVault/internal/event"
	"NeuroVault/internal/store"
	"NeuroVault/internal/store/memory"

	"github.com/ethereum/go-ethereum/common"
)

var user = common.HexToAddress("0x0000000000000000000000000000000000000003")

func newEmitter() *event.Emitter {
	return event.NewEmitter().WithClock(func() time.Time { return time.Unix(1_750_000_000, 0) })
}

func mustEmit(t *testing.T, s store.Store, e *event.Emitter, evs ...event.Event) []event.Envelope {
	t.Helper()
	ctx := context.Background()
	var out []event.Envelope
	for _, ev := range evs {
		err := s.Update(ctx, func(tx store.Tx) error {
			env, err := e.Emit(ctx, tx, ev)
			out = append(out, env)
			return err
		})
		if err != nil {
			t.Fatalf("emit %T: %v", ev, err)
		}
	}
	return out
}

func TestTopics(t *testing.T) {
	tests := []struct {
		ev   event.Event
		want string
	}{
		{event.Deposit{}, "deposit"},
		{event.Withdraw{}, "withdraw"},
		{event.Rebalance{}, "rebalance"},
		{event.Pause{Paused: true}, "paused"},
		{event.Pause{Paused: false}, "unpaused"},
		{event.EmergencyPaused{}, "emergency_paused"},
		{event.LimitsUpdated{}, "limits_updated"},
		{event.AssetsUpdated{}, "assets_updated"},
		{event.Initialized{}, "initialized"},
		{event.Upgraded{}, "upgraded"},
	}
	for _, tt := range tests {
		if got := tt.ev.EventType().String(); got != tt.want {
			t.Errorf("%T: got %q, want %q", tt.ev, got, tt.want)
		}
		et, ok := event.ParseEventType(tt.want)
		if !ok || et != tt.ev.EventType() {
			t.Errorf("ParseEventType(%q) = %v, %v", tt.want, et, ok)
		}
	}
	if _, ok := event.ParseEventType("unknown"); ok {
		t.Error("unknown topic parsed")
	}
}

func TestEmitChainsSequencesAndHashes(t *testing.T) {
	s := memory.New()
	envs := mustEmit(t, s, newEmitter(),
		event.Deposit{Account: user, Amount: 1_000_000},
		event.Withdraw{Account: user, Amount: 500_000},
		event.Rebalance{Strategy: "blend", Amount: 0},
	)

	if envs[0].Sequence != 1 || envs[2].Sequence != 3 {
		t.Fatalf("sequences: got %d..%d, want 1..3", envs[0].Sequence, envs[2].Sequence)
	}
	if envs[0].PrevHash != event.GenesisHash() {
		t.Error("first envelope does not chain from genesis")
	}
	for i := 1; i < len(envs); i++ {
		if envs[i].PrevHash != envs[i-1].StateHash {
			t.Errorf("envelope %d: prev_hash does not match previous state_hash", envs[i].Sequence)
		}
	}

	n, err := event.VerifyStore(context.Background(), s, 2)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if n != 3 {
		t.Errorf("verified %d, want 3", n)
	}
}

func TestEmitRolledBackWithTransaction(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	e := newEmitter()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx store.Tx) error {
		if _, err := e.Emit(ctx, tx, event.Deposit{Account: user, Amount: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	envs := mustEmit(t, s, e, event.Deposit{Account: user, Amount: 2})
	if envs[0].Sequence != 1 {
		t.Errorf("got sequence %d after rollback, want 1", envs[0].Sequence)
	}
}

func TestVerifyStoreDetectsTampering(t *testing.T) {
	s := memory.New()
	envs := mustEmit(t, s, newEmitter(), event.Deposit{Account: user, Amount: 1_000_000})

	tampered := envs[0]
	tampered.Payload = json.RawMessage(`{"account":"` + user.Hex() + `","amount":9000000}`)
	if err := event.NewChainVerifier().Next(tampered); !errors.Is(err, event.ErrChainBroken) {
		t.Fatalf("got %v, want ErrChainBroken", err)
	}

	v := event.NewChainVerifier()
	skipped := envs[0]
	skipped.Sequence = 2
	if err := v.Next(skipped); !errors.Is(err, event.ErrChainBroken) {
		t.Fatalf("gap: got %v, want ErrChainBroken", err)
	}
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	s := memory.New()
	envs := mustEmit(t, s, newEmitter(), event.Pause{Paused: true, Caller: user})

	data, err := json.Marshal(envs[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var wire map[string]any
	json.Unmarshal(data, &wire)
	if wire["topic"] != "paused" {
		t.Errorf("topic: got %v, want paused", wire["topic"])
	}

	var got event.Envelope
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := event.NewChainVerifier().Next(got); err != nil {
		t.Errorf("decoded envelope fails verification: %v", err)
	}

	ev, err := got.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, ok := ev.(*event.Pause)
	if !ok {
		t.Fatalf("got %T, want *event.Pause", ev)
	}
	if !p.Paused || p.Caller != user {
		t.Errorf("got %+v", *p)
	}
}

func TestLoadRoundTripsRecords(t *testing.T) {
	s := memory.New()
	mustEmit(t, s, newEmitter(),
		event.Deposit{Account: user, Amount: 1_000_000},
		event.LimitsUpdated{OldTvlCap: 1, NewTvlCap: 2},
	)

	envs, err := event.Load(context.Background(), s, 1, 0)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(envs) != 1 || envs[0].EventType != event.EventTypeLimitsUpdated {
		t.Fatalf("got %+v", envs)
	}
	ev, err := envs[0].Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if lu := ev.(*event.LimitsUpdated); lu.NewTvlCap != 2 {
		t.Errorf("got %+v", *lu)
	}
}
