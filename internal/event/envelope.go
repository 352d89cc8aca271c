package event

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"NeuroVault/internal/store"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads. String() is the topic tag.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitialized
	EventTypeDeposit
	EventTypeWithdraw
	EventTypeRebalance
	EventTypePaused
	EventTypeUnpaused
	EventTypeEmergencyPaused
	EventTypeLimitsUpdated
	EventTypeAssetsUpdated
	EventTypeUpgraded
)

// Event is the interface all event payloads must implement
type Event interface {
	EventType() EventType
}

func (et EventType) String() string {
	switch et {
	case EventTypeInitialized:
		return "initialized"
	case EventTypeDeposit:
		return "deposit"
	case EventTypeWithdraw:
		return "withdraw"
	case EventTypeRebalance:
		return "rebalance"
	case EventTypePaused:
		return "paused"
	case EventTypeUnpaused:
		return "unpaused"
	case EventTypeEmergencyPaused:
		return "emergency_paused"
	case EventTypeLimitsUpdated:
		return "limits_updated"
	case EventTypeAssetsUpdated:
		return "assets_updated"
	case EventTypeUpgraded:
		return "upgraded"
	default:
		return "unknown"
	}
}

// ParseEventType maps a topic tag back to its type.
func ParseEventType(topic string) (EventType, bool) {
	for et := EventTypeInitialized; et <= EventTypeUpgraded; et++ {
		if et.String() == topic {
			return et, true
		}
	}
	return EventTypeUnknown, false
}

// Envelope wraps every emitted event.
type Envelope struct {
	ID uuid.UUID

	// Gap-free sequence, starting at 1
	Sequence int64

	EventType EventType

	// JSON-encoded event-specific data
	Payload json.RawMessage

	// ChainHash(PrevHash, Sequence, Digest(topic, Payload))
	StateHash [32]byte

	// Previous envelope's StateHash, or the genesis hash
	PrevHash [32]byte

	// Wall clock at emission; not covered by the hash
	Timestamp time.Time
}

func (e Envelope) Topic() string { return e.EventType.String() }

// Record converts to the outbox row.
func (e Envelope) Record() store.EventRecord {
	return store.EventRecord{
		Sequence:  e.Sequence,
		ID:        e.ID.String(),
		Topic:     e.Topic(),
		Payload:   []byte(e.Payload),
		StateHash: e.StateHash[:],
		PrevHash:  e.PrevHash[:],
		Timestamp: e.Timestamp,
	}
}

// FromRecord converts an outbox row back into an envelope.
func FromRecord(rec store.EventRecord) (Envelope, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return Envelope{}, fmt.Errorf("event %d: parse id: %w", rec.Sequence, err)
	}
	et, ok := ParseEventType(rec.Topic)
	if !ok {
		return Envelope{}, fmt.Errorf("event %d: unknown topic %q", rec.Sequence, rec.Topic)
	}
	if len(rec.StateHash) != 32 || len(rec.PrevHash) != 32 {
		return Envelope{}, fmt.Errorf("event %d: malformed hash", rec.Sequence)
	}

	env := Envelope{
		ID:        id,
		Sequence:  rec.Sequence,
		EventType: et,
		Payload:   json.RawMessage(rec.Payload),
		Timestamp: rec.Timestamp,
	}
	copy(env.StateHash[:], rec.StateHash)
	copy(env.PrevHash[:], rec.PrevHash)
	return env, nil
}

type wireEnvelope struct {
	ID        string          `json:"id"`
	Sequence  int64           `json:"sequence"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
	PrevHash  string          `json:"prev_hash"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{
		ID:        e.ID.String(),
		Sequence:  e.Sequence,
		Topic:     e.Topic(),
		Payload:   e.Payload,
		StateHash: hex.EncodeToString(e.StateHash[:]),
		PrevHash:  hex.EncodeToString(e.PrevHash[:]),
		Timestamp: e.Timestamp,
	})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return fmt.Errorf("parse id: %w", err)
	}
	et, ok := ParseEventType(w.Topic)
	if !ok {
		return fmt.Errorf("unknown topic %q", w.Topic)
	}
	state, err := decodeHash(w.StateHash)
	if err != nil {
		return fmt.Errorf("state_hash: %w", err)
	}
	prev, err := decodeHash(w.PrevHash)
	if err != nil {
		return fmt.Errorf("prev_hash: %w", err)
	}
	*e = Envelope{
		ID:        id,
		Sequence:  w.Sequence,
		EventType: et,
		Payload:   w.Payload,
		StateHash: state,
		PrevHash:  prev,
		Timestamp: w.Timestamp,
	}
	return nil
}

func decodeHash(s string) ([32]byte, error) {
	var h [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("got %d bytes, want 32", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Decode unmarshals the payload into its typed event.
func (e Envelope) Decode() (Event, error) {
	var ev Event
	switch e.EventType {
	case EventTypeInitialized:
		ev = &Initialized{}
	case EventTypeDeposit:
		ev = &Deposit{}
	case EventTypeWithdraw:
		ev = &Withdraw{}
	case EventTypeRebalance:
		ev = &Rebalance{}
	case EventTypePaused, EventTypeUnpaused:
		ev = &Pause{}
	case EventTypeEmergencyPaused:
		ev = &EmergencyPaused{}
	case EventTypeLimitsUpdated:
		ev = &LimitsUpdated{}
	case EventTypeAssetsUpdated:
		ev = &AssetsUpdated{}
	case EventTypeUpgraded:
		ev = &Upgraded{}
	default:
		return nil, fmt.Errorf("decode: unknown event type %d", e.EventType)
	}
	if err := json.Unmarshal(e.Payload, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Topic(), err)
	}
	return ev, nil
}
