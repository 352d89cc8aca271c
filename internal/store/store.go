package store

import (
	"context"
	"errors"
	"time"
)

// Tier separates keys by access pattern. The instance tier holds the single
// configuration record and other vault-wide values; the persistent tier holds
// per-account records.
type Tier uint8

const (
	TierInstance Tier = iota + 1
	TierPersistent
)

func (t Tier) String() string {
	switch t {
	case TierInstance:
		return "instance"
	case TierPersistent:
		return "persistent"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == TierInstance || t == TierPersistent
}

var (
	ErrClosed        = errors.New("store: closed")
	ErrInvalidTier   = errors.New("store: invalid tier")
	ErrEventSequence = errors.New("store: event sequence out of order")
)

// EventRecord is one committed entry of the event outbox.
type EventRecord struct {
	Sequence  int64
	ID        string
	Topic     string
	Payload   []byte
	StateHash []byte
	PrevHash  []byte
	Timestamp time.Time
}

// Reader reads committed (or, inside Update, staged) values.
// Absent keys return (nil, false, nil).
type Reader interface {
	Get(ctx context.Context, tier Tier, key string) ([]byte, bool, error)
}

// Tx is the read-write view handed to Update. Writes and appended events
// become visible to other callers only when the Update function returns nil.
type Tx interface {
	Reader
	Put(ctx context.Context, tier Tier, key string, value []byte) error
	// AppendEvent stages an outbox record. Sequences must be contiguous.
	AppendEvent(ctx context.Context, rec EventRecord) error
}

// Store is the durable backing of the vault ledger. Update calls are
// serialized; each one commits all of its writes and events or none of them.
type Store interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(r Reader) error) error

	// Events returns committed records with Sequence > after, ascending.
	Events(ctx context.Context, after int64, limit int) ([]EventRecord, error)

	// Cursor returns the last sequence acknowledged by the named consumer (0 if none).
	Cursor(ctx context.Context, name string) (int64, error)
	SetCursor(ctx context.Context, name string, sequence int64) error

	Close() error
}
