package access

import (
	"container/heap"
	"errors"
	"time"
)

var (
	ErrNonceReused    = errors.New("nonce already used")
	ErrReplayCapacity = errors.New("replay cache full of live nonces")
)

// ReplayGuard remembers request nonces until they expire. A live nonce is
// never dropped to make room: when every slot is live, new nonces are
// refused until one expires.
// Not thread-safe; Verifier serializes access.
type ReplayGuard struct {
	capacity int
	live     map[string]time.Time
	byExpiry expiryHeap

	expired int64
}

type replayEntry struct {
	key     string
	expires time.Time
}

type expiryHeap []replayEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].expires.Before(h[j].expires) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(replayEntry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

func NewReplayGuard(capacity int) *ReplayGuard {
	if capacity <= 0 {
		capacity = 1
	}
	return &ReplayGuard{
		capacity: capacity,
		live:     make(map[string]time.Time, capacity),
	}
}

// Observe records key until expires. It fails with ErrNonceReused when key
// is still live at now, and with ErrReplayCapacity when the guard holds
// capacity live nonces. A nonce stays live up to and including its expiry.
func (g *ReplayGuard) Observe(key string, expires, now time.Time) error {
	g.expire(now)

	if _, ok := g.live[key]; ok {
		return ErrNonceReused
	}
	if len(g.live) >= g.capacity {
		return ErrReplayCapacity
	}

	g.live[key] = expires
	heap.Push(&g.byExpiry, replayEntry{key: key, expires: expires})
	return nil
}

func (g *ReplayGuard) expire(now time.Time) {
	for g.byExpiry.Len() > 0 && g.byExpiry[0].expires.Before(now) {
		e := heap.Pop(&g.byExpiry).(replayEntry)
		if exp, ok := g.live[e.key]; ok && exp.Equal(e.expires) {
			delete(g.live, e.key)
			g.expired++
		}
	}
}

// Size returns the number of live entries as of the last Observe.
func (g *ReplayGuard) Size() int {
	return len(g.live)
}

// Expired returns how many entries have aged out (for metrics).
func (g *ReplayGuard) Expired() int64 {
	return g.expired
}
