package access

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const signingDomain = "NeuroVault/v1"

// SignedRequest is the envelope every mutating call arrives in. The signer
// of Digest() is the caller.
type SignedRequest struct {
	Operation string          `json:"operation"`
	Body      json.RawMessage `json:"body"`
	Nonce     string          `json:"nonce"`
	ExpiresAt int64           `json:"expires_at"` // unix seconds
	Signature string          `json:"signature"`  // 0x-prefixed 65-byte secp256k1 signature
}

// Digest is Keccak-256 over the domain tag, operation, compacted JSON body,
// nonce and expiry, each separated by a zero byte.
func (r *SignedRequest) Digest() ([]byte, error) {
	var body bytes.Buffer
	if len(bytes.TrimSpace(r.Body)) > 0 {
		if err := json.Compact(&body, r.Body); err != nil {
			return nil, fmt.Errorf("compact body: %w", err)
		}
	}

	sep := []byte{0}
	return crypto.Keccak256(
		[]byte(signingDomain), sep,
		[]byte(r.Operation), sep,
		body.Bytes(), sep,
		[]byte(r.Nonce), sep,
		[]byte(strconv.FormatInt(r.ExpiresAt, 10)),
	), nil
}

// Sign fills in Signature using key.
func (r *SignedRequest) Sign(key *ecdsa.PrivateKey) error {
	digest, err := r.Digest()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	r.Signature = hexutil.Encode(sig)
	return nil
}

// Verifier turns signed requests into principals.
type Verifier struct {
	maxAge time.Duration
	now    func() time.Time

	mu    sync.Mutex
	guard *ReplayGuard
}

func NewVerifier(maxAge time.Duration, replayCapacity int) *Verifier {
	return &Verifier{
		maxAge: maxAge,
		now:    time.Now,
		guard:  NewReplayGuard(replayCapacity),
	}
}

// WithClock replaces the time source. Used by tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks that req is for operation, unexpired, not replayed, and
// signed; it returns the recovered signer.
func (v *Verifier) Verify(operation string, req *SignedRequest) (Principal, error) {
	if req.Operation != operation {
		return Principal{}, fmt.Errorf("%w: request signed for %q, not %q", ErrUnauthorized, req.Operation, operation)
	}
	if strings.TrimSpace(req.Nonce) == "" {
		return Principal{}, fmt.Errorf("%w: missing nonce", ErrUnauthorized)
	}

	now := v.now()
	expires := time.Unix(req.ExpiresAt, 0)
	if now.After(expires) {
		return Principal{}, fmt.Errorf("%w: request expired", ErrUnauthorized)
	}
	if expires.Sub(now) > v.maxAge {
		return Principal{}, fmt.Errorf("%w: expiry beyond %s", ErrUnauthorized, v.maxAge)
	}

	digest, err := req.Digest()
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	sig, err := hexutil.Decode(req.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return Principal{}, fmt.Errorf("%w: malformed signature", ErrUnauthorized)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: recover signer: %v", ErrUnauthorized, err)
	}
	signer := crypto.PubkeyToAddress(*pub)

	v.mu.Lock()
	err = v.guard.Observe(strings.ToLower(signer.Hex())+":"+req.Nonce, expires, now)
	v.mu.Unlock()
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	return signed(signer, req.Nonce, expires), nil
}

// ReplayStats reports the replay guard's occupancy and how many entries
// have expired out of it.
func (v *Verifier) ReplayStats() (size int, expired int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.guard.Size(), v.guard.Expired()
}
