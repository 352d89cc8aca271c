package access_test

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"NeuroVault/internal/access"
	"NeuroVault/internal/testutil"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

var fixedNow = time.Unix(1_750_000_000, 0)

func newVerifier() *access.Verifier {
	return access.NewVerifier(5*time.Minute, 16).WithClock(func() time.Time { return fixedNow })
}

func signedRequest(t *testing.T, acct testutil.Account, op, body, nonce string) *access.SignedRequest {
	t.Helper()
	req := &access.SignedRequest{
		Operation: op,
		Body:      json.RawMessage(body),
		Nonce:     nonce,
		ExpiresAt: fixedNow.Add(time.Minute).Unix(),
	}
	if err := req.Sign(acct.Key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return req
}

func TestVerifyRecoversSigner(t *testing.T) {
	acct := testutil.NewAccount(t)
	req := signedRequest(t, acct, "deposit", `{"amount": 1000000}`, "n-1")

	p, err := newVerifier().Verify("deposit", req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Account() != acct.Address {
		t.Errorf("got %s, want %s", p.Account().Hex(), acct.Address.Hex())
	}
}

func TestVerifyIgnoresBodyWhitespace(t *testing.T) {
	acct := testutil.NewAccount(t)
	req := signedRequest(t, acct, "deposit", `{"amount":1000000}`, "n-1")
	req.Body = json.RawMessage("{ \"amount\" : 1000000 }")

	if _, err := newVerifier().Verify("deposit", req); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejects(t *testing.T) {
	acct := testutil.NewAccount(t)

	tests := []struct {
		name   string
		op     string
		mutate func(r *access.SignedRequest)
	}{
		{"wrong operation", "withdraw", func(r *access.SignedRequest) {}},
		{"expired", "deposit", func(r *access.SignedRequest) { r.ExpiresAt = fixedNow.Add(-time.Second).Unix() }},
		{"expiry too far", "deposit", func(r *access.SignedRequest) { r.ExpiresAt = fixedNow.Add(time.Hour).Unix() }},
		{"missing nonce", "deposit", func(r *access.SignedRequest) { r.Nonce = "" }},
		{"garbage signature", "deposit", func(r *access.SignedRequest) { r.Signature = "0x1234" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := signedRequest(t, acct, "deposit", `{"amount":1}`, "n-"+tt.name)
			tt.mutate(req)
			p, err := newVerifier().Verify(tt.op, req)
			if !errors.Is(err, access.ErrUnauthorized) {
				t.Fatalf("got %v, want ErrUnauthorized", err)
			}
			if !p.IsAnonymous() {
				t.Errorf("got principal %s on failure", p)
			}
		})
	}
}

func TestVerifyTamperedBodyRecoversDifferentSigner(t *testing.T) {
	acct := testutil.NewAccount(t)
	req := signedRequest(t, acct, "deposit", `{"amount":1}`, "n-1")
	req.Body = json.RawMessage(`{"amount":2}`)

	p, err := newVerifier().Verify("deposit", req)
	if err == nil && p.Account() == acct.Address {
		t.Fatal("tampered request attributed to the original signer")
	}
}

func TestVerifyRejectsReplay(t *testing.T) {
	acct := testutil.NewAccount(t)
	v := newVerifier()
	req := signedRequest(t, acct, "withdraw", `{"amount":1}`, "once")

	if _, err := v.Verify("withdraw", req); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := v.Verify("withdraw", req); !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("replay: got %v, want ErrUnauthorized", err)
	}

	other := testutil.NewAccount(t)
	if _, err := v.Verify("withdraw", signedRequest(t, other, "withdraw", `{"amount":1}`, "once")); err != nil {
		t.Fatalf("same nonce, other signer: %v", err)
	}
}

func TestReplayGuardKeepsLiveNonces(t *testing.T) {
	g := access.NewReplayGuard(2)
	exp := fixedNow.Add(time.Minute)
	if err := g.Observe("a", exp, fixedNow); err != nil {
		t.Fatalf("a: %v", err)
	}
	if err := g.Observe("b", exp, fixedNow); err != nil {
		t.Fatalf("b: %v", err)
	}
	if err := g.Observe("c", exp, fixedNow); !errors.Is(err, access.ErrReplayCapacity) {
		t.Errorf("c: got %v, want ErrReplayCapacity", err)
	}
	if g.Size() != 2 {
		t.Errorf("size: got %d, want 2", g.Size())
	}
	if err := g.Observe("a", exp, fixedNow); !errors.Is(err, access.ErrNonceReused) {
		t.Errorf("a again: got %v, want ErrNonceReused", err)
	}
}

func TestReplayGuardFreesExpiredSlots(t *testing.T) {
	g := access.NewReplayGuard(2)
	g.Observe("a", fixedNow, fixedNow.Add(-time.Minute))
	g.Observe("b", fixedNow.Add(time.Hour), fixedNow.Add(-time.Minute))

	later := fixedNow.Add(time.Second)
	if err := g.Observe("c", later.Add(time.Minute), later); err != nil {
		t.Fatalf("c after a expired: %v", err)
	}
	if g.Expired() != 1 {
		t.Errorf("expired: got %d, want 1", g.Expired())
	}
	if err := g.Observe("b", later.Add(time.Minute), later); !errors.Is(err, access.ErrNonceReused) {
		t.Errorf("b: got %v, want ErrNonceReused", err)
	}
}

func TestReplayGuardExpiredEntryIsReusable(t *testing.T) {
	g := access.NewReplayGuard(4)
	g.Observe("a", fixedNow, fixedNow.Add(-time.Minute))
	if err := g.Observe("a", fixedNow.Add(time.Minute), fixedNow.Add(time.Second)); err != nil {
		t.Errorf("expired entry: got %v, want nil", err)
	}
}

func TestReplayGuardLiveAtExpiry(t *testing.T) {
	g := access.NewReplayGuard(4)
	g.Observe("a", fixedNow, fixedNow.Add(-time.Minute))
	if err := g.Observe("a", fixedNow, fixedNow); !errors.Is(err, access.ErrNonceReused) {
		t.Errorf("at expiry: got %v, want ErrNonceReused", err)
	}
}

// Junk signatures recover to arbitrary signers; filling the guard with them
// must not let a captured request through a second time.
func TestVerifyReplayAfterFlood(t *testing.T) {
	victim := testutil.NewAccount(t)
	v := newVerifier()
	captured := signedRequest(t, victim, "deposit", `{"amount":1000000}`, "victim")
	if _, err := v.Verify("deposit", captured); err != nil {
		t.Fatalf("first: %v", err)
	}

	for i := 0; i < 64; i++ {
		junk := &access.SignedRequest{
			Operation: "deposit",
			Body:      json.RawMessage(`{"amount":1000000}`),
			Nonce:     fmt.Sprintf("junk-%d", i),
			ExpiresAt: fixedNow.Add(time.Minute).Unix(),
		}
		sig := make([]byte, 65)
		rand.Read(sig[:64])
		junk.Signature = hexutil.Encode(sig)
		v.Verify("deposit", junk)
	}

	p, err := v.Verify("deposit", captured)
	if !errors.Is(err, access.ErrUnauthorized) {
		t.Fatalf("replay after flood: got principal %s err %v, want ErrUnauthorized", p, err)
	}
}

func TestVerifiedPrincipalCarriesNonce(t *testing.T) {
	acct := testutil.NewAccount(t)
	req := signedRequest(t, acct, "deposit", `{"amount":1}`, "n-7")
	p, err := newVerifier().Verify("deposit", req)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	nonce, expires, ok := p.Nonce()
	if !ok || nonce != "n-7" || expires.Unix() != req.ExpiresAt {
		t.Errorf("got %q %v %t, want n-7 %d true", nonce, expires, ok, req.ExpiresAt)
	}
	if _, _, ok := access.Trusted(acct.Address).Nonce(); ok {
		t.Error("trusted principal carries a nonce")
	}
}
