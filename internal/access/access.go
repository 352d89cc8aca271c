// Package access decides whether a caller may run an operation.
package access

import (
	"errors"
	"fmt"
	"time"

	"NeuroVault/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("access: unauthorized")

// Principal is an authenticated caller. The zero value is anonymous and
// satisfies no role.
type Principal struct {
	account common.Address
	valid   bool

	// Set when the principal came from a signed request.
	nonce   string
	expires time.Time
}

// Trusted mints a principal for an in-process caller whose identity was
// established outside the signature path (daemon bootstrap, tests).
func Trusted(account common.Address) Principal {
	return Principal{account: account, valid: true}
}

func signed(account common.Address, nonce string, expires time.Time) Principal {
	return Principal{account: account, valid: true, nonce: nonce, expires: expires}
}

func (p Principal) Account() common.Address { return p.account }

// Nonce returns the request nonce and its expiry. ok is false for trusted
// and anonymous principals.
func (p Principal) Nonce() (nonce string, expires time.Time, ok bool) {
	return p.nonce, p.expires, p.nonce != ""
}

func (p Principal) IsAnonymous() bool { return !p.valid }

func (p Principal) String() string {
	if !p.valid {
		return "anonymous"
	}
	return p.account.Hex()
}

// RoleKind is the closed set of roles an operation can require.
type RoleKind uint8

const (
	RoleOwner RoleKind = iota + 1
	RoleAgent
	RoleSelf
)

func (k RoleKind) String() string {
	switch k {
	case RoleOwner:
		return "owner"
	case RoleAgent:
		return "agent"
	case RoleSelf:
		return "self"
	default:
		return "unknown"
	}
}

// Role is a required role. Self carries the account being acted upon.
type Role struct {
	kind    RoleKind
	account common.Address
}

func Owner() Role { return Role{kind: RoleOwner} }

func Agent() Role { return Role{kind: RoleAgent} }

func Self(account common.Address) Role { return Role{kind: RoleSelf, account: account} }

func (r Role) Kind() RoleKind { return r.kind }

func (r Role) String() string {
	if r.kind == RoleSelf {
		return "self(" + r.account.Hex() + ")"
	}
	return r.kind.String()
}

// Authorize fails with ErrUnauthorized unless caller holds role under cfg.
// There is no delegation and no owner override of Self.
func Authorize(caller Principal, role Role, cfg *ledger.Config) error {
	if caller.IsAnonymous() {
		return fmt.Errorf("%w: anonymous caller requires %s", ErrUnauthorized, role)
	}

	var want common.Address
	switch role.kind {
	case RoleOwner:
		want = cfg.Owner
	case RoleAgent:
		want = cfg.Agent
	case RoleSelf:
		want = role.account
	default:
		return fmt.Errorf("%w: unknown role %d", ErrUnauthorized, role.kind)
	}

	if want == (common.Address{}) || caller.account != want {
		return fmt.Errorf("%w: %s is not %s", ErrUnauthorized, caller, role)
	}
	return nil
}
