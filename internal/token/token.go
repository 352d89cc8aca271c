// Package token is the only path by which value enters or leaves the vault.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"NeuroVault/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTransferFailed  = errors.New("token: transfer failed")
	ErrUnknownContract = errors.New("token: unknown contract")
)

// Gateway moves one token between holders and the vault's custody.
// Pull and Push receive the operation's transaction; gateways whose balances
// live in the ledger store write through it so a rolled-back operation
// rolls the transfer back too.
type Gateway interface {
	Decimals(ctx context.Context) (uint8, error)
	// Pull moves amount from holder into custody.
	Pull(ctx context.Context, tx store.Tx, from common.Address, amount int64) error
	// Push moves amount from custody to holder.
	Push(ctx context.Context, tx store.Tx, to common.Address, amount int64) error
}

// Staged is implemented by gateways whose transfers are written through
// the operation's transaction and so roll back with it.
type Staged interface {
	StagedInTx() bool
}

// Resolver maps a token contract reference to its gateway.
type Resolver interface {
	Resolve(ctx context.Context, contract common.Address) (Gateway, error)
}

// Registry is a fixed set of gateways keyed by contract.
type Registry struct {
	mu       sync.RWMutex
	gateways map[common.Address]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[common.Address]Gateway)}
}

func (r *Registry) Register(contract common.Address, gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[contract] = gw
}

func (r *Registry) Resolve(_ context.Context, contract common.Address) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[contract]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, contract.Hex())
	}
	return gw, nil
}
