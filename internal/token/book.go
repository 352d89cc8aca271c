package token

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	fpmath "NeuroVault/internal/math"
	"NeuroVault/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultBookDecimals matches the 7-decimal stable tokens the vault was
// first deployed against.
const DefaultBookDecimals uint8 = 7

// Book is a token contract whose holder balances live in the ledger store's
// persistent tier under "token/<contract>/<holder>". Transfers are staged in
// the calling operation's transaction.
type Book struct {
	contract common.Address
	custody  common.Address
	decimals uint8

	mu   sync.Mutex
	fail error
}

var (
	_ Gateway = (*Book)(nil)
	_ Staged  = (*Book)(nil)
)

func NewBook(contract, custody common.Address, decimals uint8) *Book {
	return &Book{contract: contract, custody: custody, decimals: decimals}
}

func (b *Book) Contract() common.Address { return b.contract }

func (b *Book) Custody() common.Address { return b.custody }

func (b *Book) Decimals(context.Context) (uint8, error) { return b.decimals, nil }

func (b *Book) StagedInTx() bool { return true }

// FailTransfers makes every following Pull and Push fail with err wrapped in
// ErrTransferFailed; nil restores normal behaviour.
func (b *Book) FailTransfers(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = err
}

func (b *Book) Pull(ctx context.Context, tx store.Tx, from common.Address, amount int64) error {
	return b.transfer(ctx, tx, from, b.custody, amount)
}

func (b *Book) Push(ctx context.Context, tx store.Tx, to common.Address, amount int64) error {
	return b.transfer(ctx, tx, b.custody, to, amount)
}

// Mint credits holder out of thin air. Dev and test funding only.
func (b *Book) Mint(ctx context.Context, tx store.Tx, holder common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("mint: non-positive amount %d", amount)
	}
	bal, err := b.balance(ctx, tx, holder)
	if err != nil {
		return err
	}
	next, err := fpmath.Add(bal, amount)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	return b.setBalance(ctx, tx, holder, next)
}

// Grant is one holder credited by Fund.
type Grant struct {
	Holder common.Address
	Amount int64
}

// Fund mints grants in one transaction the first time it runs against st
// and records that it did. Later calls leave balances alone and report
// applied=false.
func (b *Book) Fund(ctx context.Context, st store.Store, grants []Grant) (applied bool, err error) {
	marker := "token/" + strings.ToLower(b.contract.Hex()) + "/funded"
	err = st.Update(ctx, func(tx store.Tx) error {
		applied = false
		_, done, err := tx.Get(ctx, store.TierInstance, marker)
		if err != nil {
			return fmt.Errorf("fund: %w", err)
		}
		if done {
			return nil
		}
		for _, g := range grants {
			if err := b.Mint(ctx, tx, g.Holder, g.Amount); err != nil {
				return fmt.Errorf("fund %s: %w", g.Holder.Hex(), err)
			}
		}
		if err := tx.Put(ctx, store.TierInstance, marker, []byte(strconv.Itoa(len(grants)))); err != nil {
			return fmt.Errorf("fund: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// BalanceOf reads a holder's token balance.
func (b *Book) BalanceOf(ctx context.Context, r store.Reader, holder common.Address) (int64, error) {
	return b.balance(ctx, r, holder)
}

func (b *Book) transfer(ctx context.Context, tx store.Tx, from, to common.Address, amount int64) error {
	b.mu.Lock()
	fail := b.fail
	b.mu.Unlock()
	if fail != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, fail)
	}

	if amount <= 0 {
		return fmt.Errorf("%w: non-positive amount %d", ErrTransferFailed, amount)
	}

	fromBal, err := b.balance(ctx, tx, from)
	if err != nil {
		return err
	}
	nextFrom, err := fpmath.SubNonNegative(fromBal, amount)
	if err != nil {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrTransferFailed, from.Hex(), fromBal, amount)
	}
	if err := b.setBalance(ctx, tx, from, nextFrom); err != nil {
		return err
	}

	toBal, err := b.balance(ctx, tx, to)
	if err != nil {
		return err
	}
	nextTo, err := fpmath.Add(toBal, amount)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return b.setBalance(ctx, tx, to, nextTo)
}

func (b *Book) key(holder common.Address) string {
	return "token/" + strings.ToLower(b.contract.Hex()) + "/" + strings.ToLower(holder.Hex())
}

func (b *Book) balance(ctx context.Context, r store.Reader, holder common.Address) (int64, error) {
	raw, found, err := r.Get(ctx, store.TierPersistent, b.key(holder))
	if err != nil {
		return 0, fmt.Errorf("token balance %s: %w", holder.Hex(), err)
	}
	if !found {
		return 0, nil
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode token balance %s: %w", holder.Hex(), err)
	}
	return v, nil
}

func (b *Book) setBalance(ctx context.Context, tx store.Tx, holder common.Address, amount int64) error {
	if err := tx.Put(ctx, store.TierPersistent, b.key(holder), []byte(strconv.FormatInt(amount, 10))); err != nil {
		return fmt.Errorf("token balance %s: %w", holder.Hex(), err)
	}
	return nil
}
