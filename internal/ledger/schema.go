// Package ledger defines the typed records the vault keeps in the store:
// the configuration record and the event head in the instance tier, and
// one balance per account in the persistent tier.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"NeuroVault/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

const (
	KeyConfig    = "config"
	KeyEventHead = "event_head"

	balancePrefix = "balance/"
	noncePrefix   = "nonce/"
)

var (
	ErrNegativeBalance = errors.New("ledger: negative balance")
	ErrNonceUsed       = errors.New("ledger: nonce already used")
)

// Config is the vault-wide record, loaded once per operation and passed by
// pointer through it. Owner, Agent, Token and TokenDecimals are written by
// initialization only.
type Config struct {
	Owner         common.Address `json:"owner"`
	Agent         common.Address `json:"agent"`
	Token         common.Address `json:"token"`
	TokenDecimals uint8          `json:"token_decimals"`

	TotalDeposits  int64  `json:"total_deposits"`
	TotalAssets    int64  `json:"total_assets"`
	Paused         bool   `json:"paused"`
	TvlCap         int64  `json:"tvl_cap"`
	UserDepositCap int64  `json:"user_deposit_cap"`
	Version        uint32 `json:"version"`
}

// LoadConfig returns the configuration record. found is false before
// initialization.
func LoadConfig(ctx context.Context, r store.Reader) (cfg *Config, found bool, err error) {
	raw, found, err := r.Get(ctx, store.TierInstance, KeyConfig)
	if err != nil {
		return nil, false, fmt.Errorf("load config: %w", err)
	}
	if !found {
		return nil, false, nil
	}

	cfg = new(Config)
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, false, fmt.Errorf("decode config: %w", err)
	}
	return cfg, true, nil
}

func SaveConfig(ctx context.Context, tx store.Tx, cfg *Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tx.Put(ctx, store.TierInstance, KeyConfig, raw); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// BalanceKey is the persistent-tier key of an account balance.
func BalanceKey(account common.Address) string {
	return balancePrefix + strings.ToLower(account.Hex())
}

// Balance returns the account balance; accounts that never deposited read as 0.
func Balance(ctx context.Context, r store.Reader, account common.Address) (int64, error) {
	raw, found, err := r.Get(ctx, store.TierPersistent, BalanceKey(account))
	if err != nil {
		return 0, fmt.Errorf("load balance %s: %w", account.Hex(), err)
	}
	if !found {
		return 0, nil
	}

	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode balance %s: %w", account.Hex(), err)
	}
	return v, nil
}

// SetBalance writes the balance. A zero balance is kept as a record.
func SetBalance(ctx context.Context, tx store.Tx, account common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: %s %d", ErrNegativeBalance, account.Hex(), amount)
	}
	if err := tx.Put(ctx, store.TierPersistent, BalanceKey(account), []byte(strconv.FormatInt(amount, 10))); err != nil {
		return fmt.Errorf("save balance %s: %w", account.Hex(), err)
	}
	return nil
}

// NonceKey is the persistent-tier key recording a consumed request nonce.
func NonceKey(signer common.Address, nonce string) string {
	return noncePrefix + strings.ToLower(signer.Hex()) + "/" + nonce
}

// ConsumeNonce records nonce for signer until expires. It fails with
// ErrNonceUsed when the nonce is already recorded and not expired at now.
func ConsumeNonce(ctx context.Context, tx store.Tx, signer common.Address, nonce string, expires, now time.Time) error {
	key := NonceKey(signer, nonce)
	raw, found, err := tx.Get(ctx, store.TierPersistent, key)
	if err != nil {
		return fmt.Errorf("load nonce: %w", err)
	}
	if found {
		prev, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("decode nonce %s: %w", key, err)
		}
		if !now.After(time.Unix(prev, 0)) {
			return fmt.Errorf("%w: %s", ErrNonceUsed, nonce)
		}
	}
	if err := tx.Put(ctx, store.TierPersistent, key, []byte(strconv.FormatInt(expires.Unix(), 10))); err != nil {
		return fmt.Errorf("save nonce: %w", err)
	}
	return nil
}

// EventHead is the tip of the emitted event chain.
type EventHead struct {
	Sequence int64    `json:"sequence"`
	Hash     [32]byte `json:"hash"`
}

// LoadEventHead returns the chain tip. found is false before the first event.
func LoadEventHead(ctx context.Context, r store.Reader) (head EventHead, found bool, err error) {
	raw, found, err := r.Get(ctx, store.TierInstance, KeyEventHead)
	if err != nil {
		return EventHead{}, false, fmt.Errorf("load event head: %w", err)
	}
	if !found {
		return EventHead{}, false, nil
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return EventHead{}, false, fmt.Errorf("decode event head: %w", err)
	}
	return head, true, nil
}

func SaveEventHead(ctx context.Context, tx store.Tx, head EventHead) error {
	raw, err := json.Marshal(head)
	if err != nil {
		return fmt.Errorf("encode event head: %w", err)
	}
	if err := tx.Put(ctx, store.TierInstance, KeyEventHead, raw); err != nil {
		return fmt.Errorf("save event head: %w", err)
	}
	return nil
}
