// Package erc20 is a token.Gateway for an ERC-20 contract reached over
// JSON-RPC. Custody is the address of the configured key; pulls use
// transferFrom and need a prior allowance from the holder.
package erc20

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	fpmath "NeuroVault/internal/math"
	"NeuroVault/internal/store"
	"NeuroVault/internal/token"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABI = `[
 {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var parsedABI = mustParseABI(erc20ABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("erc20: parse abi: %v", err))
	}
	return parsed
}

const defaultConfirmTimeout = 2 * time.Minute

// Backend is what the gateway needs from a chain client; *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

type Config struct {
	Contract       common.Address
	Key            *ecdsa.PrivateKey
	ChainID        *big.Int
	ConfirmTimeout time.Duration
}

type Gateway struct {
	address  common.Address
	contract *bind.BoundContract
	backend  Backend
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	custody  common.Address
	timeout  time.Duration

	// Transactions from one key must not race on the account nonce.
	mu       sync.Mutex
	decimals *uint8
}

var _ token.Gateway = (*Gateway)(nil)

func New(backend Backend, cfg Config) (*Gateway, error) {
	if backend == nil {
		return nil, errors.New("erc20: backend is required")
	}
	if cfg.Key == nil {
		return nil, errors.New("erc20: custody key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("erc20: chain id is required")
	}
	if cfg.Contract == (common.Address{}) {
		return nil, errors.New("erc20: contract address is required")
	}

	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = defaultConfirmTimeout
	}

	return &Gateway{
		address:  cfg.Contract,
		contract: bind.NewBoundContract(cfg.Contract, parsedABI, backend, backend, backend),
		backend:  backend,
		key:      cfg.Key,
		chainID:  new(big.Int).Set(cfg.ChainID),
		custody:  crypto.PubkeyToAddress(cfg.Key.PublicKey),
		timeout:  timeout,
	}, nil
}

// Dial connects to rpcURL, filling ChainID from the node when unset.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Gateway, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("erc20: dial %s: %w", rpcURL, err)
	}
	if cfg.ChainID == nil {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("erc20: chain id: %w", err)
		}
		cfg.ChainID = id
	}

	gw, err := New(client, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return gw, client.Close, nil
}

func (g *Gateway) Contract() common.Address { return g.address }

func (g *Gateway) Custody() common.Address { return g.custody }

func (g *Gateway) Decimals(ctx context.Context) (uint8, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.decimals != nil {
		return *g.decimals, nil
	}

	var out []any
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "decimals"); err != nil {
		return 0, fmt.Errorf("erc20: decimals: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("erc20: decimals: got %d outputs", len(out))
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("erc20: decimals: unexpected type %T", out[0])
	}
	g.decimals = &d
	return d, nil
}

// BalanceOf reads holder's on-chain balance.
func (g *Gateway) BalanceOf(ctx context.Context, holder common.Address) (int64, error) {
	var out []any
	if err := g.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", holder); err != nil {
		return 0, fmt.Errorf("erc20: balanceOf: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("erc20: balanceOf: got %d outputs", len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("erc20: balanceOf: unexpected type %T", out[0])
	}
	return fpmath.FromBig(v)
}

// Pull calls transferFrom(from, custody, amount). The ledger transaction is
// not used: on-chain effects cannot be rolled back with it.
func (g *Gateway) Pull(ctx context.Context, _ store.Tx, from common.Address, amount int64) error {
	value, err := fpmath.ToBig(amount)
	if err != nil {
		return fmt.Errorf("%w: %w", token.ErrTransferFailed, err)
	}
	return g.transact(ctx, "transferFrom", from, g.custody, value)
}

// Push calls transfer(to, amount) from custody.
func (g *Gateway) Push(ctx context.Context, _ store.Tx, to common.Address, amount int64) error {
	value, err := fpmath.ToBig(amount)
	if err != nil {
		return fmt.Errorf("%w: %w", token.ErrTransferFailed, err)
	}
	return g.transact(ctx, "transfer", to, value)
}

func (g *Gateway) transact(ctx context.Context, method string, args ...any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(g.key, g.chainID)
	if err != nil {
		return fmt.Errorf("%w: transactor: %w", token.ErrTransferFailed, err)
	}
	opts.Context = ctx

	tx, err := g.contract.Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", token.ErrTransferFailed, method, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, g.backend, tx)
	if err != nil {
		return fmt.Errorf("%w: %s %s not confirmed: %w", token.ErrTransferFailed, method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s %s reverted", token.ErrTransferFailed, method, tx.Hash().Hex())
	}
	return nil
}
