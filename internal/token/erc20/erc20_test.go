package erc20

import (
	"encoding/hex"
	"math/big"
	"testing"

	"NeuroVault/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
)

func TestSelectors(t *testing.T) {
	tests := map[string]string{
		"transfer":     "a9059cbb",
		"transferFrom": "23b872dd",
		"decimals":     "313ce567",
		"balanceOf":    "70a08231",
	}
	for name, want := range tests {
		m, ok := parsedABI.Methods[name]
		if !ok {
			t.Errorf("%s: missing from abi", name)
			continue
		}
		if got := hex.EncodeToString(m.ID); got != want {
			t.Errorf("%s: got selector %s, want %s", name, got, want)
		}
	}
}

func TestPackTransferFrom(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	to := common.HexToAddress("0x00000000000000000000000000000000000000BB")

	data, err := parsedABI.Pack("transferFrom", from, to, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(data) != 4+3*32 {
		t.Fatalf("got %d bytes, want %d", len(data), 4+3*32)
	}
	if got := new(big.Int).SetBytes(data[4+64:]).Int64(); got != 1_000_000 {
		t.Errorf("amount word: got %d, want 1000000", got)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	acct := testutil.NewAccount(t)
	if _, err := New(nil, Config{Key: acct.Key, ChainID: big.NewInt(1), Contract: common.HexToAddress("0x01")}); err == nil {
		t.Error("nil backend accepted")
	}
}
