package forkdb

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/holiman/uint256"
)

func TestBalanceRoundTrip(t *testing.T) {
	db := New()
	addr := common.HexToAddress("0x1")

	amount := uint256.NewInt(100)
	db.AddBalance(addr, amount, tracing.BalanceChangeUnspecified)
	if got := db.GetBalance(addr); got.Cmp(amount) != 0 {
		t.Fatalf("got balance %v, want %v", got, amount)
	}

	db.SubBalance(addr, uint256.NewInt(40), tracing.BalanceChangeUnspecified)
	if got := db.GetBalance(addr); got.Cmp(uint256.NewInt(60)) != 0 {
		t.Fatalf("got balance %v, want 60", got)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	db := New()
	addr := common.HexToAddress("0x2")
	key := common.HexToHash("0x1")
	val := common.HexToHash("0xdead")

	db.SetState(addr, key, val)
	if got := db.GetState(addr, key); got != val {
		t.Fatalf("got %v, want %v", got, val)
	}
}

func TestSelfDestructClearsStorage(t *testing.T) {
	db := New()
	addr := common.HexToAddress("0x3")
	db.CreateAccount(addr)
	db.SetState(addr, common.HexToHash("0x1"), common.HexToHash("0x2"))

	db.SelfDestruct(addr)

	if db.GetState(addr, common.HexToHash("0x1")) != (common.Hash{}) {
		t.Fatal("expected storage cleared after self-destruct")
	}
	if !db.HasSelfDestructed(addr) {
		t.Fatal("expected HasSelfDestructed true")
	}
	if db.Exist(addr) {
		t.Fatal("expected Exist false after self-destruct")
	}
}

func TestSnapshotRevert(t *testing.T) {
	db := New()
	addr := common.HexToAddress("0x4")
	db.AddBalance(addr, uint256.NewInt(10), tracing.BalanceChangeUnspecified)

	snap := db.Snapshot()
	db.AddBalance(addr, uint256.NewInt(90), tracing.BalanceChangeUnspecified)
	if got := db.GetBalance(addr); got.Cmp(uint256.NewInt(100)) != 0 {
		t.Fatalf("got %v, want 100", got)
	}

	db.RevertToSnapshot(snap)
	if got := db.GetBalance(addr); got.Cmp(uint256.NewInt(10)) != 0 {
		t.Fatalf("got %v, want 10 after revert", got)
	}
}

func TestRelocateAccount(t *testing.T) {
	db := New()
	from := common.HexToAddress("0x5")
	to := common.HexToAddress("0x6")
	db.SetCode(from, []byte{0x60, 0x01})

	db.RelocateAccount(from, to)

	if db.Account(from) != nil {
		t.Fatal("expected source address cleared after relocation")
	}
	if len(db.GetCode(to)) != 2 {
		t.Fatal("expected code relocated to destination address")
	}
}

func TestBlockHashDeterministicWithoutFork(t *testing.T) {
	db := New()
	h1 := db.BlockHash(10)
	h2 := db.BlockHash(10)
	h3 := db.BlockHash(11)
	if h1 != h2 {
		t.Fatal("expected stable block hash for repeated calls")
	}
	if h1 == h3 {
		t.Fatal("expected different block hashes for different numbers")
	}
}
