package forkdb

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AccountState tracks what tinyevm knows about an account's storage so
// that merges during execution behave the same way the upstream database
// does: fresh accounts get a clean slate, self-destructed accounts are
// wiped, and "touched" accounts keep whatever was fetched from the fork.
type AccountState int

const (
	// AccountNone is the zero value: nothing is known yet about this slot
	// set, so a miss should fall through to the remote fork.
	AccountNone AccountState = iota
	// AccountTouched means the account was read/written but its storage
	// set is not known to be complete; unknown slots should still be
	// fetched remotely.
	AccountTouched
	// AccountStorageCleared means the account's storage is authoritative
	// locally (it was created fresh, or fully replaced) and unknown slots
	// are zero, never fetched remotely.
	AccountStorageCleared
	// AccountNotExisting means the account was self-destructed or never
	// existed; reads return the zero account.
	AccountNotExisting
)

// Info mirrors the account-level fields the EVM reads: balance, nonce and
// code identity. Code bytes live in DB.contracts, keyed by CodeHash, so
// that identical bytecode across many accounts is only stored once.
type Info struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
}

// Account is one entry in the fork database: account info plus whatever
// storage slots have been read or written so far.
type Account struct {
	Info    Info
	Storage map[common.Hash]common.Hash
	State   AccountState
}

func newAccount() *Account {
	return &Account{
		Info:    Info{Balance: new(uint256.Int)},
		Storage: make(map[common.Hash]common.Hash),
	}
}

func (a *Account) clone() *Account {
	c := &Account{
		Info:    a.Info,
		Storage: make(map[common.Hash]common.Hash, len(a.Storage)),
		State:   a.State,
	}
	if a.Info.Balance != nil {
		c.Info.Balance = new(uint256.Int).Set(a.Info.Balance)
	} else {
		c.Info.Balance = new(uint256.Int)
	}
	for k, v := range a.Storage {
		c.Storage[k] = v
	}
	return c
}
