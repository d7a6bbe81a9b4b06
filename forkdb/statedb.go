package forkdb

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/holiman/uint256"
)

// This file implements the surface go-ethereum's vm.StateDB interface
// expects, so a *DB can be handed straight to a *vm.EVM as its state
// backend. Account existence/emptiness, balances, nonces, code, storage
// and the self-destruct/access-list/refund bookkeeping all live here;
// fork-fetching lives in db.go's ensure/storageSlot helpers underneath.

// CreateAccount marks addr as freshly created: a clean storage slate that
// will never fall through to the fork for unknown slots, matching the
// upstream "newly created accounts get StorageCleared" rule.
func (db *DB) CreateAccount(addr common.Address) {
	acc := db.ensure(addr)
	acc.Storage = make(map[common.Hash]common.Hash)
	acc.State = AccountStorageCleared
	db.created[addr] = true
}

// CreateContract is the post-EIP-2929 companion hook the interpreter calls
// right before running a CREATE's init code; tinyevm has no separate
// contract/EOA bookkeeping so this is a no-op beyond what CreateAccount
// already recorded.
func (db *DB) CreateContract(addr common.Address) {}

// SubBalance and AddBalance take a tracing.BalanceChangeReason purely so
// the real interpreter can report *why* a balance changed to any attached
// tracer; forkdb itself doesn't branch on the reason.
func (db *DB) SubBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) {
	acc := db.ensure(addr)
	acc.Info.Balance = new(uint256.Int).Sub(acc.Info.Balance, amount)
}

func (db *DB) AddBalance(addr common.Address, amount *uint256.Int, _ tracing.BalanceChangeReason) uint256.Int {
	acc := db.ensure(addr)
	prev := *acc.Info.Balance
	acc.Info.Balance = new(uint256.Int).Add(acc.Info.Balance, amount)
	return prev
}

func (db *DB) GetBalance(addr common.Address) *uint256.Int {
	return db.ensure(addr).Info.Balance
}

func (db *DB) GetNonce(addr common.Address) uint64 {
	return db.ensure(addr).Info.Nonce
}

func (db *DB) SetNonce(addr common.Address, nonce uint64) {
	db.ensure(addr).Info.Nonce = nonce
}

func (db *DB) GetCodeHash(addr common.Address) common.Hash {
	acc := db.ensure(addr)
	if acc.Info.CodeHash == (common.Hash{}) {
		return emptyCodeHash
	}
	return acc.Info.CodeHash
}

func (db *DB) GetCode(addr common.Address) []byte {
	return db.GetCodeBytes(addr)
}

func (db *DB) SetCode(addr common.Address, code []byte) {
	acc := db.ensure(addr)
	acc.Info.CodeHash = db.insertContract(code)
}

func (db *DB) GetCodeSize(addr common.Address) int {
	return len(db.GetCodeBytes(addr))
}

func (db *DB) AddRefund(gas uint64)      { db.refund += gas }
func (db *DB) SubRefund(gas uint64) {
	if gas > db.refund {
		db.refund = 0
		return
	}
	db.refund -= gas
}
func (db *DB) GetRefund() uint64 { return db.refund }

// GetCommittedState returns the same value as GetState: forkdb has no
// separate "pending transaction" overlay distinct from its committed
// state, since every mutation applies immediately (there's no batched
// commit step the way a revm-style Database/DatabaseCommit split has).
func (db *DB) GetCommittedState(addr common.Address, key common.Hash) common.Hash {
	return db.storageSlot(addr, key)
}

func (db *DB) GetState(addr common.Address, key common.Hash) common.Hash {
	return db.storageSlot(addr, key)
}

func (db *DB) SetState(addr common.Address, key, value common.Hash) common.Hash {
	acc := db.ensure(addr)
	prev := acc.Storage[key]
	acc.Storage[key] = value
	if acc.State == AccountNone {
		acc.State = AccountTouched
	}
	return prev
}

// GetStorageRoot has no meaning without a Merkle trie; tinyevm returns the
// zero hash unconditionally since nothing consumes it beyond satisfying
// the interface.
func (db *DB) GetStorageRoot(addr common.Address) common.Hash {
	return common.Hash{}
}

func (db *DB) GetTransientState(addr common.Address, key common.Hash) common.Hash {
	slots, ok := db.transient[addr]
	if !ok {
		return common.Hash{}
	}
	return slots[key]
}

func (db *DB) SetTransientState(addr common.Address, key, value common.Hash) {
	slots, ok := db.transient[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		db.transient[addr] = slots
	}
	slots[key] = value
}

// SelfDestruct clears the account's storage and resets it to
// AccountNotExisting, matching the upstream commit-time self-destruct
// handling exactly, just performed immediately rather than deferred to a
// batch commit.
func (db *DB) SelfDestruct(addr common.Address) uint256.Int {
	acc := db.ensure(addr)
	prevBalance := *acc.Info.Balance
	db.selfDestructed[addr] = true
	acc.Storage = make(map[common.Hash]common.Hash)
	acc.State = AccountNotExisting
	acc.Info = Info{Balance: new(uint256.Int), CodeHash: emptyCodeHash}
	return prevBalance
}

func (db *DB) HasSelfDestructed(addr common.Address) bool {
	return db.selfDestructed[addr]
}

// Selfdestruct6780 implements EIP-6780's "only self-destructs within the
// same transaction it was created in" rule. tinyevm tracks created
// addresses per-transaction (cleared by the executor between calls), so
// this simply checks that set before delegating to SelfDestruct.
func (db *DB) Selfdestruct6780(addr common.Address) (uint256.Int, bool) {
	if !db.created[addr] {
		return *db.GetBalance(addr), false
	}
	return db.SelfDestruct(addr), true
}

func (db *DB) Exist(addr common.Address) bool {
	acc, ok := db.accounts[addr]
	if !ok {
		// Force a fetch so an untouched-but-remotely-existing address is
		// correctly reported.
		acc = db.ensure(addr)
	}
	if acc.State == AccountNotExisting {
		return false
	}
	return true
}

func (db *DB) Empty(addr common.Address) bool {
	acc := db.ensure(addr)
	return acc.Info.Nonce == 0 && acc.Info.Balance.IsZero() &&
		(acc.Info.CodeHash == common.Hash{} || acc.Info.CodeHash == emptyCodeHash)
}

func (db *DB) AddressInAccessList(addr common.Address) bool {
	return db.accessListAddresses[addr]
}

func (db *DB) SlotInAccessList(addr common.Address, slot common.Hash) (bool, bool) {
	addrOK := db.accessListAddresses[addr]
	slots, ok := db.accessListSlots[addr]
	if !ok {
		return addrOK, false
	}
	return addrOK, slots[slot]
}

func (db *DB) AddAddressToAccessList(addr common.Address) {
	db.accessListAddresses[addr] = true
}

func (db *DB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	db.accessListAddresses[addr] = true
	slots, ok := db.accessListSlots[addr]
	if !ok {
		slots = make(map[common.Hash]bool)
		db.accessListSlots[addr] = slots
	}
	slots[slot] = true
}

// Prepare resets the per-transaction access list and warms it per EIP-2929
// / EIP-2930, mirroring what core/state.StateDB.Prepare does ahead of a
// real transaction.
func (db *DB) Prepare(rules params.Rules, sender, coinbase common.Address, dest *common.Address, precompiles []common.Address, txAccesses types.AccessList) {
	db.accessListAddresses = make(map[common.Address]bool)
	db.accessListSlots = make(map[common.Address]map[common.Hash]bool)
	db.transient = make(map[common.Address]map[common.Hash]common.Hash)

	db.AddAddressToAccessList(sender)
	if dest != nil {
		db.AddAddressToAccessList(*dest)
	}
	for _, addr := range precompiles {
		db.AddAddressToAccessList(addr)
	}
	if rules.IsBerlin {
		db.AddAddressToAccessList(coinbase)
	}
	for _, el := range txAccesses {
		db.AddAddressToAccessList(el.Address)
		for _, key := range el.StorageKeys {
			db.AddSlotToAccessList(el.Address, key)
		}
	}
}

// Snapshot/RevertToSnapshot back the interpreter's own call-revert
// mechanism. A full deep copy of the account map per snapshot is the
// simplest correct implementation for an in-memory map-backed database of
// tinyevm's size, trading a little extra allocation for not needing a
// general-purpose journal.
func (db *DB) Snapshot() int {
	clone := make(map[common.Address]*Account, len(db.accounts))
	for addr, acc := range db.accounts {
		clone[addr] = acc.clone()
	}
	db.snapshots = append(db.snapshots, clone)
	return len(db.snapshots) - 1
}

func (db *DB) RevertToSnapshot(id int) {
	if id < 0 || id >= len(db.snapshots) {
		return
	}
	db.accounts = db.snapshots[id]
	db.snapshots = db.snapshots[:id]
}

func (db *DB) AddLog(l *types.Log) {
	db.logs = append(db.logs, &Log{Address: l.Address, Topics: l.Topics, Data: l.Data})
}

// Logs returns the logs recorded since the database was constructed or
// last reset; the executor façade resets it before every deploy/call.
func (db *DB) Logs() []*Log {
	return db.logs
}

// ResetLogs clears accumulated logs, called by the executor between
// top-level transactions.
func (db *DB) ResetLogs() {
	db.logs = nil
}

func (db *DB) AddPreimage(hash common.Hash, preimage []byte) {
	if _, ok := db.preimages[hash]; ok {
		return
	}
	cp := make([]byte, len(preimage))
	copy(cp, preimage)
	db.preimages[hash] = cp
}

// CreatedAddresses returns every address CreateAccount has been called on
// since the last ResetCreated, mirroring the upstream's per-transaction
// created_addresses bookkeeping.
func (db *DB) CreatedAddresses() []common.Address {
	out := make([]common.Address, 0, len(db.created))
	for addr := range db.created {
		out = append(out, addr)
	}
	return out
}

// ResetCreated clears the per-transaction created-address and
// self-destruct bookkeeping; the executor calls this before every
// deploy/call, matching the upstream's per-transaction reset.
func (db *DB) ResetCreated() {
	db.created = make(map[common.Address]bool)
	db.selfDestructed = make(map[common.Address]bool)
}
