// Package forkdb is the fork-backed state database tinyevm hands to the
// EVM: an in-memory account/storage map that lazily fetches whatever it
// doesn't have yet from a fork.Provider, and commits mutations the same
// way the upstream database does (self-destruct clears storage and
// resets the account, fresh accounts get a clean storage slate, everyone
// else keeps what was already cleared).
package forkdb

import (
	"context"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/tinyevm/tinyevm/fork"
	"github.com/tinyevm/tinyevm/internal/callctx"
)

// DB is the fork database. It is not safe for concurrent use; a tinyevm
// Executor owns exactly one DB and drives it from a single goroutine.
type DB struct {
	accounts map[common.Address]*Account
	// contracts dedups bytecode by its keccak256 hash, mirroring upstream's
	// contracts map so that many accounts sharing the same bytecode (e.g.
	// proxies, fixture deployments) only store the bytes once.
	contracts map[common.Hash][]byte

	blockHashes map[uint64]common.Hash

	ForkEnabled bool
	provider    *fork.Provider
	blockID     *uint64
	ctx         context.Context

	// RemoteAddresses records, per address, which storage slots are known
	// to exist remotely and have already been fetched. Only addresses with
	// nonzero code/balance/nonce remotely are tracked here, matching the
	// upstream "an account can't have storage without code" assumption.
	RemoteAddresses map[common.Address]map[common.Hash]bool
	// IgnoredAddresses holds addresses tinyevm refused to fetch because
	// the call stack exceeded MaxForkDepth.
	IgnoredAddresses map[common.Address]bool

	// MaxForkDepth bounds how deep into a call stack tinyevm will still
	// reach out to the fork for unknown accounts, read once from
	// TINYEVM_MAX_FORK_DEPTH at construction time.
	MaxForkDepth int

	Tracker *callctx.Tracker

	snapshots []map[common.Address]*Account
	refund    uint64

	accessListAddresses map[common.Address]bool
	accessListSlots     map[common.Address]map[common.Hash]bool

	selfDestructed map[common.Address]bool
	created        map[common.Address]bool

	transient map[common.Address]map[common.Hash]common.Hash

	logs      []*Log
	preimages map[common.Hash][]byte
}

// Log is a minimal event log record, decoupled from go-ethereum's
// core/types.Log so forkdb doesn't need a block/transaction context to
// populate block number, tx hash, tx index etc.; it carries none of those
// fields.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// New builds a DB with forking disabled: every unknown account reads as
// empty and block hashes are deterministic keccak256(number).
func New() *DB {
	return NewWithProvider(context.Background(), nil, nil)
}

// NewWithProvider builds a DB that forks from provider pinned at blockID
// (nil meaning "current head", resolved lazily on first use).
func NewWithProvider(ctx context.Context, provider *fork.Provider, blockID *uint64) *DB {
	if ctx == nil {
		ctx = context.Background()
	}
	maxDepth := int(^uint(0) >> 1)
	if v := os.Getenv("TINYEVM_MAX_FORK_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			maxDepth = n
		}
	}
	return &DB{
		accounts:            make(map[common.Address]*Account),
		contracts:           make(map[common.Hash][]byte),
		blockHashes:         make(map[uint64]common.Hash),
		ForkEnabled:         provider != nil,
		provider:            provider,
		blockID:             blockID,
		ctx:                 ctx,
		RemoteAddresses:     make(map[common.Address]map[common.Hash]bool),
		IgnoredAddresses:    make(map[common.Address]bool),
		MaxForkDepth:        maxDepth,
		Tracker:             callctx.New(),
		accessListAddresses: make(map[common.Address]bool),
		accessListSlots:     make(map[common.Address]map[common.Hash]bool),
		selfDestructed:      make(map[common.Address]bool),
		created:             make(map[common.Address]bool),
		transient:           make(map[common.Address]map[common.Hash]common.Hash),
		preimages:           make(map[common.Hash][]byte),
	}
}

// ForkBlockID returns the pinned fork block, resolving "head" against the
// provider on first call.
func (db *DB) ForkBlockID() (uint64, error) {
	if db.blockID != nil {
		return *db.blockID, nil
	}
	if db.provider == nil {
		return 0, errNoProvider
	}
	log.Info("forkdb: loading current block number from provider")
	n, err := db.provider.GetBlockNumber(db.ctx)
	if err != nil {
		return 0, err
	}
	db.blockID = &n
	return n, nil
}

var errNoProvider = dbError("no fork provider configured")

type dbError string

func (e dbError) Error() string { return string(e) }

// insertContract dedups code by hash, same as the upstream insert_contract.
func (db *DB) insertContract(code []byte) common.Hash {
	if len(code) == 0 {
		return emptyCodeHash
	}
	hash := common.BytesToHash(crypto_Keccak256(code))
	if _, ok := db.contracts[hash]; !ok {
		db.contracts[hash] = code
	}
	return hash
}

var emptyCodeHash = common.BytesToHash(crypto_Keccak256(nil))

func crypto_Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// ensure loads remote account info on first touch, honoring MaxForkDepth
// and recording ignored addresses past that depth.
func (db *DB) ensure(addr common.Address) *Account {
	if acc, ok := db.accounts[addr]; ok {
		return acc
	}

	acc := newAccount()
	db.accounts[addr] = acc

	if !db.ForkEnabled {
		return acc
	}
	if db.Tracker.Depth() > db.MaxForkDepth {
		db.IgnoredAddresses[addr] = true
		return acc
	}

	blockID, err := db.ForkBlockID()
	if err != nil {
		log.Warn("forkdb: resolving fork block failed", "err", err)
		return acc
	}

	nonce, err := db.provider.GetTransactionCount(db.ctx, addr, &blockID)
	if err != nil {
		log.Warn("forkdb: fetch nonce failed", "address", addr, "err", err)
		return acc
	}
	balance, err := db.provider.GetBalance(db.ctx, addr, &blockID)
	if err != nil {
		log.Warn("forkdb: fetch balance failed", "address", addr, "err", err)
		return acc
	}
	code, err := db.provider.GetCode(db.ctx, addr, &blockID)
	if err != nil {
		log.Warn("forkdb: fetch code failed", "address", addr, "err", err)
		return acc
	}

	log.Info("forkdb: loaded account from fork", "address", addr, "nonce", nonce, "balance", balance)

	isRemote := len(code) > 0 || balance.Sign() != 0 || nonce != 0

	acc.Info.Nonce = nonce
	bal, overflow := uint256.FromBig(balance)
	if overflow {
		bal = new(uint256.Int).SetAllOne()
	}
	acc.Info.Balance = bal
	acc.Info.CodeHash = db.insertContract(code)

	if isRemote {
		db.RemoteAddresses[addr] = make(map[common.Hash]bool)
	}
	return acc
}

// GetCodeBytes returns the bytecode for addr's current code hash.
func (db *DB) GetCodeBytes(addr common.Address) []byte {
	acc := db.ensure(addr)
	if acc.Info.CodeHash == emptyCodeHash || acc.Info.CodeHash == (common.Hash{}) {
		return nil
	}
	return db.contracts[acc.Info.CodeHash]
}

// storageSlot fetches (and caches) a storage slot, falling through to the
// fork only for addresses already known to have remote state.
func (db *DB) storageSlot(addr common.Address, key common.Hash) common.Hash {
	acc := db.ensure(addr)
	if v, ok := acc.Storage[key]; ok {
		return v
	}

	if acc.State == AccountStorageCleared || acc.State == AccountNotExisting {
		return common.Hash{}
	}

	slots, tracked := db.RemoteAddresses[addr]
	if !tracked || !db.ForkEnabled {
		return common.Hash{}
	}
	if slots[key] {
		// Known remote but absent locally means it resolved to zero
		// previously; avoid refetching.
		return common.Hash{}
	}

	blockID, err := db.ForkBlockID()
	if err != nil {
		log.Warn("forkdb: resolving fork block failed", "err", err)
		return common.Hash{}
	}
	value, err := db.provider.GetStorageAt(db.ctx, addr, key, &blockID)
	if err != nil {
		log.Warn("forkdb: fetch storage failed", "address", addr, "slot", key, "err", err)
		return common.Hash{}
	}

	log.Debug("forkdb: loaded storage from fork", "address", addr, "slot", key, "value", value)
	slots[key] = true
	acc.Storage[key] = value
	return value
}

// InsertAccountStorage sets a single slot without disturbing account info,
// used to seed state ahead of execution (spec's "insert storage" path).
func (db *DB) InsertAccountStorage(addr common.Address, key, value common.Hash) {
	acc := db.ensure(addr)
	acc.Storage[key] = value
}

// ReplaceAccountStorage wholesale-replaces an account's storage set,
// marking it authoritative so future reads never hit the fork.
func (db *DB) ReplaceAccountStorage(addr common.Address, storage map[common.Hash]common.Hash) {
	acc := db.ensure(addr)
	acc.Storage = make(map[common.Hash]common.Hash, len(storage))
	for k, v := range storage {
		acc.Storage[k] = v
	}
	acc.State = AccountStorageCleared
}

// InsertAccountInfo sets account-level info without disturbing storage.
func (db *DB) InsertAccountInfo(addr common.Address, info Info, code []byte) {
	acc := db.ensure(addr)
	if info.Balance == nil {
		info.Balance = new(uint256.Int)
	}
	if len(code) > 0 {
		info.CodeHash = db.insertContract(code)
	} else {
		info.CodeHash = emptyCodeHash
	}
	acc.Info = info
}

// Account returns a defensive copy of addr's current record, or nil if the
// address has never been touched.
func (db *DB) Account(addr common.Address) *Account {
	acc, ok := db.accounts[addr]
	if !ok {
		return nil
	}
	return acc.clone()
}

// SetAccount installs a full account record, overwriting whatever was
// there (used to restore per-account snapshots at the executor level).
func (db *DB) SetAccount(addr common.Address, acc *Account) {
	db.accounts[addr] = acc.clone()
}

// RemoveAccount deletes an address entirely, as if it never existed.
func (db *DB) RemoveAccount(addr common.Address) {
	delete(db.accounts, addr)
}

// RelocateAccount moves the current record at `from` to `to`, clearing
// `from`. This backs the bug inspector's create-address override: since
// go-ethereum's tracing hooks can only observe a CREATE's outcome and not
// rewrite it, the override is realized by letting the interpreter create
// the contract at its real address and then relocating the resulting
// account to the address the caller asked for.
func (db *DB) RelocateAccount(from, to common.Address) {
	acc, ok := db.accounts[from]
	if !ok {
		return
	}
	db.accounts[to] = acc
	delete(db.accounts, from)
}

// BlockHash resolves the hash for a historical block number. When forking
// is disabled there's no real chain to ask, so tinyevm falls back to a
// deterministic keccak256 of the big-endian block number, exactly like the
// upstream's non-forking fallback: it doesn't need to be a real hash, only
// stable and distinguishable across block numbers for opcodes like
// BLOCKHASH to behave sensibly in a standalone test fixture.
func (db *DB) BlockHash(number uint64) common.Hash {
	if hash, ok := db.blockHashes[number]; ok {
		return hash
	}

	if !db.ForkEnabled {
		hash := common.BytesToHash(crypto_Keccak256(numberToBytes(number)))
		db.blockHashes[number] = hash
		return hash
	}

	header, err := db.provider.GetBlock(db.ctx, number)
	if err != nil || header == nil {
		log.Warn("forkdb: fetch block hash failed", "number", number, "err", err)
		return common.Hash{}
	}
	db.blockHashes[number] = header.Hash
	return header.Hash
}

// Clone deep-copies the entire database, backing the executor's
// UUID-keyed global snapshot/restore pair. Unlike Snapshot/RevertToSnapshot
// (a stack meant for the lifetime of one transaction), a Clone is meant to
// outlive many transactions and be restored from repeatedly.
func (db *DB) Clone() *DB {
	out := &DB{
		accounts:            make(map[common.Address]*Account, len(db.accounts)),
		contracts:           make(map[common.Hash][]byte, len(db.contracts)),
		blockHashes:         make(map[uint64]common.Hash, len(db.blockHashes)),
		ForkEnabled:         db.ForkEnabled,
		provider:            db.provider,
		blockID:             db.blockID,
		ctx:                 db.ctx,
		RemoteAddresses:     make(map[common.Address]map[common.Hash]bool, len(db.RemoteAddresses)),
		IgnoredAddresses:    make(map[common.Address]bool, len(db.IgnoredAddresses)),
		MaxForkDepth:        db.MaxForkDepth,
		Tracker:             callctx.New(),
		accessListAddresses: make(map[common.Address]bool),
		accessListSlots:     make(map[common.Address]map[common.Hash]bool),
		selfDestructed:      make(map[common.Address]bool, len(db.selfDestructed)),
		created:             make(map[common.Address]bool, len(db.created)),
		transient:           make(map[common.Address]map[common.Hash]common.Hash),
		preimages:           make(map[common.Hash][]byte, len(db.preimages)),
		refund:              db.refund,
	}
	for addr, acc := range db.accounts {
		out.accounts[addr] = acc.clone()
	}
	for hash, code := range db.contracts {
		out.contracts[hash] = code
	}
	for number, hash := range db.blockHashes {
		out.blockHashes[number] = hash
	}
	for addr, slots := range db.RemoteAddresses {
		cp := make(map[common.Hash]bool, len(slots))
		for k, v := range slots {
			cp[k] = v
		}
		out.RemoteAddresses[addr] = cp
	}
	for addr := range db.IgnoredAddresses {
		out.IgnoredAddresses[addr] = true
	}
	for addr := range db.selfDestructed {
		out.selfDestructed[addr] = true
	}
	for addr := range db.created {
		out.created[addr] = true
	}
	for hash, preimage := range db.preimages {
		out.preimages[hash] = preimage
	}
	return out
}

// Snapshot is the exported, gob-encodable subset of a DB's state: accounts
// and the bytecode they reference. Transient per-transaction bookkeeping
// (access lists, refund counter, logs) is intentionally excluded since a
// durably persisted snapshot is meant to seed a later, separate
// transaction, not resume one mid-flight.
type Snapshot struct {
	Accounts  map[common.Address]*Account
	Contracts map[common.Hash][]byte
}

// Export captures a Snapshot of the current account/contract state,
// backing snapshotstore-based persistence of a global snapshot.
func (db *DB) Export() Snapshot {
	accounts := make(map[common.Address]*Account, len(db.accounts))
	for addr, acc := range db.accounts {
		accounts[addr] = acc.clone()
	}
	contracts := make(map[common.Hash][]byte, len(db.contracts))
	for hash, code := range db.contracts {
		cp := make([]byte, len(code))
		copy(cp, code)
		contracts[hash] = cp
	}
	return Snapshot{Accounts: accounts, Contracts: contracts}
}

// Import replaces the DB's account/contract state with snap's, leaving
// fork configuration and per-transaction bookkeeping untouched.
func (db *DB) Import(snap Snapshot) {
	db.accounts = make(map[common.Address]*Account, len(snap.Accounts))
	for addr, acc := range snap.Accounts {
		db.accounts[addr] = acc.clone()
	}
	db.contracts = make(map[common.Hash][]byte, len(snap.Contracts))
	for hash, code := range snap.Contracts {
		cp := make([]byte, len(code))
		copy(cp, code)
		db.contracts[hash] = cp
	}
}

func numberToBytes(number uint64) []byte {
	b := make([]byte, 32)
	for i := 0; i < 8; i++ {
		b[31-i] = byte(number >> (8 * i))
	}
	return b
}
