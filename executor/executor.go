// Package executor is the façade tinyevm exposes to callers: Deploy and
// Call run a transaction against a forkdb.DB through a real go-ethereum
// *vm.EVM instrumented by an inspector.Chain, and render the outcome as a
// Response (C7/C8).
package executor

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/tinyevm/tinyevm/forkdb"
	"github.com/tinyevm/tinyevm/inspector"
	"github.com/tinyevm/tinyevm/snapshotstore"
)

// Executor owns one forkdb.DB and the inspector chain instrumenting it. It
// is not safe to share across goroutines: the call-depth/id counters in
// internal/callctx are scoped to whichever single goroutine drives this
// Executor, matching spec.md's "not safe to share across threads" note.
type Executor struct {
	DB     *forkdb.DB
	Chain  *inspector.Chain
	Config Config
	Owner  common.Address

	accountSnapshots map[common.Address]*forkdb.Account
	globalSnapshots  map[string]*globalSnapshot
}

type globalSnapshot struct {
	db *forkdb.DB
}

// New builds an Executor over db with cfg defaulted per SetDefaults.
func New(cfg Config, db *forkdb.DB) *Executor {
	SetDefaults(&cfg)
	chain := inspector.NewChain(db, inspector.DefaultInstrumentConfig(), cfg.CallTraceEnabled)
	return &Executor{
		DB:               db,
		Chain:            chain,
		Config:           cfg,
		accountSnapshots: make(map[common.Address]*forkdb.Account),
		globalSnapshots:  make(map[string]*globalSnapshot),
	}
}

// SetOwner sets the address deploys/calls are sent from by default.
func (e *Executor) SetOwner(addr common.Address) {
	e.Owner = addr
}

// Configure replaces the bug inspector's instrumentation configuration.
func (e *Executor) Configure(cfg inspector.InstrumentConfig) {
	e.Chain.Bug.Config = cfg
}

// SetStorage writes a single storage slot directly, bypassing the EVM.
func (e *Executor) SetStorage(addr common.Address, key, value common.Hash) {
	e.DB.InsertAccountStorage(addr, key, value)
}

// GetStorage reads a single storage slot directly.
func (e *Executor) GetStorage(addr common.Address, key common.Hash) common.Hash {
	return e.DB.GetState(addr, key)
}

// ResetStorageByAccount wholesale-clears an account's storage.
func (e *Executor) ResetStorageByAccount(addr common.Address) {
	e.DB.ReplaceAccountStorage(addr, map[common.Hash]common.Hash{})
}

// RemoveAccount deletes addr as if it never existed.
func (e *Executor) RemoveAccount(addr common.Address) {
	e.DB.RemoveAccount(addr)
}

// TakeSnapshot stores a copy of addr's current account record, keyed by
// addr, for RestoreSnapshot/CopySnapshot to use later.
func (e *Executor) TakeSnapshot(addr common.Address) error {
	acc := e.DB.Account(addr)
	if acc == nil {
		return errors.New("account not found")
	}
	e.accountSnapshots[addr] = acc
	return nil
}

// CopySnapshot duplicates a previously taken snapshot under a second
// address, so the same fixture state can seed multiple accounts.
func (e *Executor) CopySnapshot(from, to common.Address) error {
	snap, ok := e.accountSnapshots[from]
	if !ok {
		return errors.New("no snapshot found")
	}
	e.accountSnapshots[to] = snap
	return nil
}

// RestoreSnapshot writes back a previously taken per-account snapshot.
func (e *Executor) RestoreSnapshot(addr common.Address) error {
	snap, ok := e.accountSnapshots[addr]
	if !ok {
		return errors.New("no snapshot found")
	}
	e.DB.SetAccount(addr, snap)
	return nil
}

// TakeGlobalSnapshot deep-clones the entire database and returns a UUID
// identifying it, so the caller can fork exploration from this point
// repeatedly without re-running setup transactions.
func (e *Executor) TakeGlobalSnapshot() string {
	id := uuid.New().String()
	e.globalSnapshots[id] = &globalSnapshot{db: e.DB.Clone()}
	return id
}

// RestoreGlobalSnapshot swaps the executor's database for the one
// identified by id. When keepSnapshot is false the snapshot is consumed
// (removed from the registry) after restoring.
func (e *Executor) RestoreGlobalSnapshot(id string, keepSnapshot bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("executor: invalid snapshot id: %w", err)
	}
	snap, ok := e.globalSnapshots[id]
	if !ok {
		return errors.New("no snapshot found")
	}
	if keepSnapshot {
		e.DB = snap.db.Clone()
	} else {
		e.DB = snap.db
		delete(e.globalSnapshots, id)
	}
	e.Chain.Bug.Reset()
	return nil
}

// PersistGlobalSnapshot gob-encodes the database named by id (previously
// returned by TakeGlobalSnapshot) and writes it to store, so it survives a
// process restart. This is the only path that reaches snapshotstore;
// TakeGlobalSnapshot/RestoreGlobalSnapshot never touch disk on their own.
func (e *Executor) PersistGlobalSnapshot(store *snapshotstore.Store, id string) error {
	snap, ok := e.globalSnapshots[id]
	if !ok {
		return errors.New("no snapshot found")
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap.db.Export()); err != nil {
		return fmt.Errorf("executor: encode snapshot %s: %w", id, err)
	}
	return store.Put(id, buf.Bytes())
}

// LoadGlobalSnapshot reads a previously persisted snapshot back from store
// under id, registering it in the in-memory snapshot table so
// RestoreGlobalSnapshot can switch to it.
func (e *Executor) LoadGlobalSnapshot(store *snapshotstore.Store, id string) error {
	blob, ok, err := store.Get(id)
	if err != nil {
		return fmt.Errorf("executor: load snapshot %s: %w", id, err)
	}
	if !ok {
		return errors.New("no snapshot found")
	}
	var snap forkdb.Snapshot
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&snap); err != nil {
		return fmt.Errorf("executor: decode snapshot %s: %w", id, err)
	}
	db := forkdb.New()
	db.Import(snap)
	e.globalSnapshots[id] = &globalSnapshot{db: db}
	return nil
}

// clearInstrumentation resets per-transaction bug/trace/call-depth state,
// mirroring the upstream's clear_instrumentation step run ahead of every
// deploy/call.
func (e *Executor) clearInstrumentation() {
	e.Chain.Reset()
	e.DB.ResetCreated()
	e.DB.ResetLogs()
}

func (e *Executor) buildEVM(to *common.Address) (*vm.EVM, error) {
	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     e.DB.BlockHash,
		Coinbase:    e.Config.Coinbase,
		GasLimit:    e.Config.GasLimit,
		BlockNumber: e.Config.BlockNumber,
		Time:        e.Config.Time,
		Difficulty:  e.Config.Difficulty,
		BaseFee:     e.Config.BaseFee,
		Random:      e.Config.Random,
	}
	txCtx := vm.TxContext{
		Origin:   e.Owner,
		GasPrice: e.Config.GasPrice,
	}

	// The fork DB reads the chain's tracker so MaxForkDepth sees the
	// depth the inspectors maintain.
	e.DB.Tracker = e.Chain.Tracker

	evmConfig := e.Config.EVMConfig
	evmConfig.Tracer = e.Chain.Hooks()

	evm := vm.NewEVM(blockCtx, txCtx, e.DB, e.Config.ChainConfig, evmConfig)

	rules := e.Config.ChainConfig.Rules(e.Config.BlockNumber, e.Config.Random != nil, e.Config.Time)
	e.DB.Prepare(rules, e.Owner, e.Config.Coinbase, to, vm.ActivePrecompiles(rules), nil)
	return evm, nil
}

// Deploy runs a contract-creation transaction. When forceAddress is
// non-nil, the bug inspector relocates the freshly created contract's
// state there once creation succeeds (see inspector.BugInspector's
// create-address-override documentation).
func (e *Executor) Deploy(code []byte, value *uint256.Int, gasLimit uint64, forceAddress *common.Address) (*Response, error) {
	e.clearInstrumentation()

	nonce := e.DB.GetNonce(e.Owner)
	predicted := crypto.CreateAddress(e.Owner, nonce)
	e.Chain.Bug.SetManagedOwner(predicted)
	if forceAddress != nil {
		e.Chain.Bug.CreateAddressOverrides[predicted] = *forceAddress
	}

	if value == nil {
		value = new(uint256.Int)
	}
	if gasLimit == 0 {
		gasLimit = TxGasLimit
	}

	evm, err := e.buildEVM(nil)
	if err != nil {
		return nil, err
	}

	sender := vm.AccountRef(e.Owner)
	_, createdAddr, leftOverGas, err := evm.Create(sender, code, gasLimit, value)

	resultAddr := createdAddr
	if forceAddress != nil {
		if _, overridden := e.Chain.Bug.CreateAddressOverrides[predicted]; overridden && err == nil {
			resultAddr = *forceAddress
		}
	}
	if err != nil && errors.Is(err, vm.ErrContractAddressCollision) {
		return nil, fmt.Errorf("executor: deploy: %w", err)
	}

	return e.render(resultAddr, nil, gasLimit, leftOverGas, err, value), nil
}

// Call runs a message call against an existing contract.
func (e *Executor) Call(to common.Address, input []byte, value *uint256.Int, gasLimit uint64) (*Response, error) {
	e.clearInstrumentation()
	e.Chain.Bug.SetManagedOwner(to)

	if value == nil {
		value = new(uint256.Int)
	}
	if gasLimit == 0 {
		gasLimit = TxGasLimit
	}

	evm, err := e.buildEVM(&to)
	if err != nil {
		return nil, err
	}

	sender := vm.AccountRef(e.Owner)
	ret, leftOverGas, err := evm.Call(sender, to, input, gasLimit, value)

	return e.render(to, ret, gasLimit, leftOverGas, err, value), nil
}

func (e *Executor) render(addr common.Address, ret []byte, gasLimit, leftOverGas uint64, execErr error, value *uint256.Int) *Response {
	gasUsed := uint64(0)
	if gasLimit >= leftOverGas {
		gasUsed = gasLimit - leftOverGas
	}
	if execErr == nil {
		if refund := e.DB.GetRefund(); refund < gasUsed {
			gasUsed -= refund
		}
	}

	resp := &Response{
		Address:       addr,
		GasUsage:      gasUsed,
		Bugs:          renderBugs(e.Chain.Bug.BugData),
		MissedBranch:  e.Chain.Bug.Heuristics.MissedBranches,
		Coverage:      e.Chain.Bug.Heuristics.Coverage,
		SeenAddresses: e.Chain.Bug.Heuristics.SeenAddresses,
		SeenPCs:       renderSeenPCs(e.Chain.Bug.PCsByAddress),
	}
	if n := len(e.DB.IgnoredAddresses); n > 0 {
		resp.IgnoredAddresses = make([]common.Address, 0, n)
		for a := range e.DB.IgnoredAddresses {
			resp.IgnoredAddresses = append(resp.IgnoredAddresses, a)
		}
	}
	// inspector.LogInspector.OnLog (not forkdb.DB's raw AddLog trail) is
	// the source of truth here: it's the one that carries id/depth, and
	// spec'd to be a no-op when tracing is disabled.
	resp.Logs = e.Chain.Log.Logs
	resp.Traces = e.Chain.Log.Traces

	switch {
	case isRevert(execErr):
		resp.Success = false
		resp.ExitReason = "Revert"
		resp.Data = ret
	case execErr != nil:
		resp.Success = false
		resp.ExitReason = fmt.Sprintf("EVM InfallibleError: %s", execErr)
		resp.Data = ret
	default:
		resp.Success = true
		resp.ExitReason = "Success"
		if len(ret) == 0 {
			resp.Data = addr.Bytes()
		} else {
			resp.Data = ret
		}
	}
	return resp
}

func isRevert(err error) bool {
	return errors.Is(err, vm.ErrExecutionReverted)
}

// BundleCall is one leg of a CallBundle replay.
type BundleCall struct {
	To       common.Address
	Input    []byte
	Value    *uint256.Int
	GasLimit uint64
}

// CallBundle replays a sequence of calls against the same accumulating
// database, stopping at the first failing leg. Unlike the upstream's
// SimulateBundle, tinyevm's forkdb.DB already carries state forward
// between calls on its own, so there's no two-pass access-list warm-up or
// state.StateDB commit/reopen dance needed: each leg just runs against
// whatever the previous leg left behind.
func (e *Executor) CallBundle(calls []BundleCall) ([]*Response, error) {
	out := make([]*Response, 0, len(calls))
	for i, c := range calls {
		resp, err := e.Call(c.To, c.Input, c.Value, c.GasLimit)
		if err != nil {
			return out, fmt.Errorf("executor: bundle leg %d: %w", i, err)
		}
		out = append(out, resp)
		if !resp.Success {
			break
		}
	}
	return out, nil
}
