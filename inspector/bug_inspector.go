package inspector

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/tinyevm/tinyevm/internal/callctx"
)

// Relocator is the one piece of forkdb.DB the bug inspector needs: the
// ability to move a freshly created account's state to a different
// address. It's expressed as an interface here (rather than importing
// forkdb directly) to keep inspector decoupled from the concrete database.
type Relocator interface {
	RelocateAccount(from, to common.Address)
}

// pendingCreate tracks one in-flight CREATE/CREATE2 frame that has a
// requested address override, so the relocation can happen once the frame
// exits successfully (code is only final at that point).
type pendingCreate struct {
	depth    int
	actual   common.Address
	override common.Address
}

// pendingKeccak stashes a KECCAK256 call's pre-image between the opcode's
// own OnOpcode call (where the digest isn't known yet — the interpreter
// hasn't run the hash) and the next OnOpcode call at the same depth
// (where the digest sits on top of the stack).
type pendingKeccak struct {
	depth int
	input []byte
}

// BugInspector walks the opcode stream looking for suspicious arithmetic,
// unexplored branches, risky external calls and dependence on
// environment/block data — the heuristics a coverage-guided fuzzer uses to
// steer input generation.
//
// Unlike the upstream Inspector trait, go-ethereum's tracing.Hooks give a
// single pre-execution callback per opcode (OnOpcode) rather than separate
// step/step_end hooks. Every bug in this file only needs operands that are
// already on the stack before the instruction executes — comparisons,
// SSTORE/SLOAD indices, CALL arguments, JUMPI's condition and destination
// — so one hook is enough for those. The one exception is KECCAK256's
// digest, which only exists after the instruction runs: its pre-image is
// held in pendingKeccak and the digest is read off the stack on the next
// OnOpcode at the same depth.
type BugInspector struct {
	CreateAddressOverrides map[common.Address]common.Address
	BugData                BugData
	Heuristics             *Heuristics
	// PCsByAddress maps contract address to the set of program counters
	// executed in it so far, for per-contract coverage reporting.
	PCsByAddress map[common.Address]map[uint64]bool
	Config       InstrumentConfig

	CreatedAddresses []common.Address
	ManagedAddresses map[common.Address][]common.Address

	tracker *callctx.Tracker
	db      Relocator

	lastIndexSub int
	lastIndexEq  int
	stepIndex    int

	pending       []pendingCreate
	pendingKeccak *pendingKeccak

	// managedOwner is the address the current top-level call/deploy is
	// running against, used to key ManagedAddresses the way the upstream
	// groups "addresses created by any transaction from the contract".
	managedOwner common.Address
}

// NewBugInspector builds a BugInspector. db may be nil if create-address
// overrides are never used.
func NewBugInspector(tracker *callctx.Tracker, db Relocator, cfg InstrumentConfig) *BugInspector {
	return &BugInspector{
		CreateAddressOverrides: make(map[common.Address]common.Address),
		Heuristics:             NewHeuristics(),
		PCsByAddress:           make(map[common.Address]map[uint64]bool),
		Config:                 cfg,
		ManagedAddresses:       make(map[common.Address][]common.Address),
		tracker:                tracker,
		db:                     db,
	}
}

// Reset clears per-transaction bug/coverage data, matching the upstream's
// clear_instrumentation (bug_data, created_addresses, heuristics). It
// deliberately leaves PCsByAddress alone: per-contract coverage
// accumulates for the life of the executor across every deploy/call, the
// same way SHA3Mapping survives Heuristics.Reset.
func (bi *BugInspector) Reset() {
	bi.BugData = nil
	bi.CreatedAddresses = nil
	bi.Heuristics.Reset()
	bi.lastIndexSub = 0
	bi.lastIndexEq = 0
	bi.stepIndex = 0
	bi.pendingKeccak = nil
}

// SetManagedOwner records which address the current transaction is being
// sent to/deployed as, for ManagedAddresses bookkeeping.
func (bi *BugInspector) SetManagedOwner(addr common.Address) {
	bi.managedOwner = addr
}

func (bi *BugInspector) addBug(b Bug) {
	bi.BugData = append(bi.BugData, b)
}

// possiblyIfEqual approximates the Solidity optimizer's habit of compiling
// "if (a == b)" to a SUB followed by a JUMPI, with no EQ: if we're
// within 10 opcodes of the last SUB and more than 10 past the last EQ, the
// upcoming JUMPI is probably guarding an equality branch rather than a
// less-than/greater-than one, which changes what "distance to flip it"
// means for a fuzzer.
func (bi *BugInspector) possiblyIfEqual() bool {
	return bi.stepIndex < bi.lastIndexSub+10 && bi.stepIndex > bi.lastIndexEq+10
}

func stackTop(stack []uint256.Int, fromTop int) *uint256.Int {
	idx := len(stack) - 1 - fromTop
	if idx < 0 || idx >= len(stack) {
		return new(uint256.Int)
	}
	v := stack[idx]
	return &v
}

func absDiff(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) >= 0 {
		return new(uint256.Int).Sub(a, b)
	}
	return new(uint256.Int).Sub(b, a)
}

// OnOpcode dispatches per-opcode bug detection and coverage bookkeeping.
// scope gives pre-execution stack/memory/contract context, exactly the
// state the upstream's step() captured before the instruction ran.
func (bi *BugInspector) OnOpcode(pc uint64, opcode byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	bi.stepIndex++
	op := vm.OpCode(opcode)
	addr := scope.Address()

	if bi.Config.PCsByAddress {
		pcs, ok := bi.PCsByAddress[addr]
		if !ok {
			pcs = make(map[uint64]bool)
			bi.PCsByAddress[addr] = pcs
		}
		pcs[pc] = true
	}

	stack := scope.StackData()

	// A pending KECCAK256 from the previous OnOpcode call at this depth:
	// the digest it produced is now sitting on top of the stack.
	if bi.pendingKeccak != nil {
		if bi.pendingKeccak.depth == depth {
			if digest := stackTop(stack, 0); digest != nil {
				bi.Heuristics.RecordSHA3Mapping(bi.pendingKeccak.input, common.Hash(digest.Bytes32()))
			}
		}
		bi.pendingKeccak = nil
	}

	addressIndex := bi.Heuristics.RecordSeenAddress(addr, bi.Config.RecordBranchForTargetOnly, bi.Config.TargetAddress)

	switch op {
	case vm.ADD:
		a, b := stackTop(stack, 0), stackTop(stack, 1)
		if _, overflow := new(uint256.Int).AddOverflow(a, b); overflow {
			bi.addBug(Bug{Type: BugIntegerOverflow, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
		}
	case vm.MUL:
		a, b := stackTop(stack, 0), stackTop(stack, 1)
		if _, overflow := new(uint256.Int).MulOverflow(a, b); overflow {
			bi.addBug(Bug{Type: BugIntegerOverflow, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
		}
	case vm.SUB:
		a, b := stackTop(stack, 0), stackTop(stack, 1)
		if a.Cmp(b) < 0 {
			bi.addBug(Bug{Type: BugIntegerSubUnderflow, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
		}
		bi.lastIndexSub = bi.stepIndex
	case vm.DIV, vm.SDIV:
		b := stackTop(stack, 1)
		if b.IsZero() {
			bi.addBug(Bug{Type: BugIntegerDivByZero, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
		}
	case vm.MOD, vm.SMOD:
		b := stackTop(stack, 1)
		if b.IsZero() {
			bi.addBug(Bug{Type: BugIntegerModByZero, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
		}
	case vm.ADDMOD, vm.MULMOD:
		n := stackTop(stack, 2)
		if n.IsZero() {
			bi.addBug(Bug{Type: BugIntegerModByZero, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
		}
	case vm.EXP:
		base, exponent := stackTop(stack, 0), stackTop(stack, 1)
		if expOverflow(base, exponent) {
			bi.addBug(Bug{Type: BugIntegerOverflow, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
		}
	case vm.LT, vm.SLT:
		a, b := stackTop(stack, 0), stackTop(stack, 1)
		if bi.Config.Heuristics {
			bi.Heuristics.Distance = absDiff(a, b)
		}
	case vm.GT, vm.SGT:
		a, b := stackTop(stack, 0), stackTop(stack, 1)
		if bi.Config.Heuristics {
			bi.Heuristics.Distance = absDiff(a, b)
		}
	case vm.EQ:
		a, b := stackTop(stack, 0), stackTop(stack, 1)
		if bi.Config.Heuristics {
			bi.Heuristics.Distance = absDiff(a, b)
		}
		bi.lastIndexEq = bi.stepIndex
	case vm.AND:
		size := stackTop(stack, 1)
		if isTruncationMask(size) {
			bi.addBug(Bug{Type: BugPossibleIntegerTruncation, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
		}
	case vm.JUMPI:
		bi.handleJumpi(pc, opcode, addressIndex, addr, stack)
	case vm.BLOBHASH:
		bi.addBug(Bug{Type: BugBlockValueDependency, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.COINBASE:
		bi.addBug(Bug{Type: BugBlockValueDependency, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.TIMESTAMP:
		bi.addBug(Bug{Type: BugTimestampDependency, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.NUMBER:
		bi.addBug(Bug{Type: BugBlockNumberDependency, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.DIFFICULTY:
		bi.addBug(Bug{Type: BugBlockValueDependency, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.ORIGIN:
		bi.addBug(Bug{Type: BugTxOriginDependency, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.REVERT:
		bi.addBug(Bug{Type: BugRevertOrInvalid, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.INVALID:
		bi.addBug(Bug{Type: BugRevertOrInvalid, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.SLOAD:
		index := stackTop(stack, 0)
		bi.addBug(Bug{Type: BugSload, Opcode: opcode, Position: pc, AddressIndex: addressIndex, SlotIndex: index})
	case vm.SSTORE:
		index, value := stackTop(stack, 0), stackTop(stack, 1)
		bi.addBug(Bug{Type: BugSstore, Opcode: opcode, Position: pc, AddressIndex: addressIndex, SlotIndex: index, SlotValue: value})
	case vm.CALL, vm.CALLCODE:
		argsSize := stackTop(stack, 4)
		dest := common.Address(stackTop(stack, 1).Bytes20())
		bi.addBug(Bug{Type: BugCall, Opcode: opcode, Position: pc, AddressIndex: addressIndex, CallSize: int(argsSize.Uint64()), CallDest: dest})
	case vm.DELEGATECALL, vm.STATICCALL:
		argsSize := stackTop(stack, 3)
		dest := common.Address(stackTop(stack, 1).Bytes20())
		bi.addBug(Bug{Type: BugCall, Opcode: opcode, Position: pc, AddressIndex: addressIndex, CallSize: int(argsSize.Uint64()), CallDest: dest})
	case vm.SELFDESTRUCT:
		bi.addBug(Bug{Type: BugUnclassified, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.CREATE, vm.CREATE2:
		bi.addBug(Bug{Type: BugUnclassified, Opcode: opcode, Position: pc, AddressIndex: addressIndex})
	case vm.KECCAK256:
		if bi.Config.RecordSHA3Mapping {
			bi.recordKeccakPreimage(depth, scope, stack)
		}
	}
}

// handleJumpi records missed-branch and coverage data for a conditional
// jump. A missed branch is recorded for every JUMPI, taken or not, once
// Coverage holds at least one earlier destination (nothing is recorded
// while it is empty): the untaken side is prev_pc+1 when the jump is
// taken, or dest_pc when it isn't.
func (bi *BugInspector) handleJumpi(pc uint64, opcode byte, addressIndex int, addr common.Address, stack []uint256.Int) {
	dest, cond := stackTop(stack, 0), stackTop(stack, 1)

	if !bi.Config.Heuristics {
		return
	}

	if bi.possiblyIfEqual() {
		bi.Heuristics.Distance = peepholeDistance(cond)
	}

	if bi.Config.RecordBranchForTargetOnly && addr != bi.Config.TargetAddress {
		return
	}

	destU64 := dest.Uint64()
	taken := !cond.IsZero()

	missed, takenTarget := destU64, pc+1
	if taken {
		missed, takenTarget = pc+1, destU64
	}

	bi.addBug(Bug{Type: BugJumpi, Opcode: opcode, Position: pc, AddressIndex: addressIndex, JumpiDest: takenTarget})
	bi.Heuristics.RecordMissedBranch(missed)
	bi.Heuristics.RecordCoverage(takenTarget)
}

// peepholeDistance computes the signed-distance-from-zero override used
// when a JUMPI looks like the Solidity optimizer's SUB-then-JUMPI
// shortcut for an equality check: cond is folded towards whichever of 0
// or U256::MAX it's numerically closer to.
func peepholeDistance(cond *uint256.Int) *uint256.Int {
	half := new(uint256.Int).Rsh(maxUint256(), 1)
	if cond.Cmp(half) > 0 {
		d := new(uint256.Int).Sub(maxUint256(), cond)
		return d.AddUint64(d, 1)
	}
	v := *cond
	return &v
}

// recordKeccakPreimage stashes the last 32 bytes of the hashed memory
// region (or the whole region if shorter) as a pending pre-image. The
// digest KECCAK256 produces isn't known yet — it's only in OnOpcode's
// pre-execution view of the *next* instruction's stack — so the mapping
// is completed there, not here.
func (bi *BugInspector) recordKeccakPreimage(depth int, scope tracing.OpContext, stack []uint256.Int) {
	offset, size := stackTop(stack, 0), stackTop(stack, 1)
	mem := scope.MemoryData()
	start := offset.Uint64()
	length := size.Uint64()
	if start > uint64(len(mem)) || start+length > uint64(len(mem)) {
		return
	}
	input := mem[start : start+length]
	if len(input) > 32 {
		input = input[len(input)-32:]
	}
	cp := make([]byte, len(input))
	copy(cp, input)
	bi.pendingKeccak = &pendingKeccak{depth: depth, input: cp}
}

func isTruncationMask(size *uint256.Int) bool {
	// A mask like 0xff, 0xffff, ... 0xffff...ff (2^(8k)-1) used with AND is
	// the classic "downcast via masking" pattern; flag it as a possible
	// unintended truncation.
	if size.IsZero() {
		return false
	}
	if size.BitLen()%8 != 0 {
		return false
	}
	one := uint256.NewInt(1)
	plusOne := new(uint256.Int).Add(size, one)
	// plusOne must be a power of two for size to be all-ones.
	if plusOne.IsZero() {
		return false
	}
	var t uint256.Int
	t.And(plusOne, new(uint256.Int).Sub(plusOne, one))
	return t.IsZero()
}

func expOverflow(base, exponent *uint256.Int) bool {
	if exponent.IsZero() {
		return false
	}
	result := uint256.NewInt(1)
	one := uint256.NewInt(1)
	e := new(uint256.Int).Set(exponent)
	for !e.IsZero() {
		var overflow bool
		result, overflow = result.MulOverflow(result, base)
		if overflow {
			return true
		}
		e.Sub(e, one)
	}
	return false
}

// OnEnter tracks call depth, records newly created addresses, and arms a
// pending relocation when the created address has a configured override.
func (bi *BugInspector) OnEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
	bi.tracker.Enter()

	op := vm.OpCode(typ)
	if op != vm.CREATE && op != vm.CREATE2 {
		return
	}

	bi.CreatedAddresses = append(bi.CreatedAddresses, to)
	owner := bi.managedOwner
	bi.ManagedAddresses[owner] = append(bi.ManagedAddresses[owner], to)

	if override, ok := bi.CreateAddressOverrides[to]; ok {
		bi.pending = append(bi.pending, pendingCreate{depth: depth, actual: to, override: override})
	}
}

// OnExit pops the call-depth tracker and, for a successfully completed
// CREATE with a pending override, relocates the resulting account.
func (bi *BugInspector) OnExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	bi.tracker.Exit()

	if len(bi.pending) == 0 {
		return
	}
	top := bi.pending[len(bi.pending)-1]
	if top.depth != depth {
		return
	}
	bi.pending = bi.pending[:len(bi.pending)-1]

	if err != nil || reverted {
		return
	}
	if bi.db == nil {
		log.Warn("bug inspector: create-address override configured but no relocator wired", "address", top.actual)
		return
	}
	bi.db.RelocateAccount(top.actual, top.override)

	for i, a := range bi.CreatedAddresses {
		if a == top.actual {
			bi.CreatedAddresses[i] = top.override
		}
	}
}
