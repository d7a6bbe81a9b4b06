package inspector

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

func onOp(bi *BugInspector, pc uint64, op vm.OpCode, depth int, addr common.Address, stack []uint256.Int, mem []byte) {
	scope := &fakeOpContext{addr: addr, stack: stack, memory: mem}
	bi.OnOpcode(pc, byte(op), 0, 0, scope, nil, depth, nil)
}

// TestBugInspectorOverflowAndDivByZero covers the "overflow" and
// "div-by-zero" concrete scenarios: an ADD whose operands overflow and a
// DIV whose divisor is zero each flag their respective bug.
func TestBugInspectorOverflowAndDivByZero(t *testing.T) {
	bi := NewBugInspector(newTestTracker(), nil, DefaultInstrumentConfig())
	addr := common.HexToAddress("0xc0ffee")

	onOp(bi, 1, vm.ADD, 0, addr, []uint256.Int{*uint256.NewInt(1), *maxUint256()}, nil)
	onOp(bi, 2, vm.DIV, 0, addr, []uint256.Int{*uint256.NewInt(0), *uint256.NewInt(10)}, nil)

	if len(bi.BugData) != 2 {
		t.Fatalf("expected 2 bugs, got %d: %v", len(bi.BugData), bi.BugData)
	}
	if bi.BugData[0].Type != BugIntegerOverflow || bi.BugData[0].Position != 1 {
		t.Fatalf("expected overflow bug at pc 1, got %+v", bi.BugData[0])
	}
	if bi.BugData[1].Type != BugIntegerDivByZero || bi.BugData[1].Position != 2 {
		t.Fatalf("expected div-by-zero bug at pc 2, got %+v", bi.BugData[1])
	}
}

// TestBugInspectorTxOriginSelfdestructCreate covers the "tx-origin
// dependency" and "self-destruct + create" concrete scenarios.
func TestBugInspectorTxOriginSelfdestructCreate(t *testing.T) {
	bi := NewBugInspector(newTestTracker(), nil, DefaultInstrumentConfig())
	addr := common.HexToAddress("0xdead")

	onOp(bi, 130, vm.ORIGIN, 0, addr, nil, nil)
	onOp(bi, 140, vm.SELFDESTRUCT, 0, addr, nil, nil)
	onOp(bi, 150, vm.CREATE, 0, addr, []uint256.Int{*uint256.NewInt(0), *uint256.NewInt(0), *uint256.NewInt(0)}, nil)

	if len(bi.BugData) != 3 {
		t.Fatalf("expected 3 bugs, got %d: %v", len(bi.BugData), bi.BugData)
	}
	if bi.BugData[0].Type != BugTxOriginDependency || bi.BugData[0].Position != 130 {
		t.Fatalf("expected TxOriginDependency bug at pc 130, got %+v", bi.BugData[0])
	}
	if bi.BugData[1].Type != BugUnclassified || bi.BugData[1].Opcode != byte(vm.SELFDESTRUCT) {
		t.Fatalf("expected Unclassified/SELFDESTRUCT bug, got %+v", bi.BugData[1])
	}
	if bi.BugData[2].Type != BugUnclassified || bi.BugData[2].Opcode != byte(vm.CREATE) {
		t.Fatalf("expected Unclassified/CREATE bug, got %+v", bi.BugData[2])
	}
}

// TestBugInspectorAddressIndexing covers (a): AddressIndex on every Bug is
// the RecordSeenAddress index of the executing contract, first-seen order,
// not the call depth.
func TestBugInspectorAddressIndexing(t *testing.T) {
	bi := NewBugInspector(newTestTracker(), nil, DefaultInstrumentConfig())
	addrA := common.HexToAddress("0xaaaa")
	addrB := common.HexToAddress("0xbbbb")

	overflowStack := []uint256.Int{*uint256.NewInt(1), *maxUint256()}
	onOp(bi, 1, vm.ADD, 5, addrA, overflowStack, nil) // depth 5, but addr A is seen first -> index 0
	onOp(bi, 2, vm.ADD, 0, addrB, overflowStack, nil) // depth 0, addr B seen second -> index 1
	onOp(bi, 3, vm.ADD, 9, addrA, overflowStack, nil) // depth 9, addr A already seen -> index 0

	if len(bi.BugData) != 3 {
		t.Fatalf("expected 3 bugs, got %d", len(bi.BugData))
	}
	if bi.BugData[0].AddressIndex != 0 {
		t.Fatalf("expected address index 0 for first-seen addr, got %d", bi.BugData[0].AddressIndex)
	}
	if bi.BugData[1].AddressIndex != 1 {
		t.Fatalf("expected address index 1 for second-seen addr, got %d", bi.BugData[1].AddressIndex)
	}
	if bi.BugData[2].AddressIndex != 0 {
		t.Fatalf("expected address index 0 for repeat of first addr, got %d", bi.BugData[2].AddressIndex)
	}
}

// TestBugInspectorAddressIndexingTargetOnly exercises the target-only mode
// of RecordSeenAddress: the configured target is always index 0, even
// before it has actually executed.
func TestBugInspectorAddressIndexingTargetOnly(t *testing.T) {
	cfg := DefaultInstrumentConfig()
	cfg.RecordBranchForTargetOnly = true
	cfg.TargetAddress = common.HexToAddress("0xf00d")
	bi := NewBugInspector(newTestTracker(), nil, cfg)

	other := common.HexToAddress("0xbeef")
	overflowStack := []uint256.Int{*uint256.NewInt(1), *maxUint256()}

	onOp(bi, 1, vm.ADD, 0, other, overflowStack, nil)
	if bi.BugData[0].AddressIndex != 1 {
		t.Fatalf("expected non-target addr to land at index 1 (target pre-seeded at 0), got %d", bi.BugData[0].AddressIndex)
	}

	onOp(bi, 2, vm.ADD, 0, cfg.TargetAddress, overflowStack, nil)
	if bi.BugData[1].AddressIndex != 0 {
		t.Fatalf("expected target addr to short-circuit to index 0, got %d", bi.BugData[1].AddressIndex)
	}
}

// TestBugInspectorKeccakPreimageMapping covers (c): the pre-image captured
// on KECCAK256 is completed into SHA3Mapping on the next OnOpcode call at
// the same depth, once the digest is visible on top of the stack.
func TestBugInspectorKeccakPreimageMapping(t *testing.T) {
	bi := NewBugInspector(newTestTracker(), nil, DefaultInstrumentConfig())
	addr := common.HexToAddress("0x1234")

	preimage := make([]byte, 32)
	for i := range preimage {
		preimage[i] = byte(0xab)
	}

	// KECCAK256 stack: offset=0, size=32 (size is pushed first, offset is
	// on top, matching stackTop(0)=offset, stackTop(1)=size).
	keccakStack := []uint256.Int{*uint256.NewInt(32), *uint256.NewInt(0)}
	onOp(bi, 20, vm.KECCAK256, 0, addr, keccakStack, preimage)

	if bi.pendingKeccak == nil {
		t.Fatal("expected a pending keccak preimage after KECCAK256")
	}

	digest := uint256.NewInt(0xdeadbeef)
	digestStack := []uint256.Int{*digest}
	onOp(bi, 21, vm.STOP, 0, addr, digestStack, nil)

	if bi.pendingKeccak != nil {
		t.Fatal("expected pending keccak to be cleared after the next OnOpcode")
	}

	got, ok := bi.Heuristics.SHA3Mapping[common.Hash(digest.Bytes32())]
	if !ok {
		t.Fatal("expected SHA3Mapping to record an entry for the digest")
	}
	if string(got) != string(preimage) {
		t.Fatalf("expected recorded preimage %x, got %x", preimage, got)
	}
}

// TestBugInspectorKeccakPreimageMappingDifferentDepthNotCompleted checks
// that a pending keccak only completes when the next OnOpcode call is at
// the same depth the KECCAK256 itself ran at (e.g. the hashing call
// returned into its caller rather than continuing in place).
func TestBugInspectorKeccakPreimageMappingDifferentDepthNotCompleted(t *testing.T) {
	bi := NewBugInspector(newTestTracker(), nil, DefaultInstrumentConfig())
	addr := common.HexToAddress("0x1234")

	onOp(bi, 20, vm.KECCAK256, 1, addr, []uint256.Int{*uint256.NewInt(32), *uint256.NewInt(0)}, make([]byte, 32))
	onOp(bi, 5, vm.STOP, 0, addr, []uint256.Int{*uint256.NewInt(0xdeadbeef)}, nil)

	if len(bi.Heuristics.SHA3Mapping) != 0 {
		t.Fatalf("expected no SHA3Mapping entry when depth changed, got %d", len(bi.Heuristics.SHA3Mapping))
	}
}

// jumpiStack builds the [dest, cond] pair a JUMPI pops, dest on top.
func jumpiStack(dest, cond uint64) []uint256.Int {
	return []uint256.Int{*uint256.NewInt(cond), *uint256.NewInt(dest)}
}

// TestBugInspectorJumpiRecordsMissedBranchBothDirections covers (b): a
// missed branch is recorded whether the JUMPI was taken or not, not just
// on the untaken path.
func TestBugInspectorJumpiRecordsMissedBranchBothDirections(t *testing.T) {
	bi := NewBugInspector(newTestTracker(), nil, DefaultInstrumentConfig())
	addr := common.HexToAddress("0x5555")

	// Seeds Coverage with takenTarget=101 (untaken: cond=0, dest=110).
	onOp(bi, 100, vm.JUMPI, 0, addr, jumpiStack(110, 0), nil)
	// Taken branch: prevPC=101 (from Coverage), missed=pc+1=201.
	onOp(bi, 200, vm.JUMPI, 0, addr, jumpiStack(210, 5), nil)
	// Untaken branch: prevPC=210 (from Coverage), missed=dest=310.
	onOp(bi, 300, vm.JUMPI, 0, addr, jumpiStack(310, 0), nil)

	mb := bi.Heuristics.MissedBranches
	if len(mb) != 2 {
		t.Fatalf("expected 2 missed branches (one per direction), got %d: %+v", len(mb), mb)
	}
	if mb[0].PrevPC != 101 || mb[0].PC != 201 {
		t.Fatalf("expected taken-branch missed entry (101,201), got (%d,%d)", mb[0].PrevPC, mb[0].PC)
	}
	if mb[1].PrevPC != 210 || mb[1].PC != 310 {
		t.Fatalf("expected untaken-branch missed entry (210,310), got (%d,%d)", mb[1].PrevPC, mb[1].PC)
	}
}

// TestBugInspectorJumpiPeepholeOverride covers (b)'s possiblyIfEqual
// wiring: shortly after a SUB, with no recent EQ, a JUMPI's distance is
// overridden to the signed-magnitude-from-zero reading of its raw
// condition value, matching the "peephole if-equal" concrete scenario.
func TestBugInspectorJumpiPeepholeOverride(t *testing.T) {
	bi := NewBugInspector(newTestTracker(), nil, DefaultInstrumentConfig())
	addr := common.HexToAddress("0x6666")

	filler := []uint256.Int{*uint256.NewInt(1), *uint256.NewInt(1)}
	for pc := uint64(1); pc <= 12; pc++ {
		onOp(bi, pc, vm.ADD, 0, addr, filler, nil)
	}
	onOp(bi, 13, vm.SUB, 0, addr, []uint256.Int{*uint256.NewInt(1), *uint256.NewInt(2)}, nil)

	cond := uint64(0x2007)
	onOp(bi, 14, vm.JUMPI, 0, addr, jumpiStack(500, cond), nil)

	want := uint256.NewInt(cond)
	if bi.Heuristics.Distance.Cmp(want) != 0 {
		t.Fatalf("expected peephole-overridden distance %v, got %v", want, bi.Heuristics.Distance)
	}
}

// TestBugInspectorSignedBranchDistance covers the "signed branch distance"
// concrete scenario: an SLT comparison sets Heuristics.Distance to the
// absolute gap between the compared values, and the following JUMPI's
// missed branch carries that distance forward.
func TestBugInspectorSignedBranchDistance(t *testing.T) {
	bi := NewBugInspector(newTestTracker(), nil, DefaultInstrumentConfig())
	addr := common.HexToAddress("0x7777")

	// Seed Coverage so the JUMPI below actually records a missed branch.
	onOp(bi, 50, vm.JUMPI, 0, addr, jumpiStack(60, 0), nil)

	a, b := uint256.NewInt(10050), uint256.NewInt(100)
	onOp(bi, 154, vm.SLT, 0, addr, []uint256.Int{*b, *a}, nil)

	onOp(bi, 155, vm.JUMPI, 0, addr, jumpiStack(195, 0), nil)

	wantDistance := new(uint256.Int).Sub(a, b) // 9950
	mb := bi.Heuristics.MissedBranches
	last := mb[len(mb)-1]
	if last.PC != 195 {
		t.Fatalf("expected missed branch at dest 195, got %d", last.PC)
	}
	if last.Distance.Cmp(wantDistance) != 0 {
		t.Fatalf("expected distance %v, got %v", wantDistance, last.Distance)
	}
}

// TestBugInspectorJumpiTargetOnlyFiltersCoverage checks that with
// RecordBranchForTargetOnly set, JUMPIs against other addresses don't
// pollute Coverage/MissedBranches, matching "signed branch distance"-style
// scenarios that filter to one contract under test.
func TestBugInspectorJumpiTargetOnlyFiltersCoverage(t *testing.T) {
	cfg := DefaultInstrumentConfig()
	cfg.RecordBranchForTargetOnly = true
	cfg.TargetAddress = common.HexToAddress("0xf00d")
	bi := NewBugInspector(newTestTracker(), nil, cfg)

	other := common.HexToAddress("0xbeef")
	onOp(bi, 1, vm.JUMPI, 0, other, jumpiStack(10, 0), nil)

	if len(bi.Heuristics.Coverage) != 0 {
		t.Fatalf("expected no coverage recorded for non-target address, got %d", len(bi.Heuristics.Coverage))
	}

	onOp(bi, 2, vm.JUMPI, 0, cfg.TargetAddress, jumpiStack(20, 0), nil)
	if len(bi.Heuristics.Coverage) != 1 {
		t.Fatalf("expected coverage recorded for target address, got %d", len(bi.Heuristics.Coverage))
	}
}
