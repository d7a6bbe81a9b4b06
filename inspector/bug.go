// Package inspector implements the instrumentation layer built on top of
// go-ethereum's core/tracing.Hooks: a log inspector that records call
// traces and emitted events (C4), a bug inspector that flags suspicious
// arithmetic and branch coverage while it walks the opcode stream (C5),
// and a small inspector chain that fans tracing callbacks out to both
// (C6).
package inspector

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BugType classifies the kind of suspicious behavior a Bug records. The
// numeric values don't matter; String() is what downstream response
// rendering keys on.
type BugType int

const (
	BugIntegerOverflow BugType = iota
	BugIntegerSubUnderflow
	BugIntegerDivByZero
	BugIntegerModByZero
	BugPossibleIntegerTruncation
	BugTimestampDependency
	BugBlockNumberDependency
	BugBlockValueDependency
	BugTxOriginDependency
	BugCall
	BugRevertOrInvalid
	BugJumpi
	BugSload
	BugSstore
	BugUnclassified
)

func (b BugType) String() string {
	switch b {
	case BugIntegerOverflow:
		return "IntegerOverflow"
	case BugIntegerSubUnderflow:
		return "IntegerSubUnderflow"
	case BugIntegerDivByZero:
		return "IntegerDivByZero"
	case BugIntegerModByZero:
		return "IntegerModByZero"
	case BugPossibleIntegerTruncation:
		return "PossibleIntegerTruncation"
	case BugTimestampDependency:
		return "TimestampDependency"
	case BugBlockNumberDependency:
		return "BlockNumberDependency"
	case BugBlockValueDependency:
		return "BlockValueDependency"
	case BugTxOriginDependency:
		return "TxOriginDependency"
	case BugCall:
		return "Call"
	case BugRevertOrInvalid:
		return "RevertOrInvalid"
	case BugJumpi:
		return "Jumpi"
	case BugSload:
		return "Sload"
	case BugSstore:
		return "Sstore"
	default:
		return "Unclassified"
	}
}

// Bug is one flagged occurrence. Type-specific payload fields are only
// meaningful for the BugType they belong to: CallSize/CallDest for
// BugCall, JumpiDest for BugJumpi, SlotIndex for BugSload,
// SlotIndex/SlotValue for BugSstore.
type Bug struct {
	Type         BugType
	Opcode       byte
	Position     uint64
	AddressIndex int

	CallSize  int
	CallDest  common.Address
	JumpiDest uint64
	SlotIndex *uint256.Int
	SlotValue *uint256.Int
}

func (b Bug) String() string {
	return fmt.Sprintf("BUG %s opcode: 0x%02x position: %d", b.Type, b.Opcode, b.Position)
}

// BugData is the ordered record of bugs seen so far, oldest first.
type BugData []Bug

// MissedBranch represents one side of an if/else a JUMPI never took, and
// how numerically close execution came to taking it.
type MissedBranch struct {
	PrevPC   uint64
	PC       uint64
	Distance *uint256.Int
}

// coverageCap bounds the JUMPI coverage deque so a long-running fuzzing
// session doesn't grow this unbounded; it keeps the 256 most recent
// destinations, repeats included.
const coverageCap = 256

// Heuristics accumulates branch-coverage and sha3 pre-image data used to
// guide a fuzzer towards unexplored branches.
type Heuristics struct {
	// Skip is set to true by NewHeuristics and Reset. Nothing reads it:
	// missed branches are not recorded while Coverage is empty, which is
	// what suppresses the first JUMPI of a transaction.
	Skip bool
	// Coverage holds the last jumpi destinations, oldest evicted first
	// once coverageCap is exceeded.
	Coverage []uint64
	// Distance holds the current arithmetic distance-to-branch computed
	// by the most recent comparison opcode (LT/GT/SLT/SGT/EQ).
	Distance *uint256.Int
	// MissedBranches is deduplicated by (PrevPC, PC); a repeat update
	// only refreshes Distance if it changed.
	MissedBranches []MissedBranch
	// SHA3Mapping lets later analysis reverse-lookup what pre-image
	// produced a given keccak256 digest, e.g. to recover mapping slot
	// keys.
	SHA3Mapping map[common.Hash][]byte
	// SeenAddresses lists every address executed against during the
	// current transaction.
	SeenAddresses []common.Address
}

// NewHeuristics builds a zeroed Heuristics ready for one transaction.
func NewHeuristics() *Heuristics {
	return &Heuristics{
		Skip:           true,
		Coverage:       make([]uint64, 0, 32),
		Distance:       maxUint256(),
		MissedBranches: make([]MissedBranch, 0, 32),
		SHA3Mapping:    make(map[common.Hash][]byte, 32),
		SeenAddresses:  make([]common.Address, 0, 32),
	}
}

func maxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// Reset clears per-transaction coverage state and the seen addresses but
// keeps the sha3 mapping, which accumulates across transactions.
func (h *Heuristics) Reset() {
	h.Skip = true
	h.Coverage = make([]uint64, 0, 32)
	h.Distance = maxUint256()
	h.MissedBranches = make([]MissedBranch, 0, 32)
	h.SeenAddresses = make([]common.Address, 0, 32)
}

// RecordCoverage appends a jumpi destination, evicting the oldest entry
// once the cap is reached.
func (h *Heuristics) RecordCoverage(dest uint64) {
	h.Coverage = append(h.Coverage, dest)
	if len(h.Coverage) > coverageCap {
		h.Coverage = h.Coverage[len(h.Coverage)-coverageCap:]
	}
}

// RecordSHA3Mapping remembers the pre-image that hashed to output.
func (h *Heuristics) RecordSHA3Mapping(input []byte, output common.Hash) {
	cp := make([]byte, len(input))
	copy(cp, input)
	h.SHA3Mapping[output] = cp
}

// RecordMissedBranch records (or refreshes the distance of) the branch a
// JUMPI at the tail of Coverage did not take.
func (h *Heuristics) RecordMissedBranch(missedPC uint64) {
	if len(h.Coverage) == 0 {
		return
	}
	prevPC := h.Coverage[len(h.Coverage)-1]

	for i := range h.MissedBranches {
		mb := &h.MissedBranches[i]
		if mb.PC == missedPC && mb.PrevPC == prevPC {
			if mb.Distance.Cmp(h.Distance) != 0 {
				mb.Distance = h.Distance
			}
			return
		}
	}

	h.MissedBranches = append(h.MissedBranches, MissedBranch{
		PrevPC:   prevPC,
		PC:       missedPC,
		Distance: h.Distance,
	})
}

// RecordSeenAddress returns addr's position in SeenAddresses, the
// per-transaction address_index attached to every Bug. In target-only
// mode the configured target is pushed first so it is always index 0,
// and addr matching target short-circuits to 0 without a linear scan.
// Otherwise addr is looked up (or appended, becoming the new last
// index) in first-seen order.
func (h *Heuristics) RecordSeenAddress(addr common.Address, targetOnly bool, target common.Address) int {
	if targetOnly {
		if len(h.SeenAddresses) == 0 {
			h.SeenAddresses = append(h.SeenAddresses, target)
		}
		if addr == target {
			return 0
		}
	}
	for i, seen := range h.SeenAddresses {
		if seen == addr {
			return i
		}
	}
	h.SeenAddresses = append(h.SeenAddresses, addr)
	return len(h.SeenAddresses) - 1
}

// InstrumentConfig toggles which instrumentation the bug inspector
// performs, letting a caller trade fidelity for speed.
type InstrumentConfig struct {
	// PCsByAddress enables per-contract coverage tracking (which program
	// counters were executed, grouped by the contract address executing
	// them).
	PCsByAddress bool
	// Heuristics enables the arithmetic branch-distance tracking above.
	Heuristics bool
	// RecordBranchForTargetOnly, when true, restricts Heuristics.Coverage
	// and MissedBranches recording to TargetAddress.
	RecordBranchForTargetOnly bool
	TargetAddress             common.Address
	// RecordSHA3Mapping enables pre-image capture on KECCAK256.
	RecordSHA3Mapping bool
}

// DefaultInstrumentConfig matches the upstream defaults: everything on
// except target-only branch filtering.
func DefaultInstrumentConfig() InstrumentConfig {
	return InstrumentConfig{
		PCsByAddress:              true,
		Heuristics:                true,
		RecordBranchForTargetOnly: false,
		RecordSHA3Mapping:         true,
	}
}
