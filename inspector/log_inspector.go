package inspector

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/tinyevm/tinyevm/internal/callctx"
)

// CallTrace records one call/create frame: who called whom, with what,
// and how it resolved. Frames nest by Depth the same way the EVM's own
// call stack does.
type CallTrace struct {
	ID       uint64
	Depth    int
	Scheme   string
	From     common.Address
	To       common.Address
	Input    []byte
	Value    *big.Int
	IsStatic bool

	Success bool
	Output  []byte
	GasUsed uint64
}

// Log is one emitted event, kept independent of core/types.Log so the
// inspector package doesn't need a receipt/block context to populate one.
// ID is drawn from the same monotonic counter CallTrace.ID uses, so a
// consumer can reconstruct how logs and call frames interleaved.
type Log struct {
	ID      uint64
	Depth   int
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// LogInspector records the call tree and emitted logs of an execution.
// Recording can be switched off (TraceEnabled=false) to skip the
// allocation overhead when only bug data is wanted.
type LogInspector struct {
	TraceEnabled bool

	Traces []CallTrace
	Logs   []Log

	tracker    *callctx.Tracker
	frameStack []int // indices into Traces for in-flight frames, by depth
}

// NewLogInspector builds a LogInspector sharing tracker with whatever else
// is tracking call depth for this execution (the bug inspector, and
// ultimately the executor).
func NewLogInspector(tracker *callctx.Tracker, traceEnabled bool) *LogInspector {
	return &LogInspector{TraceEnabled: traceEnabled, tracker: tracker}
}

// Reset clears accumulated traces/logs ahead of a new transaction.
func (li *LogInspector) Reset() {
	li.Traces = nil
	li.Logs = nil
	li.frameStack = nil
}

func isStaticScheme(typ byte) bool {
	return vm.OpCode(typ) == vm.STATICCALL
}

// OnEnter records a new call/create frame. It is safe to call even when
// TraceEnabled is false — it simply does no allocation beyond a stack
// marker so OnExit's pop stays balanced.
func (li *LogInspector) OnEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
	if !li.TraceEnabled {
		li.frameStack = append(li.frameStack, -1)
		return
	}

	id := li.tracker.NextID()
	trace := CallTrace{
		ID:       id,
		Depth:    depth,
		Scheme:   vm.OpCode(typ).String(),
		From:     from,
		To:       to,
		Input:    append([]byte(nil), input...),
		Value:    value,
		IsStatic: isStaticScheme(typ),
	}
	li.Traces = append(li.Traces, trace)
	li.frameStack = append(li.frameStack, len(li.Traces)-1)
}

// OnExit fills in the outcome of the most recently entered frame.
func (li *LogInspector) OnExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if len(li.frameStack) == 0 {
		return
	}
	idx := li.frameStack[len(li.frameStack)-1]
	li.frameStack = li.frameStack[:len(li.frameStack)-1]

	if idx < 0 || !li.TraceEnabled {
		return
	}
	li.Traces[idx].Success = err == nil && !reverted
	li.Traces[idx].Output = append([]byte(nil), output...)
	li.Traces[idx].GasUsed = gasUsed
}

// OnLog records an emitted event, using the current CALL_DEPTH and the
// next value of the shared id counter.
func (li *LogInspector) OnLog(l *types.Log) {
	if !li.TraceEnabled {
		return
	}
	li.Logs = append(li.Logs, Log{
		ID:      li.tracker.NextID(),
		Depth:   li.tracker.Depth(),
		Address: l.Address,
		Topics:  l.Topics,
		Data:    l.Data,
	})
}
