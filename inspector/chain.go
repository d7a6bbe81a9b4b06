package inspector

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"

	"github.com/tinyevm/tinyevm/internal/callctx"
)

// Chain fans out the go-ethereum tracing callbacks tinyevm cares about to
// both the log inspector and the bug inspector, then exposes the result as
// a *tracing.Hooks a *vm.EVM can be configured with directly. This is the
// Go-idiomatic realization of the upstream's multi-inspector composition:
// rather than a generic list of arbitrary inspectors, tinyevm only ever
// runs these two, so Chain wires them together explicitly instead of
// through a slice of an internal interface — there's nothing a third
// inspector would need to plug into that these two don't already cover.
type Chain struct {
	Log     *LogInspector
	Bug     *BugInspector
	Tracker *callctx.Tracker
}

// NewChain builds a Chain with fresh Log/Bug inspectors sharing one
// call-depth tracker.
func NewChain(db Relocator, cfg InstrumentConfig, traceEnabled bool) *Chain {
	tracker := callctx.New()
	return &Chain{
		Log:     NewLogInspector(tracker, traceEnabled),
		Bug:     NewBugInspector(tracker, db, cfg),
		Tracker: tracker,
	}
}

// Reset clears per-transaction state on both inspectors and the shared
// tracker, called by the executor before every deploy/call.
func (c *Chain) Reset() {
	c.Tracker.Reset()
	c.Log.Reset()
	c.Bug.Reset()
}

// Hooks returns a tracing.Hooks wired to this chain's callbacks, ready to
// assign to vm.Config.Tracer.
func (c *Chain) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnOpcode: c.Bug.OnOpcode,
		OnEnter:  c.onEnter,
		OnExit:   c.onExit,
		OnLog:    c.Log.OnLog,
	}
}

func (c *Chain) onEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
	c.Log.OnEnter(depth, typ, from, to, input, gas, value)
	c.Bug.OnEnter(depth, typ, from, to, input, gas, value)
}

func (c *Chain) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	c.Log.OnExit(depth, output, gasUsed, err, reverted)
	c.Bug.OnExit(depth, output, gasUsed, err, reverted)
}
