package inspector

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tinyevm/tinyevm/internal/callctx"
)

func newTestTracker() *callctx.Tracker {
	return callctx.New()
}

// fakeOpContext is a minimal tracing.OpContext double: just enough state to
// drive BugInspector.OnOpcode directly in a test, without a real EVM
// interpreter behind it.
type fakeOpContext struct {
	addr   common.Address
	caller common.Address
	stack  []uint256.Int
	memory []byte
}

func (f *fakeOpContext) MemoryData() []byte       { return f.memory }
func (f *fakeOpContext) StackData() []uint256.Int { return f.stack }
func (f *fakeOpContext) Caller() common.Address   { return f.caller }
func (f *fakeOpContext) Address() common.Address  { return f.addr }
func (f *fakeOpContext) CallValue() *uint256.Int  { return uint256.NewInt(0) }
func (f *fakeOpContext) CallInput() []byte        { return nil }
func (f *fakeOpContext) ContractCode() []byte     { return nil }
