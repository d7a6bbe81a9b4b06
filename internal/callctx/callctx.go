// Package callctx tracks the per-execution counters that the interpreter
// and inspectors need while walking a call tree: the current call depth and
// a monotonically increasing id handed out to every call/create frame.
//
// The upstream instrumentation this package is modeled on keeps these
// counters thread-local, since a single OS thread drives one transaction at
// a time. Go has no equivalent of a thread-local, and an Executor is
// documented as unsafe to share across goroutines, so the counters are
// simply fields owned by whichever single goroutine constructs and drives
// the Tracker. That is the idiomatic Go shape of the same guarantee: one
// Tracker per in-flight execution, never shared.
package callctx

// Tracker owns the call-depth and id counters for one execution.
type Tracker struct {
	depth  int
	nextID uint64
}

// New returns a Tracker with depth 0 and the first id counter at 0.
func New() *Tracker {
	return &Tracker{}
}

// Depth returns the current call depth: 0 outside any frame, 1 inside the
// outermost frame (the transaction itself).
func (t *Tracker) Depth() int {
	return t.depth
}

// Enter increments the depth when a new call/create frame is entered and
// returns the new depth.
func (t *Tracker) Enter() int {
	t.depth++
	return t.depth
}

// Exit decrements the depth when a call/create frame returns.
func (t *Tracker) Exit() {
	if t.depth > 0 {
		t.depth--
	}
}

// NextID hands out the next monotonic id and advances the counter.
func (t *Tracker) NextID() uint64 {
	id := t.nextID
	t.nextID++
	return id
}

// Reset zeroes both counters. Called between transactions that reuse the
// same Executor, mirroring the upstream behavior of resetting depth before
// every deploy/call.
func (t *Tracker) Reset() {
	t.depth = 0
	t.nextID = 0
}
