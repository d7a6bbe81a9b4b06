package inspector

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLogInspectorTracesCallFrame(t *testing.T) {
	li := NewLogInspector(newTestTracker(), true)

	from := common.HexToAddress("0x1")
	to := common.HexToAddress("0x2")
	li.OnEnter(1, 0xf1 /* CALL */, from, to, []byte{0x01}, 21000, big.NewInt(0))
	li.OnExit(1, []byte{0x02}, 5000, nil, false)

	if len(li.Traces) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(li.Traces))
	}
	trace := li.Traces[0]
	if trace.From != from || trace.To != to {
		t.Fatalf("unexpected from/to: %v -> %v", trace.From, trace.To)
	}
	if !trace.Success {
		t.Fatal("expected successful trace")
	}
	if trace.GasUsed != 5000 {
		t.Fatalf("got gas used %d, want 5000", trace.GasUsed)
	}
}

func TestLogInspectorDisabledSkipsAllocation(t *testing.T) {
	li := NewLogInspector(newTestTracker(), false)
	li.OnEnter(1, 0xf1, common.Address{}, common.Address{}, nil, 0, big.NewInt(0))
	li.OnExit(1, nil, 0, nil, false)

	if len(li.Traces) != 0 {
		t.Fatalf("expected no traces recorded when disabled, got %d", len(li.Traces))
	}
}
