package inspector

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestIsTruncationMask(t *testing.T) {
	cases := []struct {
		val  uint64
		want bool
	}{
		{0xff, true},
		{0xffff, true},
		{0x00, false},
		{0x1234, false},
	}
	for _, c := range cases {
		got := isTruncationMask(uint256.NewInt(c.val))
		if got != c.want {
			t.Errorf("isTruncationMask(%#x) = %v, want %v", c.val, got, c.want)
		}
	}
}

func TestExpOverflow(t *testing.T) {
	base := uint256.NewInt(2)
	small := uint256.NewInt(4)
	if expOverflow(base, small) {
		t.Fatal("2^4 should not overflow")
	}

	big := uint256.NewInt(2)
	huge := uint256.NewInt(300)
	if !expOverflow(base, huge) && !expOverflow(big, huge) {
		t.Fatal("2^300 should overflow a 256-bit integer")
	}
}

func TestHeuristicsRecordMissedBranchDedup(t *testing.T) {
	h := NewHeuristics()
	h.RecordCoverage(10)
	h.Distance = uint256.NewInt(5)
	h.RecordMissedBranch(20)
	h.Distance = uint256.NewInt(3)
	h.RecordMissedBranch(20)

	if len(h.MissedBranches) != 1 {
		t.Fatalf("expected dedup to one missed branch, got %d", len(h.MissedBranches))
	}
	if h.MissedBranches[0].Distance.Cmp(uint256.NewInt(3)) != 0 {
		t.Fatalf("expected distance refreshed to 3, got %v", h.MissedBranches[0].Distance)
	}
}

func TestHeuristicsCoverageCap(t *testing.T) {
	h := NewHeuristics()
	for i := uint64(0); i < coverageCap+10; i++ {
		h.RecordCoverage(i)
	}
	if len(h.Coverage) != coverageCap {
		t.Fatalf("expected coverage capped at %d, got %d", coverageCap, len(h.Coverage))
	}
	if h.Coverage[0] != 10 {
		t.Fatalf("expected oldest entries evicted, first is %d", h.Coverage[0])
	}
}

type fakeRelocator struct {
	from, to common.Address
	called   bool
}

func (f *fakeRelocator) RelocateAccount(from, to common.Address) {
	f.called = true
	f.from, f.to = from, to
}

func TestBugInspectorCreateOverrideRelocates(t *testing.T) {
	reloc := &fakeRelocator{}
	bi := NewBugInspector(newTestTracker(), reloc, DefaultInstrumentConfig())

	actual := common.HexToAddress("0xaaaa")
	override := common.HexToAddress("0xbbbb")
	bi.CreateAddressOverrides[actual] = override

	bi.OnEnter(1, byte(0xf0) /* CREATE */, common.Address{}, actual, nil, 0, nil)
	bi.OnExit(1, nil, 0, nil, false)

	if !reloc.called {
		t.Fatal("expected relocation to be triggered")
	}
	if reloc.from != actual || reloc.to != override {
		t.Fatalf("relocated %v -> %v, want %v -> %v", reloc.from, reloc.to, actual, override)
	}
}
