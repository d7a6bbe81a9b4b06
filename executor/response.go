package executor

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tinyevm/tinyevm/inspector"
)

// RenderBugType renders a Bug as the string-keyed map downstream analyzers
// consume: always a "type" key naming the BugType variant, plus whatever
// variant-specific hex fields that type carries.
func RenderBugType(b inspector.Bug) map[string]string {
	out := map[string]string{"type": b.Type.String()}
	switch b.Type {
	case inspector.BugJumpi:
		out["dest"] = fmt.Sprintf("0x%x", b.JumpiDest)
	case inspector.BugSload:
		if b.SlotIndex != nil {
			out["index"] = fmt.Sprintf("0x%x", b.SlotIndex.ToBig())
		}
	case inspector.BugSstore:
		if b.SlotIndex != nil {
			out["index"] = fmt.Sprintf("0x%x", b.SlotIndex.ToBig())
		}
		if b.SlotValue != nil {
			out["value"] = fmt.Sprintf("0x%x", b.SlotValue.ToBig())
		}
	case inspector.BugCall:
		out["size"] = fmt.Sprintf("0x%x", b.CallSize)
		out["dest"] = b.CallDest.Hex()
	}
	return out
}

// Response is the rendered result of a deploy/call, matching the
// upstream's success/exit_reason/gas_usage/data/bug/trace contract.
type Response struct {
	Success    bool
	ExitReason string
	GasUsage   uint64
	Data       []byte

	Address common.Address

	Bugs          []map[string]string
	MissedBranch  []inspector.MissedBranch
	Coverage      []uint64
	SeenAddresses []common.Address

	// SeenPCs is the per-contract program-counter coverage accumulated
	// over the life of the executor (inspector.BugInspector.PCsByAddress
	// is never reset between transactions).
	SeenPCs map[common.Address][]uint64
	// IgnoredAddresses lists addresses whose fetch was skipped because
	// the call depth exceeded the fork DB's MaxForkDepth.
	IgnoredAddresses []common.Address

	Logs   []inspector.Log
	Traces []inspector.CallTrace
}

func (r Response) String() string {
	return fmt.Sprintf("Response{success: %v, exit_reason: %q, gas_usage: %d}", r.Success, r.ExitReason, r.GasUsage)
}

// renderBugs maps every Bug in data to its wire form.
func renderBugs(data inspector.BugData) []map[string]string {
	out := make([]map[string]string, 0, len(data))
	for _, b := range data {
		out = append(out, RenderBugType(b))
	}
	return out
}

// renderSeenPCs flattens the per-address PC sets into sorted slices for a
// stable wire representation.
func renderSeenPCs(pcsByAddress map[common.Address]map[uint64]bool) map[common.Address][]uint64 {
	if len(pcsByAddress) == 0 {
		return nil
	}
	out := make(map[common.Address][]uint64, len(pcsByAddress))
	for addr, pcs := range pcsByAddress {
		list := make([]uint64, 0, len(pcs))
		for pc := range pcs {
			list = append(list, pc)
		}
		sort.Slice(list, func(i, j int) bool { return list[i] < list[j] })
		out[addr] = list
	}
	return out
}
