package structure

import (
	"unflutter/internal/disasm"
	"unflutter/internal/loopnest"
)

// Hand-built ARM64 encodings good enough for DecodeBranch to classify
// correctly; targets are never resolved through them (CFGView derives
// edges from disasm.BasicBlock.Succs, not from decoding branch targets).
const (
	testNop   = 0xD503201F
	testUncond = 0x14000000
)

func testBcond(cond uint32) uint32 {
	return 0x54000000 | (cond & 0xF)
}

// blockSpec describes one basic block for buildTestView: its successors and
// the shape of its terminating instruction.
type blockSpec struct {
	succs  []disasm.Succ
	cond   bool
	uncond bool
}

// buildTestView assembles a CFGView whose block addresses are simply their
// index into specs (Address(i) == basic block i's Start == its ID), the
// simplest encoding that satisfies CFGView's blockOf/addrOfBlockID lookups.
func buildTestView(specs []blockSpec, loops [][]int, nested map[int]map[int]bool, marked map[int]bool, markedAddr map[int]bool) *CFGView {
	insts := make([]disasm.Inst, len(specs))
	blocks := make([]disasm.BasicBlock, len(specs))
	for i, s := range specs {
		raw := uint32(testNop)
		switch {
		case s.cond:
			raw = testBcond(0)
		case s.uncond:
			raw = testUncond
		}
		insts[i] = disasm.Inst{Addr: uint64(i), Raw: raw, Size: 4, Text: "inst"}
		blocks[i] = disasm.BasicBlock{ID: i, Start: i, End: i + 1, Succs: s.succs, IsEntry: i == 0}
	}
	cfg := disasm.FuncCFG{Name: "test", Blocks: blocks, Insts: insts}
	res := loopnest.Result{Loops: loops, NestedLoopsIdx: nested, Marked: marked, MarkedAddr: markedAddr}
	return NewCFGView(cfg, res)
}

func addrs(vs ...int) []Address {
	out := make([]Address, len(vs))
	for i, v := range vs {
		out[i] = Address(v)
	}
	return out
}
