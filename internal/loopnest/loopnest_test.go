package loopnest

import (
	"testing"

	"unflutter/internal/disasm"
)

func block(id int, isEntry bool, succs ...int) disasm.BasicBlock {
	s := make([]disasm.Succ, len(succs))
	for i, t := range succs {
		s[i] = disasm.Succ{BlockID: t}
	}
	return disasm.BasicBlock{ID: id, Start: id, End: id + 1, Succs: s, IsEntry: isEntry}
}

func TestDetectNoLoopsOnStraightLine(t *testing.T) {
	cfg := disasm.FuncCFG{Name: "straight", Blocks: []disasm.BasicBlock{
		block(0, true, 1),
		block(1, false, 2),
		block(2, false),
	}}

	res, err := Detect(cfg)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Loops) != 0 {
		t.Fatalf("Loops = %v, want none", res.Loops)
	}
}

func TestDetectSelfLoop(t *testing.T) {
	cfg := disasm.FuncCFG{Name: "selfloop", Blocks: []disasm.BasicBlock{
		block(0, true, 1),
		block(1, false, 1, 2),
		block(2, false),
	}}

	res, err := Detect(cfg)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Loops) != 1 {
		t.Fatalf("Loops = %v, want exactly one", res.Loops)
	}
	if got := res.Loops[0]; len(got) != 1 || got[0] != 1 {
		t.Fatalf("Loops[0] = %v, want [1]", got)
	}
}

func TestDetectNestedLoops(t *testing.T) {
	// A(0) outer header -> B(1) inner header -> C(2) inner body -> back to
	// B (inner back edge) or on to D(3) outer tail -> back to A (outer back
	// edge) or on to E(4), the outer exit.
	cfg := disasm.FuncCFG{Name: "nested", Blocks: []disasm.BasicBlock{
		block(0, true, 1),
		block(1, false, 2),
		block(2, false, 1, 3),
		block(3, false, 0, 4),
		block(4, false),
	}}

	res, err := Detect(cfg)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(res.Loops) != 2 {
		t.Fatalf("Loops = %v, want 2", res.Loops)
	}

	innerIdx, outerIdx := -1, -1
	for i, l := range res.Loops {
		switch len(l) {
		case 2:
			innerIdx = i
		case 4:
			outerIdx = i
		}
	}
	if innerIdx == -1 || outerIdx == -1 {
		t.Fatalf("Loops = %v, want one 2-member and one 4-member loop", res.Loops)
	}
	if res.Loops[innerIdx][0] != 1 {
		t.Fatalf("inner loop header = %d, want 1", res.Loops[innerIdx][0])
	}
	if res.Loops[outerIdx][0] != 0 {
		t.Fatalf("outer loop header = %d, want 0", res.Loops[outerIdx][0])
	}
	if !res.NestedLoopsIdx[outerIdx][innerIdx] {
		t.Fatalf("NestedLoopsIdx[outer] = %v, want it to contain inner (%d)", res.NestedLoopsIdx[outerIdx], innerIdx)
	}
	if len(res.Marked) != 0 {
		t.Fatalf("Marked = %v, want none (proper nesting isn't irreducible)", res.Marked)
	}
}

func TestDetectNoEntryBlockErrors(t *testing.T) {
	cfg := disasm.FuncCFG{Name: "noentry", Blocks: []disasm.BasicBlock{
		block(0, false, 1),
		block(1, false),
	}}
	if _, err := Detect(cfg); err == nil {
		t.Fatalf("Detect: want error for a CFG with no entry block")
	}
}
