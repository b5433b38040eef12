package structure

import (
	"testing"

	"unflutter/internal/disasm"
)

func TestGenerateASTStraightLine(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1}}},
		{succs: []disasm.Succ{{BlockID: 2}}},
		{succs: nil},
	}, nil, nil, nil, nil)

	ast, err := GenerateAST(view, SeedPaths(view), DefaultConfig())
	if err != nil {
		t.Fatalf("GenerateAST: %v", err)
	}
	if len(ast.Children) != 1 {
		t.Fatalf("Children = %d, want 1 block", len(ast.Children))
	}
	blk, ok := ast.Children[0].(*BlockNode)
	if !ok {
		t.Fatalf("Children[0] is %T, want *BlockNode", ast.Children[0])
	}
	want := addrs(0, 1, 2)
	if len(blk.Addrs) != len(want) {
		t.Fatalf("Addrs = %v, want %v", blk.Addrs, want)
	}
	for i, a := range want {
		if blk.Addrs[i] != a {
			t.Fatalf("Addrs = %v, want %v", blk.Addrs, want)
		}
	}
}

func TestGenerateASTIfElse(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, cond: true}, // A
		{succs: []disasm.Succ{{BlockID: 3}}},                                                 // B
		{succs: []disasm.Succ{{BlockID: 3}}},                                                 // C
		{succs: nil},                                                                         // D
	}, nil, nil, nil, nil)

	ast, err := GenerateAST(view, SeedPaths(view), DefaultConfig())
	if err != nil {
		t.Fatalf("GenerateAST: %v", err)
	}
	if len(ast.Children) != 3 {
		t.Fatalf("Children = %d, want 3 (A, ifelse, D)", len(ast.Children))
	}

	head, ok := ast.Children[0].(*BlockNode)
	if !ok || len(head.Addrs) != 1 || head.Addrs[0] != Address(0) {
		t.Fatalf("Children[0] = %+v, want Block[0]", ast.Children[0])
	}

	ifelse, ok := ast.Children[1].(*IfelseNode)
	if !ok {
		t.Fatalf("Children[1] is %T, want *IfelseNode", ast.Children[1])
	}
	thenBlk, ok := firstBlock(ifelse.Then)
	if !ok || len(thenBlk.Addrs) != 1 || thenBlk.Addrs[0] != Address(2) {
		t.Fatalf("Then = %+v, want Block[2] (the taken branch, C)", ifelse.Then)
	}
	elseBlk, ok := firstBlock(ifelse.Else)
	if !ok || len(elseBlk.Addrs) != 1 || elseBlk.Addrs[0] != Address(1) {
		t.Fatalf("Else = %+v, want Block[1] (the fall-through branch, B)", ifelse.Else)
	}

	tail, ok := ast.Children[2].(*BlockNode)
	if !ok || len(tail.Addrs) != 1 || tail.Addrs[0] != Address(3) {
		t.Fatalf("Children[2] = %+v, want Block[3]", ast.Children[2])
	}
}

func firstBlock(b *BranchNode) (*BlockNode, bool) {
	if len(b.Children) == 0 {
		return nil, false
	}
	blk, ok := b.Children[0].(*BlockNode)
	return blk, ok
}

func TestBuildIfGotoInvertsWhenTakenStaysInLoop(t *testing.T) {
	// H(0) tests a condition; its taken branch (index 1, BranchNextJump)
	// loops back into the body (1), its fall-through (index 0, BranchNext)
	// exits to E(2).
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 2, Cond: "F"}, {BlockID: 1, Cond: "T"}}, cond: true},
		{succs: nil},
		{succs: nil},
	}, [][]int{{0, 1}}, nil, nil, nil)

	inst := view.FirstInst(Address(0))
	node, err := buildIfGoto(view, []int{0}, Address(0), inst)
	if err != nil {
		t.Fatalf("buildIfGoto: %v", err)
	}
	if node.Target != Address(2) {
		t.Fatalf("Target = %v, want 2 (the exit)", node.Target)
	}
	orig := condOf(inst)
	if node.CondID != InvertCond(orig) {
		t.Fatalf("CondID = %v, want inverted %v", node.CondID, InvertCond(orig))
	}
}

func TestBuildIfGotoKeepsConditionWhenTakenExits(t *testing.T) {
	// H(0) tests a condition whose taken branch (index 1) exits directly to
	// E(2); its fall-through (index 0) stays in the loop body (1).
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, cond: true},
		{succs: nil},
		{succs: nil},
	}, [][]int{{0, 1}}, nil, nil, nil)

	inst := view.FirstInst(Address(0))
	node, err := buildIfGoto(view, []int{0}, Address(0), inst)
	if err != nil {
		t.Fatalf("buildIfGoto: %v", err)
	}
	if node.Target != Address(2) {
		t.Fatalf("Target = %v, want 2", node.Target)
	}
	if node.CondID != condOf(inst) {
		t.Fatalf("CondID = %v, want original (no inversion)", node.CondID)
	}
}

func TestBuildIfGotoRejectsBothSuccessorsInLoop(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, cond: true},
		{succs: nil},
		{succs: nil},
	}, [][]int{{0, 1, 2}}, nil, nil, nil)

	inst := view.FirstInst(Address(0))
	if _, err := buildIfGoto(view, []int{0}, Address(0), inst); err == nil {
		t.Fatalf("buildIfGoto: want InvariantError, got nil")
	}
}

func TestPathsIsInfiniteTrueWithNoExitingConditional(t *testing.T) {
	view := buildTestView([]blockSpec{{succs: nil}}, nil, nil, nil, nil)
	p := NewPaths(view)
	p.Add(addrs(0), -1)
	if !pathsIsInfinite(view, p) {
		t.Fatalf("pathsIsInfinite = false, want true (no conditional to exit)")
	}
}

func TestPathsIsInfiniteFalseWhenConditionalEscapesBody(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, cond: true},
		{succs: nil},
		{succs: nil},
	}, nil, nil, nil, nil)
	p := NewPaths(view)
	p.Add(addrs(0, 1), -1)
	if pathsIsInfinite(view, p) {
		t.Fatalf("pathsIsInfinite = true, want false (addr 2 escapes loop_paths)")
	}
}

func TestBuildIfelseEmitsAndIfWhenIfBranchResumesAtLastElse(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, cond: true}, // A
		{succs: nil},                                                                        // B (if_addr)
		{succs: nil},                                                                        // C (else_addr)
	}, nil, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(0, 1), -1)
	p.Add(addrs(0, 2, 3), -1) // shares no address with the if-side after A, so endpoint is NoAddress

	node, resume, err := buildIfelse(view, DefaultConfig(), p, nil, Address(1) /* lastElse == ifAddr */, false, NoAddress)
	if err != nil {
		t.Fatalf("buildIfelse: %v", err)
	}
	andIf, ok := node.(*AndIfNode)
	if !ok {
		t.Fatalf("node = %T, want *AndIfNode", node)
	}
	if resume != Address(2) {
		t.Fatalf("resume = %v, want 2 (else_addr)", resume)
	}
	if andIf.CondID != condOf(view.FirstInst(Address(0))) {
		t.Fatalf("CondID inverted, want original")
	}
}

func TestBuildIfelseEmitsInvertedAndIfWhenElseBranchMatchesLastElse(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, cond: true}, // A
		{succs: nil},                                                                        // B (if_addr)
		{succs: nil},                                                                        // C (else_addr)
	}, nil, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(0, 1), -1)
	p.Add(addrs(0, 2, 3), -1)

	node, resume, err := buildIfelse(view, DefaultConfig(), p, nil, Address(2) /* lastElse == else_addr */, false, NoAddress)
	if err != nil {
		t.Fatalf("buildIfelse: %v", err)
	}
	andIf, ok := node.(*AndIfNode)
	if !ok {
		t.Fatalf("node = %T, want *AndIfNode", node)
	}
	if resume != Address(1) {
		t.Fatalf("resume = %v, want 1 (if_addr, the fall-through of A)", resume)
	}
	orig := condOf(view.FirstInst(Address(0)))
	if andIf.CondID != InvertCond(orig) {
		t.Fatalf("CondID = %v, want inverted %v", andIf.CondID, InvertCond(orig))
	}
}
