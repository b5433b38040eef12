package structure

import (
	"testing"

	"unflutter/internal/disasm"
)

func TestHeadLastCommonSinglePath(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1}}},
		{succs: []disasm.Succ{{BlockID: 2}}},
		{succs: nil},
	}, nil, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(0, 1, 2), -1)

	until, isLoop, isIfelse, forceStop, _ := p.HeadLastCommon(nil)
	if until != Address(2) || isLoop || isIfelse || forceStop {
		t.Fatalf("got until=%v isLoop=%v isIfelse=%v forceStop=%v, want until=2 all false", until, isLoop, isIfelse, forceStop)
	}
}

func TestHeadLastCommonDivergesWithoutCondition(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1}}},
		{succs: []disasm.Succ{{BlockID: 3}}},
		{succs: []disasm.Succ{{BlockID: 3}}},
		{succs: nil},
	}, nil, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(0, 1, 3), -1)
	p.Add(addrs(0, 2, 3), -1)

	until, isLoop, isIfelse, forceStop, _ := p.HeadLastCommon(nil)
	if until != Address(0) || isLoop || isIfelse || forceStop {
		t.Fatalf("got until=%v isLoop=%v isIfelse=%v forceStop=%v, want until=0 all false", until, isLoop, isIfelse, forceStop)
	}
}

func TestHeadLastCommonDetectsIfelseAtTopLevel(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, cond: true},
		{succs: []disasm.Succ{{BlockID: 3}}},
		{succs: []disasm.Succ{{BlockID: 3}}},
		{succs: nil},
	}, nil, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(0, 1, 3), -1)
	p.Add(addrs(0, 2, 3), -1)

	until, isLoop, isIfelse, forceStop, _ := p.HeadLastCommon(nil)
	if until != NoAddress || isLoop || !isIfelse || forceStop {
		t.Fatalf("got until=%v isLoop=%v isIfelse=%v forceStop=%v, want until=NoAddress isIfelse=true", until, isLoop, isIfelse, forceStop)
	}
}

func TestHeadLastCommonDetectsLoopHeader(t *testing.T) {
	// H(0) is a conditional loop header; X(1) is its only body block looping
	// back to H. One path runs straight through H into the loop, the other
	// exits directly.
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, cond: true},
		{succs: []disasm.Succ{{BlockID: 0}}},
		{succs: nil},
	}, [][]int{{0, 1}}, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(0, 1), 0)
	p.Add(addrs(0, 2), -1)

	until, isLoop, isIfelse, forceStop, _ := p.HeadLastCommon(nil)
	if until != NoAddress || !isLoop || isIfelse || forceStop {
		t.Fatalf("got until=%v isLoop=%v isIfelse=%v forceStop=%v, want isLoop=true", until, isLoop, isIfelse, forceStop)
	}
}

func TestFirstCommonSimpleJoin(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 2}}},
		{succs: []disasm.Succ{{BlockID: 2}}},
		{succs: nil},
	}, nil, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(0, 2, 4), -1)
	p.Add(addrs(1, 2, 5), -1)

	got := p.FirstCommon(nil, Address(1))
	if got != Address(2) {
		t.Fatalf("FirstCommon() = %v, want 2", got)
	}
}

func TestFirstCommonCollapsesWhenDivergentPathLoops(t *testing.T) {
	view := buildTestView([]blockSpec{{succs: nil}, {succs: nil}}, [][]int{{5}}, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(5), 0)
	p.Add(addrs(7), -1)

	got := p.FirstCommon(nil, Address(7))
	if got != Address(7) {
		t.Fatalf("FirstCommon() = %v, want elseAddr 7 (every divergent path is looping)", got)
	}
}

func TestSplitPartitionsByBranch(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1, Cond: "F"}, {BlockID: 2, Cond: "T"}}, cond: true},
		{succs: nil},
		{succs: nil},
	}, nil, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(1), -1)
	p.Add(addrs(2), -1)

	split, elseAddr := p.Split(Address(0), NoAddress)
	if elseAddr != Address(2) {
		t.Fatalf("elseAddr = %v, want 2", elseAddr)
	}
	if split[BranchNext].Len() != 1 || !split[BranchNext].Contains(Address(1)) {
		t.Fatalf("split[BranchNext] should contain the fallthrough path")
	}
	if split[BranchNextJump].Len() != 1 || !split[BranchNextJump].Contains(Address(2)) {
		t.Fatalf("split[BranchNextJump] should contain the taken path")
	}
}

func TestExtractLoopPathsOrdersWithJumpGroupFirst(t *testing.T) {
	view := buildTestView([]blockSpec{
		{succs: []disasm.Succ{{BlockID: 1}}},          // 0: H, loop header
		{succs: nil},                                  // 1: loop body tail, stays in loop
		{succs: nil, uncond: true},                    // 2: endloop exit, ends in unconditional jump
		{succs: []disasm.Succ{{BlockID: 4}}},           // 3: endloop exit, falls through to 4
		{succs: nil},                                  // 4: fallthrough target
	}, [][]int{{0, 1}}, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(0, 1), -1)
	p.Add(addrs(0, 2), -1)
	p.Add(addrs(0, 3), -1)

	loopPaths, endloop := p.ExtractLoopPaths([]int{0})

	if loopPaths.Len() != 1 || loopPaths.First() != Address(0) {
		t.Fatalf("loopPaths = %+v, want the single path kept inside the loop", loopPaths.paths)
	}
	if len(endloop) != 2 {
		t.Fatalf("endloop groups = %d, want 2", len(endloop))
	}
	if endloop[0].First() != Address(2) {
		t.Fatalf("endloop[0] head = %v, want 2 (unconditional-jump group first)", endloop[0].First())
	}
	if endloop[1].First() != Address(3) {
		t.Fatalf("endloop[1] head = %v, want 3", endloop[1].First())
	}
}

func TestAreAllLoopingTrueWhenEveryDivergentPathLoops(t *testing.T) {
	view := buildTestView([]blockSpec{{succs: nil}, {succs: nil}}, [][]int{{9}}, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(9), 0)
	p.Add(addrs(3), -1)

	if !p.AreAllLooping(Address(3), false, nil) {
		t.Fatalf("AreAllLooping(3, checkEqual=false) = false, want true")
	}
}

func TestAreAllLoopingFalseWhenAPathIsNeitherMatchingNorLooping(t *testing.T) {
	view := buildTestView([]blockSpec{{succs: nil}, {succs: nil}}, nil, nil, nil, nil)

	p := NewPaths(view)
	p.Add(addrs(3), -1)
	p.Add(addrs(4), -1)

	if p.AreAllLooping(Address(3), false, nil) {
		t.Fatalf("AreAllLooping(3, checkEqual=false) = true, want false")
	}
}
