package structure

import (
	"unflutter/internal/disasm"
	"unflutter/internal/loopnest"
)

// BranchNext and BranchNextJump are the canonical indices into a two-way
// link_out slice: index 0 is the fall-through successor, index 1 is the
// taken branch of a conditional jump (or the sole target of an
// unconditional jump encoded as a one-element slice).
const (
	BranchNext     = 0
	BranchNextJump = 1
)

// CFGView is the read-only surface the core reads: basic blocks, successor
// edges, natural loops, loop nesting, and the marked addresses/loops that
// force a structural cut. It is built once per function and never mutated.
type CFGView struct {
	cfg     disasm.FuncCFG
	blockOf map[Address]int // Address (== block.Start) -> index into cfg.Blocks

	linkOut map[Address][]Address

	loops          [][]Address
	nestedLoopsIdx map[int]map[int]bool
	marked         map[int]bool
	markedAddr     map[Address]bool
}

// NewCFGView adapts a disassembled function's CFG and its natural-loop
// decomposition into the read-only view the structurer consumes.
func NewCFGView(cfg disasm.FuncCFG, loops loopnest.Result) *CFGView {
	v := &CFGView{
		cfg:            cfg,
		blockOf:        make(map[Address]int, len(cfg.Blocks)),
		linkOut:        make(map[Address][]Address, len(cfg.Blocks)),
		nestedLoopsIdx: loops.NestedLoopsIdx,
		marked:         loops.Marked,
		markedAddr:     make(map[Address]bool, len(loops.MarkedAddr)),
	}

	blockIdxByID := make(map[int]int, len(cfg.Blocks))
	for i, blk := range cfg.Blocks {
		blockIdxByID[blk.ID] = i
		v.blockOf[Address(blk.Start)] = i
	}

	for id := range loops.MarkedAddr {
		if idx, ok := blockIdxByID[id]; ok {
			v.markedAddr[Address(cfg.Blocks[idx].Start)] = true
		}
	}

	addrOfBlockID := func(id int) Address {
		return Address(cfg.Blocks[blockIdxByID[id]].Start)
	}

	for _, blk := range cfg.Blocks {
		addr := Address(blk.Start)
		v.linkOut[addr] = linkOutFor(blk, addrOfBlockID)
	}

	v.loops = make([][]Address, len(loops.Loops))
	for i, l := range loops.Loops {
		addrs := make([]Address, len(l))
		for k, id := range l {
			addrs[k] = addrOfBlockID(id)
		}
		v.loops[i] = addrs
	}

	return v
}

// linkOutFor derives the ordered successor list for one block: index 0 is
// always the fall-through successor (Cond == "F" or the sole successor of a
// non-branching/unconditional block), index 1 is the taken branch (Cond ==
// "T") of a two-way conditional.
func linkOutFor(blk disasm.BasicBlock, addrOf func(int) Address) []Address {
	switch len(blk.Succs) {
	case 0:
		return nil
	case 1:
		return []Address{addrOf(blk.Succs[0].BlockID)}
	default:
		out := make([]Address, 2)
		for _, s := range blk.Succs {
			if s.Cond == "T" {
				out[BranchNextJump] = addrOf(s.BlockID)
			} else {
				out[BranchNext] = addrOf(s.BlockID)
			}
		}
		return out
	}
}

// FirstInst returns the first (and, for branch-classification purposes,
// only relevant) instruction of the block at addr.
func (v *CFGView) FirstInst(addr Address) disasm.Inst {
	blk := v.cfg.Blocks[v.blockOf[addr]]
	return v.cfg.Insts[blk.Start]
}

// BlockInsts returns every instruction belonging to the block at addr, for
// the printer to rehydrate.
func (v *CFGView) BlockInsts(addr Address) []disasm.Inst {
	blk := v.cfg.Blocks[v.blockOf[addr]]
	end := blk.End
	if end > len(v.cfg.Insts) {
		end = len(v.cfg.Insts)
	}
	return v.cfg.Insts[blk.Start:end]
}

// LinkOut returns addr's successors: 0, 1, or 2 entries per BranchNext /
// BranchNextJump above.
func (v *CFGView) LinkOut(addr Address) []Address {
	return v.linkOut[addr]
}

// Loops returns every natural loop, header at index 0, remaining members in
// ascending address order.
func (v *CFGView) Loops() [][]Address {
	return v.loops
}

// NestedLoopsIdx returns the loop indices strictly contained within loop i.
func (v *CFGView) NestedLoopsIdx(i int) map[int]bool {
	return v.nestedLoopsIdx[i]
}

// MarkedLoop reports whether loop index i is flagged as an irreducible cut.
func (v *CFGView) MarkedLoop(i int) bool {
	return v.marked[i]
}

// MarkedAddr reports whether addr is flagged as requiring a hard structural
// cut.
func (v *CFGView) MarkedAddr(addr Address) bool {
	return v.markedAddr[addr]
}

// LoopContains reports whether addr belongs to any loop named in
// currLoopIdx. An empty currLoopIdx vacuously contains everything — there is
// no enclosing loop to escape.
func (v *CFGView) LoopContains(currLoopIdx []int, addr Address) bool {
	if len(currLoopIdx) == 0 {
		return true
	}
	for _, i := range currLoopIdx {
		for _, a := range v.loops[i] {
			if a == addr {
				return true
			}
		}
	}
	return false
}

// SeedPaths enumerates every root-to-leaf address sequence through the CFG,
// starting at the entry block. A path stops extending the moment it would
// revisit an address already on it (a loop re-entry); the truncated path is
// annotated with the loop index whose header it hit, the "looping[i] = L"
// contract Paths relies on. This is the core's external seed-path input,
// produced here rather than by a caller since no such enumerator exists
// anywhere else in the CFG/loop pipeline.
func SeedPaths(v *CFGView) *Paths {
	paths := NewPaths(v)
	if len(v.cfg.Blocks) == 0 {
		return paths
	}
	headerLoop := make(map[Address]int, len(v.loops))
	for i, l := range v.loops {
		headerLoop[l[0]] = i
	}

	entry := Address(v.cfg.Blocks[0].Start)
	for _, blk := range v.cfg.Blocks {
		if blk.IsEntry {
			entry = Address(blk.Start)
			break
		}
	}

	var walk func(addr Address, path []Address, onPath map[Address]bool)
	walk = func(addr Address, path []Address, onPath map[Address]bool) {
		if onPath[addr] {
			loopIdx := -1
			if idx, ok := headerLoop[addr]; ok {
				loopIdx = idx
			}
			paths.Add(append([]Address(nil), path...), loopIdx)
			return
		}
		path = append(path, addr)
		onPath = cloneMarked(onPath, addr)
		succs := v.LinkOut(addr)
		if len(succs) == 0 {
			paths.Add(append([]Address(nil), path...), -1)
			return
		}
		for _, s := range succs {
			walk(s, path, onPath)
		}
	}
	walk(entry, nil, make(map[Address]bool))

	return paths
}

func cloneMarked(m map[Address]bool, addr Address) map[Address]bool {
	out := make(map[Address]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[addr] = true
	return out
}
