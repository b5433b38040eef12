package loopnest

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/flow"

	"unflutter/internal/disasm"
)

// backEdge is an edge (Latch -> Header) where Header dominates Latch.
type backEdge struct {
	Latch  int
	Header int
}

// findBackEdges walks every edge of g and keeps those whose target
// dominates their source — the standard back-edge test, the one the
// dominators/loop detection reference in this retrieval pack applies via
// domTree.Dominates(toID, nodeID).
func findBackEdges(g graph.Directed, cfg disasm.FuncCFG, domTree flow.DominatorTree) []backEdge {
	var edges []backEdge
	for _, blk := range cfg.Blocks {
		for _, s := range blk.Succs {
			if dominates(domTree, int64(s.BlockID), int64(blk.ID)) {
				edges = append(edges, backEdge{Latch: blk.ID, Header: s.BlockID})
			}
		}
	}
	return edges
}

// dominates reports whether node v dominates node u, by walking u's
// immediate-dominator chain until it reaches v (true) or the root without
// passing through v (false). A node trivially dominates itself.
func dominates(domTree flow.DominatorTree, v, u int64) bool {
	if v == u {
		return true
	}
	seen := make(map[int64]bool)
	cur := u
	for {
		idom := domTree.DominatorOf(cur)
		if idom == nil {
			return false
		}
		if idom.ID() == v {
			return true
		}
		if idom.ID() == cur || seen[idom.ID()] {
			// Reached the root (which dominates itself) without finding v.
			return false
		}
		seen[cur] = true
		cur = idom.ID()
	}
}

// bodiesByHeader groups back edges by header and computes each loop's body
// via reverse BFS from every latch, seeded with the header already in the
// body — the same shape as the reverse-BFS loop-body computation in this
// pack's dominator/loop-detection reference file, without its tracing.
func bodiesByHeader(g graph.Directed, edges []backEdge) map[int]map[int]bool {
	byHeader := make(map[int][]int)
	for _, e := range edges {
		byHeader[e.Header] = append(byHeader[e.Header], e.Latch)
	}

	bodies := make(map[int]map[int]bool, len(byHeader))
	for header, latches := range byHeader {
		body := map[int]bool{header: true}
		var worklist []int
		for _, latch := range latches {
			if !body[latch] {
				body[latch] = true
				worklist = append(worklist, latch)
			}
		}
		for len(worklist) > 0 {
			n := worklist[len(worklist)-1]
			worklist = worklist[:len(worklist)-1]
			preds := g.To(int64(n))
			for preds.Next() {
				pid := int(preds.Node().ID())
				if !body[pid] {
					body[pid] = true
					worklist = append(worklist, pid)
				}
			}
		}
		bodies[header] = body
	}
	return bodies
}

// canonicalLoop renders a loop body as an ordered address list with the
// header forced to index 0 and the remaining members in ascending block-ID
// order — the order Paths.get_loops_idx's ordering check expects a path to
// visit a loop's addresses in.
func canonicalLoop(header int, body map[int]bool) []int {
	rest := make([]int, 0, len(body)-1)
	for id := range body {
		if id != header {
			rest = append(rest, id)
		}
	}
	sort.Ints(rest)
	return append([]int{header}, rest...)
}

// nestingOf computes, for each loop index, the set of loop indices whose
// header lies within it (and which are not the loop itself).
func nestingOf(loops [][]int) map[int]map[int]bool {
	nested := make(map[int]map[int]bool, len(loops))
	bodies := make([]map[int]bool, len(loops))
	for i, l := range loops {
		bodies[i] = make(map[int]bool, len(l))
		for _, a := range l {
			bodies[i][a] = true
		}
	}
	for i := range loops {
		set := make(map[int]bool)
		for j, l := range loops {
			if i == j {
				continue
			}
			header := l[0]
			if bodies[i][header] {
				set[j] = true
			}
		}
		nested[i] = set
	}
	return nested
}

// markIrreducible flags loops whose bodies overlap without one nesting
// inside the other — two loop headers that can each reach the other's body
// without a clean dominance relationship, the signature of an irreducible
// region. This is a heuristic cut, not a theorem: it catches the common
// case but isn't a general proof of irreducibility, the same caveat that
// applies to how internal/structure consumes marked addresses.
func markIrreducible(loops [][]int, result *Result) {
	bodies := make([]map[int]bool, len(loops))
	for i, l := range loops {
		bodies[i] = make(map[int]bool, len(l))
		for _, a := range l {
			bodies[i][a] = true
		}
	}
	for i := range loops {
		for j := i + 1; j < len(loops); j++ {
			if result.NestedLoopsIdx[i][j] || result.NestedLoopsIdx[j][i] {
				continue // proper nesting, not irreducible
			}
			overlap := intersect(bodies[i], bodies[j])
			if len(overlap) == 0 {
				continue
			}
			result.Marked[i] = true
			result.Marked[j] = true
			for a := range overlap {
				result.MarkedAddr[a] = true
			}
		}
	}
}

func intersect(a, b map[int]bool) map[int]bool {
	out := make(map[int]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}
