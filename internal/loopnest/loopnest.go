// Package loopnest detects natural loops and their nesting in a function's
// control flow graph, and flags blocks that the structural recovery pass in
// internal/structure must treat as hard cuts rather than loop entries.
//
// It builds a gonum directed graph over the function's basic blocks and
// reuses gonum's dominator-tree implementation, the way graphism/exp's cfa
// package computes loop latches and bodies from a dominator tree.
package loopnest

import (
	"fmt"
	"log"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/flow"
	"gonum.org/v1/gonum/graph/simple"

	"unflutter/internal/disasm"
)

// dbg logs loop-detection diagnostics to standard error, with a short
// prefix, the way graphism/exp's flow and cfa packages do.
var dbg = log.New(os.Stderr, "loopnest: ", 0)

// Result is the natural-loop decomposition of one function's CFG.
type Result struct {
	// Loops lists each natural loop as its member block IDs, header first,
	// remaining members in ascending block-ID order.
	Loops [][]int

	// NestedLoopsIdx maps a loop index to the set of loop indices strictly
	// contained within it (their header lies inside this loop's body).
	NestedLoopsIdx map[int]map[int]bool

	// Marked flags loop indices that internal/structure must treat as a
	// hard structural cut rather than a normal loop entry: two loops whose
	// bodies overlap without one nesting inside the other, the signature of
	// an irreducible region the dominator tree cannot order cleanly.
	Marked map[int]bool

	// MarkedAddr flags the individual block IDs belonging to the overlap
	// that triggered a Marked loop.
	MarkedAddr map[int]bool
}

// Detect computes the natural-loop decomposition of cfg.
func Detect(cfg disasm.FuncCFG) (Result, error) {
	result := Result{
		NestedLoopsIdx: make(map[int]map[int]bool),
		Marked:         make(map[int]bool),
		MarkedAddr:     make(map[int]bool),
	}
	if len(cfg.Blocks) == 0 {
		return result, nil
	}

	g, entry, err := buildGraph(cfg)
	if err != nil {
		return result, errors.Wrap(err, "loopnest: build graph")
	}

	domTree := flow.Dominators(entry, g)

	backEdges := findBackEdges(g, cfg, domTree)
	if len(backEdges) == 0 {
		return result, nil
	}

	bodies := bodiesByHeader(g, backEdges)

	loops := make([][]int, 0, len(bodies))
	headerOf := make([]int, 0, len(bodies))
	for header, body := range bodies {
		loops = append(loops, canonicalLoop(header, body))
		headerOf = append(headerOf, header)
	}

	result.Loops = loops
	result.NestedLoopsIdx = nestingOf(loops)
	markIrreducible(loops, &result)

	dbg.Printf("%s: %d natural loop(s), %d marked", cfg.Name, len(loops), len(result.Marked))
	return result, nil
}

// buildGraph constructs a gonum directed graph with one node per basic
// block (node ID == disasm.BasicBlock.ID) and one edge per successor.
func buildGraph(cfg disasm.FuncCFG) (*simple.DirectedGraph, graph.Node, error) {
	g := simple.NewDirectedGraph()
	for _, blk := range cfg.Blocks {
		g.AddNode(simple.Node(blk.ID))
	}
	for _, blk := range cfg.Blocks {
		for _, s := range blk.Succs {
			if !g.HasEdgeFromTo(int64(blk.ID), int64(s.BlockID)) {
				g.SetEdge(g.NewEdge(simple.Node(blk.ID), simple.Node(s.BlockID)))
			}
		}
	}
	entryID := int64(-1)
	for _, blk := range cfg.Blocks {
		if blk.IsEntry {
			entryID = int64(blk.ID)
			break
		}
	}
	if entryID < 0 {
		return nil, nil, fmt.Errorf("no entry block in %q", cfg.Name)
	}
	entry := g.Node(entryID)
	if entry == nil {
		return nil, nil, fmt.Errorf("entry block %d missing from graph", entryID)
	}
	return g, entry, nil
}
