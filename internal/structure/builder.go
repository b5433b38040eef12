package structure

import (
	"strconv"

	"github.com/pkg/errors"

	"unflutter/internal/disasm"
)

// PostPass runs over a completed AST, in place, after build_branch returns.
// None are registered by default: search_local_vars, fuse_cmp_if, and
// search_canary_plt have no equivalent in this ARM64/Dart domain (no stack
// canaries, no variable recovery, no x86 cmp fusion), and colourization is
// a presentation concern the printer owns directly. The seam exists so a
// future pass has somewhere to attach without touching build_branch.
type PostPass func(*BranchNode)

// Config threads the few knobs build_ifelse needs, rather than reaching for
// a package-level global — the core otherwise carries no mutable state.
type Config struct {
	// EmitAndIf collapses a nested if whose branches match the enclosing
	// else into "and if" form (see build_ifelse). Default true.
	EmitAndIf bool

	// PostPasses run, in order, over the finished AST before GenerateAST
	// returns.
	PostPasses []PostPass
}

// DefaultConfig returns the Config build_ifelse and GenerateAST use absent
// an explicit override.
func DefaultConfig() Config {
	return Config{EmitAndIf: true}
}

// GenerateAST is the top-level entry point: it runs the recursive-descent
// structurer over seed to completion and returns the goto-minimized AST.
func GenerateAST(view *CFGView, seed *Paths, cfg Config) (*BranchNode, error) {
	ast, err := buildBranch(view, cfg, seed, nil, NoAddress, NoAddress)
	if err != nil {
		return nil, err
	}
	for _, pass := range cfg.PostPasses {
		pass(ast)
	}
	return ast, nil
}

// buildIfGoto renders a conditional jump that head_last_common skipped over
// (a loop-header test, not an if/else) as an IfGoto, inverting the
// condition when the taken (jump) target lies inside the loop so the
// jump always points to the address that actually leaves it.
func buildIfGoto(view *CFGView, currLoopIdx []int, addr Address, inst disasm.Inst) (*IfGotoNode, error) {
	nxt := view.LinkOut(addr)
	var c1, c2 bool
	if len(nxt) > BranchNext {
		c1 = view.LoopContains(currLoopIdx, nxt[BranchNext])
	}
	if len(nxt) > BranchNextJump {
		c2 = view.LoopContains(currLoopIdx, nxt[BranchNextJump])
	}
	if c1 && c2 {
		return nil, errors.WithStack(&InvariantError{Addr: addr, Msg: "both successors of a conditional remain inside the current loop"})
	}

	condID := condOf(inst)
	target := NoAddress
	if len(nxt) > BranchNextJump {
		target = nxt[BranchNextJump]
	}
	if c2 {
		condID = InvertCond(condID)
		if len(nxt) > BranchNext {
			target = nxt[BranchNext]
		}
	}
	return &IfGotoNode{Cond: inst, CondID: condID, Target: target}, nil
}

// buildBranch is get_ast_branch: it consumes paths, folding straight-line
// blocks (and loop-header tests rendered as IfGoto) directly into the
// branch, and recursing into buildLoop/buildIfelse at every split, until
// paths runs dry or a forced stop is reached.
func buildBranch(view *CFGView, cfg Config, paths *Paths, currLoopIdx []int, lastElse, endif Address) (*BranchNode, error) {
	ast := &BranchNode{}
	ifPrinted := false

	for {
		if paths.RmEmptyPaths() {
			break
		}

		until, isLoop, isIfelse, forceStop, forceStopAddr := paths.HeadLastCommon(currLoopIdx)

		last := NoAddress
		for last != until {
			addr := paths.First()
			inst := view.FirstInst(addr)

			if IsCondJump(inst.Raw, inst.Addr) {
				node, err := buildIfGoto(view, currLoopIdx, addr, inst)
				if err != nil {
					return nil, err
				}
				ast.Add(node)
			} else {
				addBlock(ast, addr)
			}

			last = paths.Pop()
		}

		if paths.RmEmptyPaths() {
			break
		}

		if forceStop {
			addr := paths.First()
			inst := view.FirstInst(addr)
			addBlock(ast, addr)
			if !IsUncondJump(inst.Raw, inst.Addr) {
				nxt := view.LinkOut(addr)
				if len(nxt) > BranchNext {
					ast.Add(&JmpNode{Target: nxt[BranchNext]})
				}
			}
			_ = forceStopAddr
			break
		}

		var endpoint Address
		if isLoop {
			loopNode, ep, err := buildLoop(view, cfg, paths, currLoopIdx, lastElse, endif)
			if err != nil {
				return nil, err
			}
			ast.Add(loopNode)
			endpoint = ep
		} else if isIfelse {
			addBlock(ast, paths.First())
			node, ep, err := buildIfelse(view, cfg, paths, currLoopIdx, lastElse, ifPrinted, endif)
			if err != nil {
				return nil, err
			}
			if _, ok := node.(*IfelseNode); ok {
				ifPrinted = true
			} else {
				ifPrinted = false
			}
			ast.Add(node)
			endpoint = ep
		} else {
			endpoint = paths.First()
		}

		if endpoint == NoAddress {
			break
		}
		paths.GotoAddr(endpoint)
	}

	return ast, nil
}

// addBlock appends addr to the branch's currently-open straight-line run,
// starting a new BlockNode if the branch's last child isn't one (or there
// is none yet).
func addBlock(ast *BranchNode, addr Address) {
	if n := len(ast.Children); n > 0 {
		if blk, ok := ast.Children[n-1].(*BlockNode); ok {
			blk.Addrs = append(blk.Addrs, addr)
			return
		}
	}
	ast.Add(&BlockNode{Addrs: []Address{addr}})
}

// pathsIsInfinite is paths_is_infinite: a loop body is infinite unless some
// conditional jump inside it has a successor that falls outside the body —
// i.e. every conditional inside loop_paths keeps both branches within it.
func pathsIsInfinite(view *CFGView, loopPaths *Paths) bool {
	for _, rec := range loopPaths.paths {
		for _, addr := range rec.addrs {
			inst := view.FirstInst(addr)
			if !IsCondJump(inst.Raw, inst.Addr) {
				continue
			}
			nxt := view.LinkOut(addr)
			if len(nxt) <= BranchNextJump {
				return false
			}
			if !loopPaths.Contains(nxt[BranchNext]) || !loopPaths.Contains(nxt[BranchNextJump]) {
				return false
			}
		}
	}
	return true
}

// buildLoop is get_ast_loop: it renders the loop header (an IfGoto if the
// header tests a condition, a plain block otherwise), splits the seed paths
// into the loop body and its endloop exits, and recurses into buildBranch
// for the body and for each endloop group.
func buildLoop(view *CFGView, cfg Config, paths *Paths, lastLoop []int, lastElse, endif Address) (*LoopNode, Address, error) {
	ast := &LoopNode{Header: &BranchNode{}, Body: &BranchNode{}}

	currLoopIdx := paths.GetLoopsIdx()
	loops := view.Loops()
	headerAddr := loopStart(loops, currLoopIdx)
	headerInst := view.FirstInst(headerAddr)

	if IsCondJump(headerInst.Raw, headerInst.Addr) {
		node, err := buildIfGoto(view, currLoopIdx, headerAddr, headerInst)
		if err != nil {
			return nil, NoAddress, err
		}
		ast.Header.Add(node)
	} else {
		addBlock(ast.Header, headerAddr)
	}

	loopPaths, endloop := paths.ExtractLoopPaths(currLoopIdx)
	ast.Infinite = pathsIsInfinite(view, loopPaths)

	paths.Pop()
	body, err := buildBranch(view, cfg, loopPaths, currLoopIdx, lastElse, NoAddress)
	if err != nil {
		return nil, NoAddress, err
	}
	ast.Body = body

	if len(endloop) == 0 {
		return ast, NoAddress, nil
	}

	if len(endloop) > 1 {
		epilog := &BranchNode{}
		for i, el := range endloop[:len(endloop)-1] {
			epilog.Add(&CommentNode{Text: "endloop " + strconv.Itoa(i+1)})
			branch, err := buildBranch(view, cfg, el, lastLoop, lastElse, NoAddress)
			if err != nil {
				return nil, NoAddress, err
			}
			epilog.Add(branch)
		}
		epilog.Add(&CommentNode{Text: "endloop " + strconv.Itoa(len(endloop))})
		ast.Epilog = epilog
	}

	return ast, endloop[len(endloop)-1].First(), nil
}

func loopStart(loops [][]Address, idx []int) Address {
	// get_loop_start: the header of the first loop GetLoopsIdx reports.
	// GetLoopsIdx walks the loop list in index order and every candidate it
	// accepts shares the same head address (isInCurrLoop checks loop[0] ==
	// p.First()), so idx[0] names that common header as well as any other.
	return loops[idx[0]][0]
}

// buildIfelse is get_ast_ifelse: it pops the shared conditional, finds where
// both branches rejoin, splits the remaining paths accordingly, and —
// unless the "and if" collapse applies — recurses into buildBranch once per
// branch.
func buildIfelse(view *CFGView, cfg Config, paths *Paths, currLoopIdx []int, lastElse Address, isPrevAndIf bool, endif Address) (Node, Address, error) {
	addr := paths.Pop()
	paths.RmEmptyPaths()
	jumpInst := view.FirstInst(addr)
	nxt := view.LinkOut(addr)

	ifAddr := NoAddress
	if len(nxt) > BranchNext {
		ifAddr = nxt[BranchNext]
	}
	elseAddr := NoAddress
	if len(nxt) == 2 {
		elseAddr = nxt[BranchNextJump]
	}

	endpoint := paths.FirstCommon(currLoopIdx, elseAddr)
	split, splitElseAddr := paths.Split(addr, endpoint)
	elseAddr = splitElseAddr

	condID := condOf(jumpInst)

	if cfg.EmitAndIf {
		if lastElse != NoAddress && !isPrevAndIf {
			if ifAddr == lastElse && endpoint == NoAddress {
				return &AndIfNode{Cond: jumpInst, CondID: condID}, elseAddr, nil
			}

			if (elseAddr != NoAddress && (elseAddr == lastElse || elseAddr == endif)) ||
				(lastElse == endif && endif == endpoint && endpoint != NoAddress) {
				ep := NoAddress
				if n := view.LinkOut(addr); len(n) > BranchNext {
					ep = n[BranchNext]
				}
				return &AndIfNode{Cond: jumpInst, CondID: InvertCond(condID)}, ep, nil
			}
		}
	}

	if elseAddr == NoAddress {
		elseAddr = lastElse
	}

	a1, err := buildBranch(view, cfg, split[BranchNextJump], currLoopIdx, NoAddress, endpoint)
	if err != nil {
		return nil, NoAddress, err
	}
	a2, err := buildBranch(view, cfg, split[BranchNext], currLoopIdx, elseAddr, endpoint)
	if err != nil {
		return nil, NoAddress, err
	}

	return &IfelseNode{Cond: jumpInst, Then: a1, Else: a2}, endpoint, nil
}
