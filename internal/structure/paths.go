package structure

import "sort"

// pathRecord is one candidate execution path: an ordered address sequence,
// plus the loop index it continues into (-1 when the path does not
// continue into a loop). The annotation is stored alongside the path
// rather than in a side-table keyed by position — unlike
// _examples/original_source/lib/paths.py's `looping` dict, which is keyed
// by path index and has to be renumbered whenever a path is deleted, the
// annotation here travels with the path itself, so deleting a path
// elsewhere in the slice never requires renumbering.
type pathRecord struct {
	addrs   []Address
	loopIdx int
}

// Paths is the multi-path cursor: a bag of candidate linear paths through a
// CFG, all sharing the same head address whenever non-empty, with
// per-path loop annotations. It is the Go shape of
// _examples/original_source/lib/paths.py's Paths class.
type Paths struct {
	view  *CFGView
	paths []pathRecord
}

// NewPaths returns an empty cursor over view.
func NewPaths(view *CFGView) *Paths {
	return &Paths{view: view}
}

// Add appends a path, optionally annotated as continuing into loop loopIdx
// (-1 for "not looping").
func (p *Paths) Add(addrs []Address, loopIdx int) {
	p.paths = append(p.paths, pathRecord{addrs: addrs, loopIdx: loopIdx})
}

// Len reports how many paths remain.
func (p *Paths) Len() int {
	return len(p.paths)
}

// Contains reports whether any path contains addr.
func (p *Paths) Contains(addr Address) bool {
	for _, rec := range p.paths {
		if indexOf(rec.addrs, addr) != -1 {
			return true
		}
	}
	return false
}

// First returns the shared head of path 0. The caller must ensure Paths is
// non-empty.
func (p *Paths) First() Address {
	return p.paths[0].addrs[0]
}

// loopContains reports whether addr belongs to any loop in currLoopIdx, or
// is vacuously true when currLoopIdx is empty (matching the Python source's
// "not loop_start_idx" short circuit in Paths.loop_contains, which otherwise
// has nothing to do with self.paths at all).
func (p *Paths) loopContains(currLoopIdx []int, addr Address) bool {
	return p.view.LoopContains(currLoopIdx, addr)
}

// isLooping reports whether path pathIdx is annotated as looping on a loop
// index NOT in currLoopIdx — i.e. it escapes into a sibling/outer loop.
func (p *Paths) isLooping(pathIdx int, currLoopIdx []int) bool {
	l := p.paths[pathIdx].loopIdx
	if l < 0 {
		return false
	}
	return !containsInt(currLoopIdx, l)
}

// AreAllLooping reports whether every path either (a) has head equal (or
// not equal, per checkEqual) to start, or (b) is looping.
func (p *Paths) AreAllLooping(start Address, checkEqual bool, currLoopIdx []int) bool {
	for i, rec := range p.paths {
		if len(rec.addrs) == 0 {
			continue
		}
		matches := rec.addrs[0] == start
		if checkEqual {
			if matches && !p.isLooping(i, currLoopIdx) {
				return false
			}
		} else {
			if !matches && !p.isLooping(i, currLoopIdx) {
				return false
			}
		}
	}
	return true
}

// GetLoopsIdx returns the set of loop indices whose member-set is fully
// covered by this Paths, with the header as the shared head and address
// order preserved in each path.
func (p *Paths) GetLoopsIdx() []int {
	var idxs []int
	for k, l := range p.view.Loops() {
		if p.isInCurrLoop(l) {
			idxs = append(idxs, k)
		}
	}
	return idxs
}

func (p *Paths) isInCurrLoop(loop []Address) bool {
	if len(p.paths) == 0 || len(loop) == 0 {
		return false
	}
	curr := p.First()
	if loop[0] != curr {
		return false
	}
	for _, addr := range loop {
		if !p.Contains(addr) {
			return false
		}
	}
	for _, rec := range p.paths {
		lastIdx := -1
		for _, addr := range loop {
			idx := indexOf(rec.addrs, addr)
			if idx == -1 {
				break
			} else if idx < lastIdx {
				return false
			} else {
				lastIdx = idx
			}
		}
	}
	return true
}

// Pop removes and returns the shared head from every path.
func (p *Paths) Pop() Address {
	var val Address
	for i := range p.paths {
		val = p.paths[i].addrs[0]
		p.paths[i].addrs = p.paths[i].addrs[1:]
	}
	return val
}

// RmEmptyPaths deletes every empty path and reports whether none remain.
func (p *Paths) RmEmptyPaths() bool {
	out := p.paths[:0]
	for _, rec := range p.paths {
		if len(rec.addrs) > 0 {
			out = append(out, rec)
		}
	}
	p.paths = out
	return len(p.paths) == 0
}

// GotoAddr truncates each path to begin at the first occurrence of addr;
// paths that do not contain addr become empty.
func (p *Paths) GotoAddr(addr Address) {
	for i := range p.paths {
		idx := indexOf(p.paths[i].addrs, addr)
		if idx == -1 {
			p.paths[i].addrs = nil
		} else {
			p.paths[i].addrs = p.paths[i].addrs[idx:]
		}
	}
}

func (p *Paths) longestPathIdx() int {
	idx := 0
	maxLen := len(p.paths[0].addrs)
	for k, rec := range p.paths {
		if len(rec.addrs) > maxLen {
			maxLen = len(rec.addrs)
			idx = k
		}
	}
	return idx
}

// enterNewLoop is __enter_new_loop from the source: does path pathIdx, at
// position k, enter a loop not already in currLoopIdx, or cross a marked
// cut that forces the caller to stop?
func (p *Paths) enterNewLoop(currLoopIdx []int, pathIdx, k int) (isLoop, forceStop bool) {
	rec := p.paths[pathIdx]
	addr := rec.addrs[k]
	notLooping := rec.loopIdx < 0

	if p.view.MarkedAddr(addr) {
		if len(currLoopIdx) == 0 || notLooping {
			return false, true
		}
	}
	if notLooping {
		return false, false
	}
	loops := p.view.Loops()
	if addr != loops[rec.loopIdx][0] {
		return false, false
	}
	if p.view.MarkedAddr(addr) {
		return false, true
	}
	return true, false
}

// HeadLastCommon walks the longest path and reports where the heads of all
// paths diverge, or where a loop/marked cut stops the walk early. The
// longest path is used as reference because a shorter one could stop
// prematurely on nested structures the longer paths still need to resolve.
func (p *Paths) HeadLastCommon(currLoopIdx []int) (until Address, isLoop, isIfelse, forceStop bool, forceStopAddr Address) {
	refpath := p.longestPathIdx()
	last := NoAddress
	k := 0
	for k < len(p.paths[refpath].addrs) {
		addr0 := p.paths[refpath].addrs[k]

		if loopFlag, stopFlag := p.enterNewLoop(currLoopIdx, refpath, k); loopFlag || stopFlag {
			if stopFlag {
				return last, loopFlag, false, true, addr0
			}
			return last, loopFlag, false, false, NoAddress
		}

		if isIfelseAt(p.view, addr0, currLoopIdx) {
			return last, false, true, false, NoAddress
		}

		for i := range p.paths {
			if i == refpath {
				continue
			}
			if indexOf(p.paths[i].addrs, addr0) == -1 {
				return last, false, false, false, NoAddress
			}
			addr := p.paths[i].addrs[k]

			if loopFlag, stopFlag := p.enterNewLoop(currLoopIdx, i, k); loopFlag || stopFlag {
				if stopFlag {
					return last, loopFlag, false, true, addr
				}
				return last, loopFlag, false, false, NoAddress
			}

			if isIfelseAt(p.view, addr, currLoopIdx) {
				return last, false, true, false, NoAddress
			}
		}

		k++
		last = addr0
	}

	if len(p.paths) == 1 {
		addrs := p.paths[0].addrs
		return addrs[len(addrs)-1], false, false, false, NoAddress
	}
	return last, false, false, false, NoAddress
}

// isIfelseAt reports whether addr's first instruction is a conditional
// jump whose both successors remain inside currLoopIdx — the signature of
// an if/else rather than a loop-exit test.
func isIfelseAt(view *CFGView, addr Address, currLoopIdx []int) bool {
	inst := view.FirstInst(addr)
	if !IsCondJump(inst.Raw, inst.Addr) {
		return false
	}
	nxt := view.LinkOut(addr)
	if len(nxt) < 2 {
		return false
	}
	c1 := view.LoopContains(currLoopIdx, nxt[BranchNext])
	c2 := view.LoopContains(currLoopIdx, nxt[BranchNextJump])
	return c1 && c2
}

// FirstCommon finds the earliest address appearing in every non-looping
// path, with the "infinite then-branch collapses" special case. Returns
// NoAddress if none exists.
func (p *Paths) FirstCommon(currLoopIdx []int, elseAddr Address) Address {
	if len(p.paths) <= 1 {
		return NoAddress
	}

	allLoopingIf := p.AreAllLooping(elseAddr, false, currLoopIdx)
	allLoopingElse := p.AreAllLooping(elseAddr, true, currLoopIdx)
	if allLoopingIf || allLoopingElse {
		return elseAddr
	}

	refpath := 0
	for i := range p.paths {
		if !p.isLooping(i, currLoopIdx) {
			refpath = i
			break
		}
	}

	found := false
	k := 0
	val := NoAddress
	for !found && k < len(p.paths[refpath].addrs) {
		val = p.paths[refpath].addrs[k]
		found = true
		for i := range p.paths {
			if i == refpath {
				continue
			}
			if !p.isLooping(i, currLoopIdx) {
				if indexOf(p.paths[i].addrs, val) == -1 {
					found = false
					break
				}
			}
		}
		k++
	}
	if found {
		return val
	}
	return NoAddress
}

// Split partitions the (already head-popped) paths by which successor of
// ifAddr they enter: those starting with link_out[ifAddr][BranchNext] go to
// split[BranchNext], the rest to split[BranchNextJump]. Each path is
// truncated at endpoint (exclusive); looping paths with no endpoint
// preserve their looping annotation.
func (p *Paths) Split(ifAddr, endpoint Address) ([2]*Paths, Address) {
	nxt := p.view.LinkOut(ifAddr)
	out := [2]*Paths{NewPaths(p.view), NewPaths(p.view)}
	elseAddr := NoAddress

	for _, rec := range p.paths {
		if len(rec.addrs) == 0 {
			continue
		}
		var br int
		if len(nxt) > BranchNext && rec.addrs[0] == nxt[BranchNext] {
			br = BranchNext
		} else {
			br = BranchNextJump
			if len(nxt) > BranchNextJump {
				elseAddr = nxt[BranchNextJump]
			}
		}
		idx := indexOf(rec.addrs, endpoint)
		if idx == -1 {
			out[br].Add(rec.addrs, rec.loopIdx)
		} else {
			out[br].Add(rec.addrs[:idx], -1)
		}
	}
	return out, elseAddr
}

// keepPath decides, for one path within a loop body, whether it should be
// kept as loop_paths, dropped to an endloop, or ignored entirely (neither —
// a marked loop escape the caller must not treat as a normal exit).
func (p *Paths) keepPath(currLoopIdx []int, rec pathRecord) (keep, ignore bool) {
	last := rec.addrs[len(rec.addrs)-1]
	if p.loopContains(currLoopIdx, last) {
		return true, false
	}
	if rec.loopIdx < 0 {
		return false, false
	}
	lIdx := rec.loopIdx
	if containsInt(currLoopIdx, lIdx) {
		return true, false
	}
	for _, i := range currLoopIdx {
		if p.view.NestedLoopsIdx(i)[lIdx] {
			return true, false
		}
	}
	if p.view.MarkedLoop(lIdx) {
		return false, true
	}
	return false, false
}

// ExtractLoopPaths splits self's paths into the ones that continue the
// current loop body and the endloop groups reached when the loop exits, the
// Go shape of extract_loop_paths in
// _examples/original_source/lib/paths.py (keep/drop decision, prefix
// truncation, cross-endloop duplicate elimination, regrouping by head
// address, and with-jump-first / fall-through-chain sorting).
func (p *Paths) ExtractLoopPaths(currLoopIdx []int) (*Paths, []*Paths) {
	loopPaths := NewPaths(p.view)
	endloop := NewPaths(p.view)

	for _, rec := range p.paths {
		keep, ignore := p.keepPath(currLoopIdx, rec)
		if ignore {
			continue
		}
		if keep {
			loopPaths.Add(rec.addrs, rec.loopIdx)
		} else {
			endloop.Add(rec.addrs, rec.loopIdx)
		}
	}

	// Endloops begin at the loop exit: cut each path's prefix up to (but
	// not including) the first address not covered by loop_paths.
	for i := range endloop.paths {
		el := endloop.paths[i].addrs
		for k, addr := range el {
			if !loopPaths.Contains(addr) {
				trimmed := el[k:]
				if pathListIn(endloop.paths, trimmed) {
					endloop.paths[i].addrs = nil
				} else {
					endloop.paths[i].addrs = trimmed
				}
				break
			}
		}
	}
	endloop.RmEmptyPaths()

	// Deduplicate: when an address appears in more than one
	// differently-headed endloop path, the longer (non-owning) path is cut
	// at the duplicate. Processed in address order for determinism — the
	// source iterates a hash map here, which has no defined order.
	common := make(map[Address]bool)
	for _, prec := range endloop.paths {
		for _, addr := range prec.addrs {
			for _, el := range endloop.paths {
				if len(el.addrs) == 0 || el.addrs[0] == prec.addrs[0] {
					continue
				}
				if indexOf(el.addrs, addr) != -1 {
					common[addr] = true
					break
				}
			}
		}
	}
	dups := make([]Address, 0, len(common))
	for addr := range common {
		dups = append(dups, addr)
	}
	sort.Slice(dups, func(i, j int) bool { return dups[i] < dups[j] })
	for _, dup := range dups {
		for i := range endloop.paths {
			el := endloop.paths[i].addrs
			if len(el) == 0 || el[0] == dup {
				continue
			}
			idx := indexOf(el, dup)
			if idx != -1 {
				endloop.paths[i].addrs = el[:idx]
				// A loop annotation is only valid while the path's last
				// address is the loop header it names (that's how these
				// paths get annotated in the first place); cutting
				// anywhere but the last element drops that header address
				// along with the rest of the tail, so the annotation no
				// longer applies and must go with it.
				if idx != len(el)-1 {
					endloop.paths[i].loopIdx = -1
				}
			}
		}
	}
	endloop.RmEmptyPaths()

	// Regroup paths that share a head address into one Paths per exit.
	var groups []*Paths
	seen := make(map[Address]int)
	for _, rec := range endloop.paths {
		head := rec.addrs[0]
		if idx, ok := seen[head]; ok {
			groups[idx].Add(rec.addrs, rec.loopIdx)
		} else {
			seen[head] = len(groups)
			np := NewPaths(p.view)
			np.Add(rec.addrs, rec.loopIdx)
			groups = append(groups, np)
		}
	}

	return loopPaths, sortEndloopGroups(groups, p.view)
}

// sortEndloopGroups orders endloop groups: those whose every path ends in
// an unconditional jump come first (their relative order isn't otherwise
// constrained, so insertion order is kept stable), followed by the
// fall-through groups,
// ordered so each appears immediately before the group its fall-through
// target lands in; groups whose target escapes the remaining set entirely
// are placed first among the fall-through groups.
func sortEndloopGroups(groups []*Paths, view *CFGView) []*Paths {
	type info struct {
		head    Address
		target  Address
		allJump bool
	}

	infos := make([]info, len(groups))
	headIndex := make(map[Address]int, len(groups))
	for i, g := range groups {
		head := g.paths[0].addrs[0]
		headIndex[head] = i
		allJump := true
		target := NoAddress
		for _, rec := range g.paths {
			last := rec.addrs[len(rec.addrs)-1]
			inst := view.FirstInst(last)
			if !IsUncondJump(inst.Raw, inst.Addr) {
				allJump = false
				nxt := view.LinkOut(last)
				if len(nxt) > BranchNext {
					target = nxt[BranchNext]
				} else {
					target = NoAddress
				}
			}
		}
		infos[i] = info{head: head, target: target, allJump: allJump}
	}

	var withJump, noJump []int
	for i, inf := range infos {
		if inf.allJump {
			withJump = append(withJump, i)
		} else {
			noJump = append(noJump, i)
		}
	}

	remaining := make(map[Address]bool, len(noJump))
	for _, i := range noJump {
		remaining[infos[i].head] = true
	}

	succOf := make(map[int]int, len(noJump))
	hasIncoming := make(map[int]bool, len(noJump))
	for _, i := range noJump {
		t := infos[i].target
		if t == NoAddress || !remaining[t] {
			continue
		}
		j, ok := headIndex[t]
		if !ok || j == i {
			continue
		}
		succOf[i] = j
		hasIncoming[j] = true
	}

	var order []int
	placed := make(map[int]bool, len(noJump))

	for _, i := range noJump {
		if _, ok := succOf[i]; !ok && !placed[i] {
			order = append(order, i)
			placed[i] = true
		}
	}
	for _, i := range noJump {
		if placed[i] || hasIncoming[i] {
			continue
		}
		for cur := i; !placed[cur]; {
			order = append(order, cur)
			placed[cur] = true
			nxt, ok := succOf[cur]
			if !ok || placed[nxt] {
				break
			}
			cur = nxt
		}
	}
	for _, i := range noJump {
		if !placed[i] {
			order = append(order, i)
			placed[i] = true
		}
	}

	result := make([]*Paths, 0, len(groups))
	for _, i := range withJump {
		result = append(result, groups[i])
	}
	for _, i := range order {
		result = append(result, groups[i])
	}
	return result
}

func pathListIn(paths []pathRecord, target []Address) bool {
	for _, rec := range paths {
		if addrsEqual(rec.addrs, target) {
			return true
		}
	}
	return false
}

func addrsEqual(a, b []Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func indexOf(s []Address, v Address) int {
	for i, a := range s {
		if a == v {
			return i
		}
	}
	return -1
}

func containsInt(s []int, v int) bool {
	for _, a := range s {
		if a == v {
			return true
		}
	}
	return false
}
