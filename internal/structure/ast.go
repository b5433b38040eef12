package structure

import "unflutter/internal/disasm"

// Address identifies a basic block by the index of its first instruction
// within the owning disasm.FuncCFG.Insts slice — the same index space
// disasm.BasicBlock.Start already uses. Using the instruction index rather
// than the absolute uint64 address keeps Paths comparisons plain int
// comparisons and sidesteps base-address/ASLR concerns entirely.
type Address int

// NoAddress marks the absence of an address (an unresolved endpoint, or "no
// continuation").
const NoAddress Address = -1

// Node is any AST fragment the structurer can emit. It is a closed tagged
// union; the printer dispatches on concrete type via a type switch.
type Node interface {
	astNode()
}

// BranchNode is an ordered sequence of AST fragments — the output of
// build_branch, and the body of the top-level procedure.
type BranchNode struct {
	Children []Node
}

func (*BranchNode) astNode() {}

// Add appends a fragment to the branch.
func (b *BranchNode) Add(n Node) {
	b.Children = append(b.Children, n)
}

// BlockNode is a straight-line run of basic-block addresses. The printer
// rehydrates the actual instructions from the CFG view.
type BlockNode struct {
	Addrs []Address
}

func (*BlockNode) astNode() {}

// IfelseNode is a two-way conditional with both branches present.
type IfelseNode struct {
	Cond disasm.Inst
	Then *BranchNode
	Else *BranchNode
}

func (*IfelseNode) astNode() {}

// IfGotoNode is a conditional jump that could not be absorbed into an
// Ifelse — typically a loop-header test rendered as a guarded forward jump.
type IfGotoNode struct {
	Cond   disasm.Inst
	CondID CondID
	Target Address
}

func (*IfGotoNode) astNode() {}

// AndIfNode is a short-circuit fragment: "if the condition does not hold,
// branch to the current else/endif". It is a collapsed Ifelse whose else
// branch is empty and whose endpoint is the enclosing last_else/endif.
type AndIfNode struct {
	Cond   disasm.Inst
	CondID CondID
}

func (*AndIfNode) astNode() {}

// LoopNode is a structured loop. Header holds the header's prologue
// (typically the loop-header conditional rendered as an IfGoto). Epilog
// collects tail code from non-primary exits (endloops), when present.
type LoopNode struct {
	Header   *BranchNode
	Body     *BranchNode
	Infinite bool
	Epilog   *BranchNode
}

func (*LoopNode) astNode() {}

// JmpNode is an explicit forward goto retained when the structurer decides
// to stop rather than continue folding code into the current branch.
type JmpNode struct {
	Target Address
}

func (*JmpNode) astNode() {}

// CommentNode is a synthetic annotation, e.g. "endloop 1".
type CommentNode struct {
	Text string
}

func (*CommentNode) astNode() {}
