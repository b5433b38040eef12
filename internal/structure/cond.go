// Package structure reconstructs a goto-minimized AST from a function's
// basic-block CFG and its natural loops. It is a pure, single-threaded
// transformation: no I/O, no disassembly, no loop detection — those are the
// caller's job (internal/disasm and internal/loopnest respectively).
package structure

import "unflutter/internal/disasm"

// CondID identifies the branch condition of a conditional jump, in enough
// detail to invert it. Two families exist: ARM64's 4-bit B.cond code, and
// the implicit zero-test of CBZ/CBNZ/TBZ/TBNZ.
type CondID struct {
	Kind disasm.CondKind
	Code uint32 // 4-bit condition code, valid only when Kind == disasm.CondBcond
}

// condNames gives the standard ARM64 mnemonic for each 4-bit condition code.
var condNames = [16]string{
	"eq", "ne", "cs", "cc", "mi", "pl", "vs", "vc",
	"hi", "ls", "ge", "lt", "gt", "le", "al", "nv",
}

// String renders the condition the way it would appear in disassembly text,
// e.g. "eq", "cbz", "tbnz".
func (c CondID) String() string {
	switch c.Kind {
	case disasm.CondBcond:
		return condNames[c.Code&0xF]
	case disasm.CondCBZ:
		return "cbz"
	case disasm.CondCBNZ:
		return "cbnz"
	case disasm.CondTBZ:
		return "tbz"
	case disasm.CondTBNZ:
		return "tbnz"
	default:
		return "?"
	}
}

// InvertCond returns the logical negation of a condition. For B.cond this is
// the standard ARM64 pairing: condition codes are assigned in adjacent pairs
// so that code n and code n^1 are exact opposites (eq/ne, cs/cc, ...); AL/NV
// have no meaningful inversion and are never produced by is_cond_jump, so
// they're never passed here. CBZ/CBNZ and TBZ/TBNZ invert by swapping within
// their pair.
func InvertCond(c CondID) CondID {
	switch c.Kind {
	case disasm.CondBcond:
		return CondID{Kind: disasm.CondBcond, Code: c.Code ^ 1}
	case disasm.CondCBZ:
		return CondID{Kind: disasm.CondCBNZ}
	case disasm.CondCBNZ:
		return CondID{Kind: disasm.CondCBZ}
	case disasm.CondTBZ:
		return CondID{Kind: disasm.CondTBNZ}
	case disasm.CondTBNZ:
		return CondID{Kind: disasm.CondTBZ}
	default:
		return c
	}
}

// IsCondJump reports whether raw decodes to a conditional branch.
func IsCondJump(raw uint32, pc uint64) bool {
	bi := disasm.DecodeBranch(raw, pc)
	return bi != nil && bi.Cond
}

// IsUncondJump reports whether raw decodes to an unconditional branch
// (not a conditional branch, and not a RET).
func IsUncondJump(raw uint32, pc uint64) bool {
	bi := disasm.DecodeBranch(raw, pc)
	return bi != nil && !bi.Cond && !bi.IsRet
}

// condOf extracts the CondID of a conditional instruction. Returns the zero
// CondID (it does not panic) if inst is not actually a conditional branch;
// callers only reach here after IsCondJump has already confirmed it is one.
func condOf(inst disasm.Inst) CondID {
	bi := disasm.DecodeBranch(inst.Raw, inst.Addr)
	if bi == nil || !bi.Cond {
		return CondID{}
	}
	return CondID{Kind: bi.CondKind, Code: bi.CondCode}
}
