package render

import (
	"fmt"
	"strings"

	"unflutter/internal/disasm"
	"unflutter/internal/structure"
)

// StructureText renders a structured AST as indented pseudo-C, rehydrating
// each BlockNode's instructions from cfg. It mirrors CFGDOT's shape: a
// strings.Builder threaded through one case per node kind via fmt.Fprintf.
func StructureText(ast *structure.BranchNode, cfg disasm.FuncCFG) string {
	blockByStart := make(map[structure.Address]disasm.BasicBlock, len(cfg.Blocks))
	for _, blk := range cfg.Blocks {
		blockByStart[structure.Address(blk.Start)] = blk
	}

	var b strings.Builder
	fmt.Fprintf(&b, "// %s\n", cfg.Name)
	writeBranch(&b, ast, cfg, blockByStart, 0)
	return b.String()
}

func indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("    ")
	}
}

func writeBranch(b *strings.Builder, branch *structure.BranchNode, cfg disasm.FuncCFG, blockByStart map[structure.Address]disasm.BasicBlock, depth int) {
	for _, n := range branch.Children {
		writeNode(b, n, cfg, blockByStart, depth)
	}
}

func writeNode(b *strings.Builder, n structure.Node, cfg disasm.FuncCFG, blockByStart map[structure.Address]disasm.BasicBlock, depth int) {
	switch node := n.(type) {
	case *structure.BlockNode:
		for _, addr := range node.Addrs {
			writeBlockInsts(b, addr, cfg, blockByStart, depth)
		}

	case *structure.IfelseNode:
		indent(b, depth)
		fmt.Fprintf(b, "if (%s) {\n", node.Cond.Text)
		writeBranch(b, node.Then, cfg, blockByStart, depth+1)
		indent(b, depth)
		b.WriteString("} else {\n")
		writeBranch(b, node.Else, cfg, blockByStart, depth+1)
		indent(b, depth)
		b.WriteString("}\n")

	case *structure.IfGotoNode:
		indent(b, depth)
		fmt.Fprintf(b, "if (%s) goto 0x%x;\n", node.CondID, node.Target)

	case *structure.AndIfNode:
		indent(b, depth)
		fmt.Fprintf(b, "and if (%s) ...\n", node.CondID)

	case *structure.LoopNode:
		indent(b, depth)
		if node.Infinite {
			b.WriteString("for (;;) {\n")
			writeBranch(b, node.Header, cfg, blockByStart, depth+1)
			writeBranch(b, node.Body, cfg, blockByStart, depth+1)
		} else {
			b.WriteString("while (...) {\n")
			writeBranch(b, node.Header, cfg, blockByStart, depth+1)
			writeBranch(b, node.Body, cfg, blockByStart, depth+1)
		}
		indent(b, depth)
		b.WriteString("}\n")
		if node.Epilog != nil {
			writeBranch(b, node.Epilog, cfg, blockByStart, depth)
		}

	case *structure.JmpNode:
		indent(b, depth)
		fmt.Fprintf(b, "goto 0x%x;\n", node.Target)

	case *structure.CommentNode:
		indent(b, depth)
		fmt.Fprintf(b, "// %s\n", node.Text)
	}
}

func writeBlockInsts(b *strings.Builder, addr structure.Address, cfg disasm.FuncCFG, blockByStart map[structure.Address]disasm.BasicBlock, depth int) {
	blk, ok := blockByStart[addr]
	if !ok {
		return
	}
	end := blk.End
	if end > len(cfg.Insts) {
		end = len(cfg.Insts)
	}
	for i := blk.Start; i < end; i++ {
		indent(b, depth)
		fmt.Fprintf(b, "0x%x: %s\n", cfg.Insts[i].Addr, cfg.Insts[i].Text)
	}
}
