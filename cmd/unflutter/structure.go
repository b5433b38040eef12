package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"unflutter/internal/disasm"
	"unflutter/internal/loopnest"
	"unflutter/internal/render"
	"unflutter/internal/structure"
)

// cmdStructure recovers a goto-minimized pseudo-C AST for each function in
// functions.jsonl (or only --func, up to --limit) and writes it alongside the CFGs render already produces, the
// same per-function fan-out disasm.go and render.go use for asm/ and cfg/.
func cmdStructure(args []string) error {
	fs := flag.NewFlagSet("structure", flag.ExitOnError)
	inDir := fs.String("in", "", "input directory (disasm output)")
	asmDir := fs.String("asm", "", "directory with per-function .bin files (defaults to <in>/asm)")
	outDir := fs.String("out", "", "output directory for structured pseudo-C (defaults to <in>/structured)")
	fn := fs.String("func", "", "structure only this function (default: all)")
	noAndIf := fs.Bool("no-and-if", false, "disable short-circuit and-if collapsing")
	limit := fs.Int("limit", 0, "max functions to structure (0 = all)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *inDir == "" {
		return fmt.Errorf("--in is required")
	}
	if *asmDir == "" {
		*asmDir = filepath.Join(*inDir, "asm")
	}
	if *outDir == "" {
		*outDir = filepath.Join(*inDir, "structured")
	}

	funcs, err := readJSONL[disasm.FuncRecord](filepath.Join(*inDir, "functions.jsonl"))
	if err != nil {
		return fmt.Errorf("read functions.jsonl: %w", err)
	}
	fmt.Fprintf(os.Stderr, "read %d functions\n", len(funcs))

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir output: %w", err)
	}

	cfg := structure.DefaultConfig()
	cfg.EmitAndIf = !*noAndIf

	var structured, skipped, failed int
	for _, f := range funcs {
		if *fn != "" && f.Name != *fn {
			continue
		}
		if *limit > 0 && structured >= *limit {
			break
		}

		safeName := sanitizeFilename(f.Name)
		binPath := filepath.Join(*asmDir, funcRelPathFromQualified(f.Name, f.Owner)+".bin")
		data, err := os.ReadFile(binPath)
		if err != nil {
			// Fallback: flat layout.
			binPath = filepath.Join(*asmDir, safeName+".bin")
			data, err = os.ReadFile(binPath)
		}
		if err != nil {
			skipped++
			continue
		}
		if len(data) < 4 {
			skipped++
			continue
		}

		pc, err := strconv.ParseUint(strings.TrimPrefix(f.PC, "0x"), 16, 64)
		if err != nil {
			skipped++
			continue
		}

		insts := decodeRawInsts(data, pc)
		if len(insts) == 0 {
			skipped++
			continue
		}

		funcCFG := disasm.BuildCFG(f.Name, insts)
		if len(funcCFG.Blocks) == 0 {
			skipped++
			continue
		}

		loops, err := loopnest.Detect(funcCFG)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  warning: loop detection failed for %s: %v\n", f.Name, err)
			failed++
			continue
		}

		view := structure.NewCFGView(funcCFG, loops)
		seed := structure.SeedPaths(view)

		ast, err := structure.GenerateAST(view, seed, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "  warning: structuring failed for %s: %v\n", f.Name, err)
			failed++
			continue
		}

		text := render.StructureText(ast, funcCFG)
		outPath := filepath.Join(*outDir, safeName+".c")
		if err := os.WriteFile(outPath, []byte(text), 0644); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
		structured++
	}

	fmt.Fprintf(os.Stderr, "structured %d functions (%d skipped, no asm; %d failed) -> %s\n", structured, skipped, failed, *outDir)
	return nil
}
