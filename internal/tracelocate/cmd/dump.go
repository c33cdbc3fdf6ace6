package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	pathpkg "path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"tracelocate/internal/analysis"
	"tracelocate/internal/trace"
	"tracelocate/internal/ui/colorize"
	"tracelocate/internal/workspace"
)

// imageJSON is the JSON output structure used for regression testing
type imageJSON struct {
	Path      string         `json:"path"`
	Arch      string         `json:"arch"`
	Entry     string         `json:"entry"`
	Base      string         `json:"base"`
	Functions []functionJSON `json:"functions"`
	Traces    []string       `json:"traces"`
}

type functionJSON struct {
	Entry  string      `json:"entry"`
	Name   string      `json:"name"`
	Source string      `json:"source"`
	Blocks []blockJSON `json:"blocks"`
}

type blockJSON struct {
	Start string     `json:"start"`
	End   string     `json:"end"`
	Insts []instJSON `json:"instructions"`
}

type instJSON struct {
	VA       string `json:"va"`
	Mnemonic string `json:"mnemonic"`
	Size     int    `json:"size"`
}

// sanitizeForJSON cleans a string to be valid UTF-8 and safe for JSON encoding
func sanitizeForJSON(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	// Convert invalid UTF-8 to valid UTF-8 by replacing invalid bytes
	return strings.ToValidUTF8(s, "�")
}

var dumpCmd = &cobra.Command{
	Use:   "dump <mapping-file>",
	Short: "Disassemble one mapping and show its trace addresses",
	Long: `Dump recovers functions and basic blocks from a single mapping
snapshot (or any ELF file) and prints the listing together with the
trace addresses a scan would record for it. A snapshot-style filename
supplies the rebase address; --base overrides it.`,
	Example: `
# Dump one snapshot from a workspace memory directory
tracelocate dump memory/400000_401000_r_x

# Machine-readable dump of an arbitrary ELF, rebased by hand
tracelocate dump --json --base 7f0000000000 /usr/bin/true
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")
		baseArg, _ := cmd.Flags().GetString("base")

		path, err := pathpkg.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return fmt.Errorf("file not found: %s", args[0])
		}

		base, err := dumpBase(path, baseArg)
		if err != nil {
			return err
		}

		// Piped and JSON output get no ANSI colors
		if jsonOut || !term.IsTerminal(os.Stdout.Fd()) {
			os.Setenv("TRACELOCATE_NO_COLOR", "1")
		}

		img, err := analysis.NewELFEngine().Load(path)
		if err != nil {
			return err
		}
		traces := trace.Collect(img, base)

		if jsonOut {
			return dumpJSON(cmd.OutOrStdout(), img, base, traces)
		}
		return dumpListing(cmd.OutOrStdout(), img, base, traces)
	},
}

// dumpBase picks the rebase address. An explicit --base wins, then a
// snapshot-style filename, otherwise addresses stay as linked.
func dumpBase(path, flag string) (uint64, error) {
	if flag != "" {
		v := strings.TrimPrefix(flag, "0x")
		base, err := strconv.ParseUint(v, 16, 64)
		if err != nil {
			return 0, fmt.Errorf("bad --base %q: %v", flag, err)
		}
		return base, nil
	}
	if m, err := workspace.ParseMappingName(pathpkg.Base(path)); err == nil {
		return m.Base, nil
	}
	return 0, nil
}

func dumpListing(w io.Writer, img *analysis.Image, base uint64, traces []uint64) error {
	marked := make(map[uint64]bool, len(traces))
	for _, t := range traces {
		marked[t] = true
	}

	fmt.Fprintln(w, colorize.ColorizeInstructionLine(fmt.Sprintf("; %s", img.Path)))
	fmt.Fprintln(w, colorize.ColorizeInstructionLine(fmt.Sprintf("; arch %s  entry 0x%x  base 0x%x", img.Arch, img.Entry, base)))
	fmt.Fprintln(w, colorize.ColorizeInstructionLine(fmt.Sprintf("; %d functions, %d trace addresses", len(img.Functions()), len(traces))))
	fmt.Fprintln(w)

	for _, fn := range img.Functions() {
		fmt.Fprintln(w, colorize.ColorizeInstructionLine(fmt.Sprintf("; %s (%s)", sanitizeForJSON(fn.Name), fn.Source)))
		for _, blk := range fn.Blocks {
			// Rebase the whole block with the block-start rule so
			// listing addresses line up with the collected traces.
			var delta uint64
			if blk.Start <= base {
				delta = base
			}
			start := blk.Start + delta

			head := fmt.Sprintf("; block 0x%x", start)
			if marked[start] {
				head += "  [trace]"
			}
			fmt.Fprintln(w, colorize.ColorizeInstructionLine(head))

			pc := start
			for _, in := range blk.Insts {
				line := fmt.Sprintf("%x  %s", pc, in.Mnemonic)
				pc += uint64(in.Size)
				if in.Mnemonic == "call" && marked[pc] {
					line += fmt.Sprintf("  ; trace 0x%x", pc)
				}
				fmt.Fprintln(w, colorize.ColorizeInstructionLine(line))
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

func dumpJSON(w io.Writer, img *analysis.Image, base uint64, traces []uint64) error {
	out := imageJSON{
		Path:  img.Path,
		Arch:  img.Arch,
		Entry: fmt.Sprintf("0x%x", img.Entry),
		Base:  fmt.Sprintf("0x%x", base),
	}
	for _, fn := range img.Functions() {
		fj := functionJSON{
			Entry:  fmt.Sprintf("0x%x", fn.Entry),
			Name:   sanitizeForJSON(fn.Name),
			Source: fn.Source,
		}
		for _, blk := range fn.Blocks {
			bj := blockJSON{
				Start: fmt.Sprintf("0x%x", blk.Start),
				End:   fmt.Sprintf("0x%x", blk.End()),
			}
			for _, in := range blk.Insts {
				bj.Insts = append(bj.Insts, instJSON{
					VA:       fmt.Sprintf("0x%x", in.VA),
					Mnemonic: in.Mnemonic,
					Size:     in.Size,
				})
			}
			fj.Blocks = append(fj.Blocks, bj)
		}
		out.Functions = append(out.Functions, fj)
	}
	for _, t := range traces {
		out.Traces = append(out.Traces, fmt.Sprintf("0x%x", t))
	}

	bts, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dump: %w", err)
	}
	fmt.Fprintln(w, string(bts))
	return nil
}

func init() {
	dumpCmd.Flags().Bool("json", false, "Emit the dump as JSON")
	dumpCmd.Flags().String("base", "", "Rebase address (hex) overriding the snapshot filename")
}
