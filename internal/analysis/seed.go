package analysis

import (
	"debug/elf"

	"tracelocate/internal/disasm"
	"tracelocate/internal/elfx"
)

// Seed marks a virtual address where function recovery should begin.
type Seed struct {
	VA     uint64
	Name   string
	Source string
}

// Seeder interface for contributing function entry seeds
type Seeder interface {
	// Seed inspects the image and returns the seed list with its own
	// findings appended. It can modify existing seeds or add new ones.
	Seed(img *elfx.Image, seeds []Seed) []Seed
}

// SeederChain runs multiple seeders in sequence
type SeederChain struct {
	seeders []Seeder
}

// NewSeederChain creates a new seeder chain
func NewSeederChain(seeders ...Seeder) *SeederChain {
	return &SeederChain{
		seeders: seeders,
	}
}

// Seed runs all seeders in sequence
func (sc *SeederChain) Seed(img *elfx.Image, seeds []Seed) []Seed {
	result := seeds
	for _, seeder := range sc.seeders {
		result = seeder.Seed(img, result)
	}
	return result
}

// DefaultSeeders returns the chain the ELF engine uses: named symbols
// first, then the entry point, then a prologue sweep for the functions
// a stripped binary hides.
func DefaultSeeders() *SeederChain {
	return NewSeederChain(
		SymbolSeeder{},
		EntrySeeder{},
		PrologueSeeder{},
	)
}

// SymbolSeeder seeds every function symbol that lands in executable code.
type SymbolSeeder struct{}

func (SymbolSeeder) Seed(img *elfx.Image, seeds []Seed) []Seed {
	for _, sym := range img.Funcs {
		if !img.InExec(sym.Value) {
			continue
		}
		seeds = append(seeds, Seed{
			VA:     sym.Value,
			Name:   CachedDemangle(sym.Name),
			Source: "symtab",
		})
	}
	return seeds
}

// EntrySeeder seeds the ELF entry point when no symbol already covers it.
type EntrySeeder struct{}

func (EntrySeeder) Seed(img *elfx.Image, seeds []Seed) []Seed {
	if img.Entry == 0 || !img.InExec(img.Entry) {
		return seeds
	}
	for _, s := range seeds {
		if s.VA == img.Entry {
			return seeds
		}
	}
	return append(seeds, Seed{VA: img.Entry, Name: "_start", Source: "entry"})
}

// PrologueSeeder sweeps executable sections for x86-64 function
// prologues that no symbol names. Stripped binaries keep their symbol
// table empty, so this is often the only seed source.
type PrologueSeeder struct{}

func (PrologueSeeder) Seed(img *elfx.Image, seeds []Seed) []Seed {
	if img.Machine != elf.EM_X86_64 {
		return seeds
	}
	known := make(map[uint64]bool, len(seeds))
	for _, s := range seeds {
		known[s.VA] = true
	}
	for _, sec := range img.Execs {
		code, ok := img.SectionBytes(sec)
		if !ok {
			continue
		}
		seeds = append(seeds, sweepPrologues(sec.VA, code, known)...)
	}
	return seeds
}

// sweepPrologues decodes linearly through one section and records every
// prologue that starts right after a function boundary. A boundary is
// the section start, a ret, an unconditional jump or an undecodable gap.
func sweepPrologues(va uint64, code []byte, known map[uint64]bool) []Seed {
	var out []Seed
	dec := disasm.AMD64{}
	boundary := true
	for off := 0; off < len(code); {
		in, err := dec.Decode(code[off:], va+uint64(off))
		if err != nil {
			off++
			boundary = true
			continue
		}
		if boundary && !known[in.VA] && looksLikePrologue(in, code[off:]) {
			out = append(out, Seed{VA: in.VA, Source: "prologue"})
			known[in.VA] = true
		}
		boundary = in.Kind == disasm.KindRet || in.Kind == disasm.KindJump
		off += in.Len
	}
	return out
}

// looksLikePrologue matches the frame setups compilers emit at function
// entry on x86-64.
func looksLikePrologue(in disasm.Inst, code []byte) bool {
	switch in.Op {
	case "endbr64":
		return true
	case "push":
		// push rbp; mov rbp, rsp
		return len(code) >= 4 &&
			code[0] == 0x55 && code[1] == 0x48 && code[2] == 0x89 && code[3] == 0xe5
	case "sub":
		// sub rsp, imm8 or imm32 without a saved frame pointer
		if len(code) < 3 || code[0] != 0x48 {
			return false
		}
		return (code[1] == 0x83 || code[1] == 0x81) && code[2] == 0xec
	}
	return false
}
