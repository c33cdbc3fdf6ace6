// Package elfx provides helpers for opening ELF binaries, locating
// executable ranges, and mapping virtual addresses to file offsets.
package elfx

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"
	"syscall"
)

type Image struct {
	Path    string
	File    *elf.File
	All     []byte
	Machine elf.Machine
	Type    elf.Type
	Entry   uint64
	Loads   []Seg
	Execs   []Section // executable ranges, ascending VA
	Funcs   []Sym     // defined function symbols, ascending value
	f       *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

type Sym struct {
	Name  string
	Value uint64
	Size  uint64
}

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{
		Path:    path,
		File:    f,
		All:     all,
		Machine: f.Machine,
		Type:    f.Type,
		Entry:   f.Entry,
		f:       of,
	}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  uint64(p.Vaddr),
			Off:    uint64(p.Off),
			Filesz: uint64(p.Filesz),
			Flags:  p.Flags,
		})
	}

	// Use true sections if present. .plt/.init/.fini count as code; their
	// stubs are analyzed like any other function.
	for _, s := range f.Sections {
		if s.Type != elf.SHT_PROGBITS || s.Flags&elf.SHF_EXECINSTR == 0 || s.Size == 0 {
			continue
		}
		im.Execs = append(im.Execs, Section{s.Name, s.Addr, s.Offset, s.Size})
	}

	// Fallback if stripped of section headers.
	if len(im.Execs) == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Execs = append(im.Execs, Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz})
			}
		}
	}
	sort.Slice(im.Execs, func(i, j int) bool { return im.Execs[i].VA < im.Execs[j].VA })

	im.loadFunctionSymbols()

	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		err3 := im.File.Close()
		if err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// SectionBytes returns the file bytes backing a section.
func (im *Image) SectionBytes(s Section) ([]byte, bool) {
	end := s.Off + s.Size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[s.Off:end], true
}

// InExec reports whether the VA lies within an executable range.
func (im *Image) InExec(va uint64) bool {
	for _, s := range im.Execs {
		if va >= s.VA && va < s.VA+s.Size {
			return true
		}
	}
	return false
}

// ExecFor returns the executable range containing va.
func (im *Image) ExecFor(va uint64) (Section, bool) {
	for _, s := range im.Execs {
		if va >= s.VA && va < s.VA+s.Size {
			return s, true
		}
	}
	return Section{}, false
}

// loadFunctionSymbols collects defined STT_FUNC symbols from both
// symbol tables. Values are deduplicated; the first name seen for an
// address wins. Stripped binaries simply yield an empty list.
func (im *Image) loadFunctionSymbols() {
	if im.File == nil {
		return
	}

	seen := make(map[uint64]bool)
	collect := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
				continue
			}
			if sym.Value == 0 || sym.Section == elf.SHN_UNDEF {
				continue
			}
			if seen[sym.Value] {
				continue
			}
			seen[sym.Value] = true
			im.Funcs = append(im.Funcs, Sym{
				Name:  sym.Name,
				Value: sym.Value,
				Size:  sym.Size,
			})
		}
	}

	if syms, err := im.File.Symbols(); err == nil {
		collect(syms)
	}
	if dynsyms, err := im.File.DynamicSymbols(); err == nil {
		collect(dynsyms)
	}

	sort.Slice(im.Funcs, func(i, j int) bool { return im.Funcs[i].Value < im.Funcs[j].Value })
}

// FuncNameAt returns the symbol name at exactly va, if any.
func (im *Image) FuncNameAt(va uint64) (string, bool) {
	i := sort.Search(len(im.Funcs), func(i int) bool { return im.Funcs[i].Value >= va })
	if i < len(im.Funcs) && im.Funcs[i].Value == va {
		return im.Funcs[i].Name, true
	}
	return "", false
}
