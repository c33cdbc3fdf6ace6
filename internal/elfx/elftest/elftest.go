// Package elftest assembles minimal ELF images in memory for tests:
// one r-x PT_LOAD segment holding the given code, a .text section over
// it, and an optional .symtab. The output parses with debug/elf.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Sym is a function symbol to place in the image's .symtab.
type Sym struct {
	Name  string
	Value uint64
	Size  uint64
}

// Image describes the synthetic ELF to build. Zero values mean
// EM_X86_64, ET_DYN, and .text at VA 0.
type Image struct {
	Machine elf.Machine
	Type    elf.Type
	Entry   uint64
	TextVA  uint64
	Code    []byte
	Syms    []Sym
}

type header struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type progHeader struct {
	Type   uint32
	Flags  uint32
	Off    uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

type sectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Off       uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

type symbol struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

const (
	codeOff     = 0x1000
	symEntSize  = 24
	shdrEntSize = 64
)

// Bytes assembles the image.
func (im Image) Bytes() []byte {
	machine := im.Machine
	if machine == elf.EM_NONE {
		machine = elf.EM_X86_64
	}
	typ := im.Type
	if typ == elf.ET_NONE {
		typ = elf.ET_DYN
	}

	strtab := []byte{0}
	nameOff := make([]uint32, len(im.Syms))
	for i, s := range im.Syms {
		nameOff[i] = uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}
	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")

	symSize := symEntSize * (1 + len(im.Syms))
	symOff := align8(codeOff + len(im.Code))
	strOff := symOff + symSize
	shstrOff := strOff + len(strtab)
	shOff := align8(shstrOff + len(shstrtab))

	var buf bytes.Buffer
	le := binary.LittleEndian

	hdr := header{
		Type:      uint16(typ),
		Machine:   uint16(machine),
		Version:   1,
		Entry:     im.Entry,
		Phoff:     64,
		Shoff:     uint64(shOff),
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
		Shentsize: shdrEntSize,
		Shnum:     5,
		Shstrndx:  4,
	}
	copy(hdr.Ident[:], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	binary.Write(&buf, le, hdr)

	binary.Write(&buf, le, progHeader{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    codeOff,
		Vaddr:  im.TextVA,
		Paddr:  im.TextVA,
		Filesz: uint64(len(im.Code)),
		Memsz:  uint64(len(im.Code)),
		Align:  0x1000,
	})

	pad(&buf, codeOff)
	buf.Write(im.Code)

	pad(&buf, symOff)
	binary.Write(&buf, le, symbol{})
	for i, s := range im.Syms {
		binary.Write(&buf, le, symbol{
			Name:  nameOff[i],
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: 1,
			Value: s.Value,
			Size:  s.Size,
		})
	}
	buf.Write(strtab)
	buf.Write(shstrtab)

	pad(&buf, shOff)
	shdrs := []sectionHeader{
		{},
		{
			Name:      1, // .text
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:      im.TextVA,
			Off:       codeOff,
			Size:      uint64(len(im.Code)),
			Addralign: 16,
		},
		{
			Name:      7, // .symtab
			Type:      uint32(elf.SHT_SYMTAB),
			Off:       uint64(symOff),
			Size:      uint64(symSize),
			Link:      3,
			Info:      1,
			Addralign: 8,
			Entsize:   symEntSize,
		},
		{
			Name:      15, // .strtab
			Type:      uint32(elf.SHT_STRTAB),
			Off:       uint64(strOff),
			Size:      uint64(len(strtab)),
			Addralign: 1,
		},
		{
			Name:      23, // .shstrtab
			Type:      uint32(elf.SHT_STRTAB),
			Off:       uint64(shstrOff),
			Size:      uint64(len(shstrtab)),
			Addralign: 1,
		},
	}
	for _, sh := range shdrs {
		binary.Write(&buf, le, sh)
	}

	return buf.Bytes()
}

func align8(n int) int {
	return (n + 7) &^ 7
}

func pad(buf *bytes.Buffer, to int) {
	for buf.Len() < to {
		buf.WriteByte(0)
	}
}
