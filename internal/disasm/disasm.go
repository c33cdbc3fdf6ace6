// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers.
package disasm

import (
	"debug/elf"
	"fmt"
)

// Kind classifies an instruction's effect on control flow.
type Kind uint8

const (
	KindOther  Kind = iota
	KindCall        // call (x86) / bl, blr (arm64)
	KindJump        // unconditional jump, possibly indirect
	KindBranch      // conditional branch
	KindRet         // return
)

// Inst is a simplified decoded instruction.
type Inst struct {
	VA        uint64 // virtual address of instruction
	Op        string // mnemonic in lowercase
	Len       int    // encoded size in bytes
	Kind      Kind
	Target    uint64 // destination address, valid when HasTarget
	HasTarget bool   // destination is statically known (PC-relative)
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Decoder decodes one instruction at a time from raw machine code.
type Decoder interface {
	// Decode decodes the instruction at the start of code, which sits at
	// virtual address va. code may extend past the instruction's end.
	Decode(code []byte, va uint64) (Inst, error)
	// Arch names the decoded architecture.
	Arch() string
}

// New returns the decoder for an ELF machine type.
func New(machine elf.Machine) (Decoder, error) {
	switch machine {
	case elf.EM_X86_64:
		return AMD64{}, nil
	case elf.EM_AARCH64:
		return ARM64{}, nil
	default:
		return nil, fmt.Errorf("no decoder for machine %v", machine)
	}
}
