package disasm

import (
	"errors"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// ARM64 decodes AArch64 machine code. Every instruction is 4 bytes.
type ARM64 struct{}

// Arch implements Decoder.
func (ARM64) Arch() string { return "arm64" }

var errTruncated = errors.New("truncated instruction")

// Decode implements Decoder.
func (ARM64) Decode(code []byte, va uint64) (Inst, error) {
	if len(code) < 4 {
		return Inst{}, errTruncated
	}

	inst, err := arm64asm.Decode(code[:4])
	if err != nil {
		return Inst{}, err
	}

	out := Inst{
		VA:  va,
		Op:  strings.ToLower(inst.Op.String()),
		Len: 4,
	}

	switch inst.Op {
	case arm64asm.BL, arm64asm.BLR:
		out.Kind = KindCall
	case arm64asm.B:
		out.Kind = KindJump
		// B.cond carries a Cond argument; render it the way an
		// assembler would and downgrade to a conditional branch.
		for _, arg := range inst.Args {
			if cond, ok := arg.(arm64asm.Cond); ok {
				out.Kind = KindBranch
				out.Op = "b." + strings.ToLower(cond.String())
				break
			}
		}
	case arm64asm.BR:
		out.Kind = KindJump
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		out.Kind = KindBranch
	case arm64asm.RET:
		out.Kind = KindRet
	}

	if out.Kind == KindCall || out.Kind == KindJump || out.Kind == KindBranch {
		for _, arg := range inst.Args {
			if pcrel, ok := arg.(arm64asm.PCRel); ok {
				out.Target = va + uint64(int64(pcrel))
				out.HasTarget = true
				break
			}
		}
	}
	return out, nil
}
