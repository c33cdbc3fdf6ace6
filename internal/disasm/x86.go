package disasm

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// AMD64 decodes 64-bit x86 machine code.
type AMD64 struct{}

// Arch implements Decoder.
func (AMD64) Arch() string { return "amd64" }

// IsEndbr64 reports whether code begins with the CET endbr64 marker,
// which x86asm does not recognise. It shows up at function entries in
// binaries built with -fcf-protection.
func IsEndbr64(code []byte) bool {
	return len(code) >= 4 &&
		code[0] == 0xf3 && code[1] == 0x0f && code[2] == 0x1e && code[3] == 0xfa
}

// Decode implements Decoder.
func (AMD64) Decode(code []byte, va uint64) (Inst, error) {
	if IsEndbr64(code) {
		return Inst{VA: va, Op: "endbr64", Len: 4}, nil
	}

	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return Inst{}, err
	}

	out := Inst{
		VA:  va,
		Op:  strings.ToLower(inst.Op.String()),
		Len: inst.Len,
	}

	switch inst.Op {
	case x86asm.CALL:
		out.Kind = KindCall
	case x86asm.JMP:
		// Conditional jumps carry distinct Op values (JNE, JE, ...),
		// so Op == JMP is always unconditional.
		out.Kind = KindJump
	case x86asm.RET, x86asm.LRET:
		out.Kind = KindRet
	default:
		if isCondJumpAMD64(inst.Op) {
			out.Kind = KindBranch
		}
	}

	if out.Kind == KindCall || out.Kind == KindJump || out.Kind == KindBranch {
		// PC-relative: call/jmp rel8 or rel32. Register and memory
		// operands stay target-less; they cannot be resolved statically.
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			out.Target = va + uint64(inst.Len) + uint64(int64(rel))
			out.HasTarget = true
		}
	}
	return out, nil
}

func isCondJumpAMD64(op x86asm.Op) bool {
	switch op {
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ,
		x86asm.JE, x86asm.JECXZ, x86asm.JG, x86asm.JGE, x86asm.JL,
		x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS,
		x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return true
	}
	return false
}
