package disasm

import (
	"debug/elf"
	"testing"
)

func TestAMD64Decode(t *testing.T) {
	dec := AMD64{}

	tests := []struct {
		name      string
		code      []byte
		va        uint64
		op        string
		size      int
		kind      Kind
		target    uint64
		hasTarget bool
	}{
		{
			name:      "call rel32 forward",
			code:      []byte{0xe8, 0x10, 0x00, 0x00, 0x00},
			va:        0x1000,
			op:        "call",
			size:      5,
			kind:      KindCall,
			target:    0x1015,
			hasTarget: true,
		},
		{
			name:      "call rel32 zero displacement",
			code:      []byte{0xe8, 0x00, 0x00, 0x00, 0x00},
			va:        0x400010,
			op:        "call",
			size:      5,
			kind:      KindCall,
			target:    0x400015,
			hasTarget: true,
		},
		{
			name: "call register indirect",
			code: []byte{0xff, 0xd0}, // call rax
			va:   0x1000,
			op:   "call",
			size: 2,
			kind: KindCall,
		},
		{
			name: "ret",
			code: []byte{0xc3},
			va:   0x1000,
			op:   "ret",
			size: 1,
			kind: KindRet,
		},
		{
			name:      "jmp rel8 backward",
			code:      []byte{0xeb, 0xfe},
			va:        0x2000,
			op:        "jmp",
			size:      2,
			kind:      KindJump,
			target:    0x2000,
			hasTarget: true,
		},
		{
			name:      "jne rel8",
			code:      []byte{0x75, 0x05},
			va:        0x3000,
			op:        "jne",
			size:      2,
			kind:      KindBranch,
			target:    0x3007,
			hasTarget: true,
		},
		{
			name: "push rbp",
			code: []byte{0x55},
			va:   0x1000,
			op:   "push",
			size: 1,
			kind: KindOther,
		},
		{
			name: "mov rbp rsp",
			code: []byte{0x48, 0x89, 0xe5},
			va:   0x1000,
			op:   "mov",
			size: 3,
			kind: KindOther,
		},
		{
			name: "endbr64",
			code: []byte{0xf3, 0x0f, 0x1e, 0xfa},
			va:   0x1000,
			op:   "endbr64",
			size: 4,
			kind: KindOther,
		},
		{
			name: "nop",
			code: []byte{0x90},
			va:   0x1000,
			op:   "nop",
			size: 1,
			kind: KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := dec.Decode(tt.code, tt.va)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if inst.Op != tt.op {
				t.Errorf("op = %q, want %q", inst.Op, tt.op)
			}
			if inst.Len != tt.size {
				t.Errorf("len = %d, want %d", inst.Len, tt.size)
			}
			if inst.Kind != tt.kind {
				t.Errorf("kind = %d, want %d", inst.Kind, tt.kind)
			}
			if inst.HasTarget != tt.hasTarget {
				t.Errorf("hasTarget = %v, want %v", inst.HasTarget, tt.hasTarget)
			}
			if tt.hasTarget && inst.Target != tt.target {
				t.Errorf("target = %#x, want %#x", inst.Target, tt.target)
			}
			if inst.VA != tt.va {
				t.Errorf("va = %#x, want %#x", inst.VA, tt.va)
			}
		})
	}
}

func TestAMD64DecodeInvalid(t *testing.T) {
	dec := AMD64{}
	if _, err := dec.Decode([]byte{0x06}, 0x1000); err == nil {
		t.Error("expected decode error for invalid 64-bit opcode 0x06")
	}
	if _, err := dec.Decode(nil, 0x1000); err == nil {
		t.Error("expected decode error for empty code")
	}
}

func TestIsEndbr64(t *testing.T) {
	if !IsEndbr64([]byte{0xf3, 0x0f, 0x1e, 0xfa, 0x90}) {
		t.Error("endbr64 prefix not recognised")
	}
	if IsEndbr64([]byte{0xf3, 0x0f, 0x1e, 0xfb}) {
		t.Error("endbr32 must not match endbr64")
	}
	if IsEndbr64([]byte{0xf3, 0x0f, 0x1e}) {
		t.Error("short buffer must not match")
	}
}

func TestNewDecoder(t *testing.T) {
	if dec, err := New(elf.EM_X86_64); err != nil || dec.Arch() != "amd64" {
		t.Errorf("New(EM_X86_64) = %v, %v", dec, err)
	}
	if dec, err := New(elf.EM_AARCH64); err != nil || dec.Arch() != "arm64" {
		t.Errorf("New(EM_AARCH64) = %v, %v", dec, err)
	}
	if _, err := New(elf.EM_386); err == nil {
		t.Error("New(EM_386) should fail")
	}
}
