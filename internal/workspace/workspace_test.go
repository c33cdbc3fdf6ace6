package workspace

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"
)

func TestParseMappingName(t *testing.T) {
	tests := []struct {
		name    string
		mapping string
		base    uint64
		limit   uint64
		perms   string
		exec    bool
		wantErr bool
	}{
		{
			name:    "executable mapping",
			mapping: "400000_7f2a_r_x",
			base:    0x400000,
			limit:   0x7f2a,
			perms:   "rx",
			exec:    true,
		},
		{
			name:    "read-write mapping",
			mapping: "400000_7f2a_rw_",
			base:    0x400000,
			limit:   0x7f2a,
			perms:   "rw",
			exec:    false,
		},
		{
			name:    "full rwx permissions",
			mapping: "7f0000000000_7f0000001000_rw_x",
			base:    0x7f0000000000,
			limit:   0x7f0000001000,
			perms:   "rwx",
			exec:    true,
		},
		{
			name:    "trailing fields ignored",
			mapping: "400000_401000_r_x_deleted",
			base:    0x400000,
			limit:   0x401000,
			perms:   "rx",
			exec:    true,
		},
		{
			name:    "empty permission fields",
			mapping: "400000_401000__",
			base:    0x400000,
			limit:   0x401000,
			perms:   "",
			exec:    false,
		},
		{
			name:    "too few fields",
			mapping: "400000_401000_rx",
			wantErr: true,
		},
		{
			name:    "no fields",
			mapping: "mapping",
			wantErr: true,
		},
		{
			name:    "non-hex base",
			mapping: "zzz_401000_r_x",
			wantErr: true,
		},
		{
			name:    "non-hex limit tolerated",
			mapping: "400000_bogus_r_x",
			base:    0x400000,
			limit:   0,
			perms:   "rx",
			exec:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseMappingName(tt.mapping)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMappingName(%q): expected error, got %+v", tt.mapping, m)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMappingName(%q): %v", tt.mapping, err)
			}
			if m.Base != tt.base {
				t.Errorf("base = %#x, want %#x", m.Base, tt.base)
			}
			if m.Limit != tt.limit {
				t.Errorf("limit = %#x, want %#x", m.Limit, tt.limit)
			}
			if m.Perms != tt.perms {
				t.Errorf("perms = %q, want %q", m.Perms, tt.perms)
			}
			if m.IsExecutable() != tt.exec {
				t.Errorf("IsExecutable() = %v, want %v", m.IsExecutable(), tt.exec)
			}
		})
	}
}

func TestMappingFlags(t *testing.T) {
	m, err := ParseMappingName("400000_401000_rw_x")
	if err != nil {
		t.Fatal(err)
	}
	want := elf.PF_R | elf.PF_W | elf.PF_X
	if m.Flags != want {
		t.Errorf("flags = %v, want %v", m.Flags, want)
	}
}

func TestMappingContains(t *testing.T) {
	m := Mapping{Base: 0x400000, Limit: 0x401000}

	tests := []struct {
		va   uint64
		want bool
	}{
		{0x3fffff, false},
		{0x400000, true},
		{0x400fff, true},
		{0x401000, false},
	}
	for _, tt := range tests {
		if got := m.Contains(tt.va); got != tt.want {
			t.Errorf("Contains(%#x) = %v, want %v", tt.va, got, tt.want)
		}
	}
}

func TestTraceListPath(t *testing.T) {
	tests := []struct {
		name string
		dir  string
		want string
	}{
		{
			name: "trailing slash",
			dir:  "./ws/memory/",
			want: filepath.Join("ws", "trace_list"),
		},
		{
			name: "clean relative",
			dir:  "ws/memory",
			want: filepath.Join("ws", "trace_list"),
		},
		{
			name: "absolute",
			dir:  "/tmp/ws/memory",
			want: "/tmp/ws/trace_list",
		},
		{
			name: "nested workspace",
			dir:  "/data/runs/run1/memory",
			want: "/data/runs/run1/trace_list",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TraceListPath(tt.dir); got != tt.want {
				t.Errorf("TraceListPath(%q) = %q, want %q", tt.dir, got, tt.want)
			}
		})
	}
}

func TestWorkspacePaths(t *testing.T) {
	if got := MemoryDir("/ws"); got != filepath.Join("/ws", "memory") {
		t.Errorf("MemoryDir = %q", got)
	}
	if got := TraceList("/ws"); got != filepath.Join("/ws", "trace_list") {
		t.Errorf("TraceList = %q", got)
	}
	// TraceListPath and TraceList must agree on the same workspace.
	if TraceListPath(MemoryDir("/ws")) != TraceList("/ws") {
		t.Error("TraceListPath(MemoryDir(root)) != TraceList(root)")
	}
}

func TestList(t *testing.T) {
	dir, err := os.MkdirTemp("", "workspace-list-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	// Created out of order on purpose; listing must come back sorted.
	names := []string{
		"7f0000000000_7f0000001000_r_x",
		"400000_401000_r_x",
		"600000_601000_rw_",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0}, 0644); err != nil {
			t.Fatal(err)
		}
	}

	mappings, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(mappings) != 3 {
		t.Fatalf("got %d mappings, want 3", len(mappings))
	}

	wantOrder := []uint64{0x400000, 0x600000, 0x7f0000000000}
	for i, m := range mappings {
		if m.Base != wantOrder[i] {
			t.Errorf("mapping %d base = %#x, want %#x", i, m.Base, wantOrder[i])
		}
		if m.Path != filepath.Join(dir, m.Name) {
			t.Errorf("mapping %d path = %q", i, m.Path)
		}
	}

	execs := 0
	for _, m := range mappings {
		if m.IsExecutable() {
			execs++
		}
	}
	if execs != 2 {
		t.Errorf("got %d executable mappings, want 2", execs)
	}
}

func TestListMalformedName(t *testing.T) {
	dir, err := os.MkdirTemp("", "workspace-malformed-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	for _, name := range []string{"400000_401000_r_x", "junkfile"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0}, 0644); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := List(dir); err == nil {
		t.Fatal("List should fail on a malformed mapping name")
	}
}
