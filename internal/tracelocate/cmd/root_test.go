package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tracelocate/internal/elfx/elftest"
)

// selfCallCode calls its own entry and returns, so the only function
// the scan recovers is the symbol itself.
var selfCallCode = []byte{
	0xe8, 0xfb, 0xff, 0xff, 0xff, // call .-5 (the entry)
	0xc3, // ret
}

// writeWorkspace builds a workspace with one scannable snapshot, one
// snapshot that is not an ELF and one non-executable snapshot.
func writeWorkspace(t *testing.T) (root, memoryDir string) {
	t.Helper()

	root = t.TempDir()
	memoryDir = filepath.Join(root, "memory")
	if err := os.Mkdir(memoryDir, 0o755); err != nil {
		t.Fatal(err)
	}

	img := elftest.Image{
		TextVA: 0x10,
		Code:   selfCallCode,
		Syms:   []elftest.Sym{{Name: "main", Value: 0x10, Size: uint64(len(selfCallCode))}},
	}
	files := map[string][]byte{
		"400000_405000_r_x":  img.Bytes(),
		"500000_501000_r_x":  []byte("not an elf"),
		"600000_601000_rw_p": []byte("data"),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(memoryDir, name), content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root, memoryDir
}

func TestRunScan(t *testing.T) {
	root, memoryDir := writeWorkspace(t)
	listPath := filepath.Join(root, "trace_list")

	if err := runScan(context.Background(), memoryDir, 1, false, true); err != nil {
		t.Fatalf("runScan() error = %v", err)
	}

	want := "======TRACE=ADDRESSES======\n0x400010\n0x400015\n"
	got, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Errorf("trace list = %q, want %q", got, want)
	}

	// A second scan appends another run to the same list
	if err := runScan(context.Background(), memoryDir, 1, false, true); err != nil {
		t.Fatalf("second runScan() error = %v", err)
	}
	got, err = os.ReadFile(listPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want+want {
		t.Errorf("trace list after second run = %q, want %q", got, want+want)
	}
}

func TestRunScanDryRun(t *testing.T) {
	root, memoryDir := writeWorkspace(t)

	// Capture stdout
	var buf bytes.Buffer
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	err := runScan(context.Background(), memoryDir, 1, true, true)

	w.Close()
	os.Stdout = old
	buf.ReadFrom(r)

	if err != nil {
		t.Fatalf("runScan() error = %v", err)
	}
	if got, want := buf.String(), "0x400010\n0x400015\n"; got != want {
		t.Errorf("dry run output = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(root, "trace_list")); !os.IsNotExist(err) {
		t.Errorf("dry run should not create the trace list, stat err = %v", err)
	}
}

func TestRunScanEmptyMemoryDir(t *testing.T) {
	root := t.TempDir()
	memoryDir := filepath.Join(root, "memory")
	if err := os.Mkdir(memoryDir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := runScan(context.Background(), memoryDir, 1, false, true); err != nil {
		t.Fatalf("runScan() error = %v", err)
	}

	// Even an empty scan marks the run with a header
	got, err := os.ReadFile(filepath.Join(root, "trace_list"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "======TRACE=ADDRESSES======\n"; string(got) != want {
		t.Errorf("trace list = %q, want %q", got, want)
	}
}

func TestRunScanMalformedNameAborts(t *testing.T) {
	root := t.TempDir()
	memoryDir := filepath.Join(root, "memory")
	if err := os.Mkdir(memoryDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(memoryDir, "badname"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	err := runScan(context.Background(), memoryDir, 1, false, true)
	if err == nil {
		t.Fatal("runScan() expected error for malformed mapping name")
	}
	if !strings.Contains(err.Error(), "malformed mapping name") {
		t.Errorf("error = %v, want malformed mapping name", err)
	}
	if _, err := os.Stat(filepath.Join(root, "trace_list")); !os.IsNotExist(err) {
		t.Errorf("aborted run should not create the trace list, stat err = %v", err)
	}
}

func TestRunScanParallelMatchesSequential(t *testing.T) {
	root, memoryDir := writeWorkspace(t)

	if err := runScan(context.Background(), memoryDir, 4, false, true); err != nil {
		t.Fatalf("runScan() error = %v", err)
	}

	want := "======TRACE=ADDRESSES======\n0x400010\n0x400015\n"
	got, err := os.ReadFile(filepath.Join(root, "trace_list"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Errorf("parallel trace list = %q, want %q", got, want)
	}
}
