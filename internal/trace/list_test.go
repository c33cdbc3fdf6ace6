package trace

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"tracelocate/internal/workspace"
)

func TestAppendFileAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace_list")

	if err := AppendFile(path, []uint64{0x400000, 0x400005}); err != nil {
		t.Fatal(err)
	}
	if err := AppendFile(path, []uint64{0x7f0000001000}); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "======TRACE=ADDRESSES======\n" +
		"0x400000\n" +
		"0x400005\n" +
		"======TRACE=ADDRESSES======\n" +
		"0x7f0000001000\n"
	if string(data) != want {
		t.Errorf("file contents:\n%q\nwant:\n%q", data, want)
	}

	runs, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if !reflect.DeepEqual(runs[0].Addrs, []uint64{0x400000, 0x400005}) {
		t.Errorf("run 0 = %#x", runs[0].Addrs)
	}
	if !reflect.DeepEqual(runs[1].Addrs, []uint64{0x7f0000001000}) {
		t.Errorf("run 1 = %#x", runs[1].Addrs)
	}
}

func TestAppendFileEmptyRun(t *testing.T) {
	// A scan that found nothing still appends its header, so the list
	// records that the run happened.
	path := filepath.Join(t.TempDir(), "trace_list")
	if err := AppendFile(path, nil); err != nil {
		t.Fatal(err)
	}

	runs, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || len(runs[0].Addrs) != 0 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestParseListLegacyForms(t *testing.T) {
	input := Header + "\n" +
		"0x400000L\n" + // python long suffix
		"400005\n" + // bare hex
		"DEAD\n" + // uppercase hex
		"\n" // blank line
	runs, err := ParseList(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{0x400000, 0x400005, 0xdead}
	if len(runs) != 1 || !reflect.DeepEqual(runs[0].Addrs, want) {
		t.Errorf("runs = %+v, want addrs %#x", runs, want)
	}
}

func TestParseListErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"address before header", "0x400000\n"},
		{"garbage line", Header + "\nzzzz\n"},
		{"negative", Header + "\n-1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseList(strings.NewReader(tc.input)); err == nil {
				t.Errorf("ParseList(%q) succeeded", tc.input)
			}
		})
	}
}

func TestParseAddr(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"0x400000", 0x400000, true},
		{"400000", 0x400000, true},
		{"0x400000L", 0x400000, true},
		{"0", 0, true},
		{"", 0, false},
		{"0x", 0, false},
		{"L", 0, false},
		{"xyz", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAddr(tc.in)
		if tc.ok != (err == nil) {
			t.Errorf("ParseAddr(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseAddr(%q) = %#x, want %#x", tc.in, got, tc.want)
		}
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("expected an error for a missing list")
	}
}

func TestBatchByMapping(t *testing.T) {
	maps := []workspace.Mapping{
		{Name: "400000_500000_r_x", Base: 0x400000, Limit: 0x500000, Perms: "rx"},
		{Name: "600000_700000_r_x", Base: 0x600000, Limit: 0x700000, Perms: "rx"},
	}
	addrs := []uint64{
		0x400000, 0x400005, // first mapping
		0x600010, 0x600020, // second mapping
		0x400008,                   // back to the first: a new batch
		0xdeadbeef00, 0xdeadbeef08, // outside every mapping
	}

	batches := BatchByMapping(addrs, maps)
	if len(batches) != 4 {
		t.Fatalf("got %d batches, want 4: %+v", len(batches), batches)
	}

	want := []struct {
		name  string
		known bool
		addrs []uint64
	}{
		{"400000_500000_r_x", true, []uint64{0x400000, 0x400005}},
		{"600000_700000_r_x", true, []uint64{0x600010, 0x600020}},
		{"400000_500000_r_x", true, []uint64{0x400008}},
		{"", false, []uint64{0xdeadbeef00, 0xdeadbeef08}},
	}
	for i, w := range want {
		b := batches[i]
		if b.Known != w.known || b.Mapping.Name != w.name || !reflect.DeepEqual(b.Addrs, w.addrs) {
			t.Errorf("batch %d = %+v, want %+v", i, b, w)
		}
	}
}

func TestBatchByMappingEmpty(t *testing.T) {
	if got := BatchByMapping(nil, nil); len(got) != 0 {
		t.Errorf("batches = %+v", got)
	}
}
