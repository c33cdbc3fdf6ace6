// Package workspace models the on-disk layout produced by a memory
// snapshotting run: a workspace root holding a memory/ directory of
// per-mapping snapshot files and a trace_list address log next to it.
package workspace

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TraceListName is the address log file kept at the workspace root.
const TraceListName = "trace_list"

// Mapping describes one memory-region snapshot, decoded from its
// filename. Snapshot names are underscore-delimited:
// <base_hex>_<limit_hex>_<permA>_<permB>[_...].
type Mapping struct {
	Name  string
	Path  string
	Base  uint64
	Limit uint64
	// Perms is the concatenation of the third and fourth name fields.
	Perms string
	Flags elf.ProgFlag
}

// ParseMappingName decodes a snapshot filename. Names with fewer than
// four fields or a non-hex base field are malformed and fail the run;
// the limit field is decoded best-effort since extraction never reads it.
func ParseMappingName(name string) (Mapping, error) {
	fields := strings.Split(name, "_")
	if len(fields) < 4 {
		return Mapping{}, fmt.Errorf("malformed mapping name %q: want at least 4 underscore-delimited fields, got %d", name, len(fields))
	}
	base, err := strconv.ParseUint(fields[0], 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("malformed mapping name %q: bad base address: %v", name, err)
	}

	m := Mapping{
		Name:  name,
		Base:  base,
		Perms: fields[2] + fields[3],
	}
	if limit, err := strconv.ParseUint(fields[1], 16, 64); err == nil {
		m.Limit = limit
	}
	for _, c := range m.Perms {
		switch c {
		case 'r':
			m.Flags |= elf.PF_R
		case 'w':
			m.Flags |= elf.PF_W
		case 'x':
			m.Flags |= elf.PF_X
		}
	}
	return m, nil
}

// IsExecutable reports whether the permission fields carry the x bit.
func (m Mapping) IsExecutable() bool {
	return strings.ContainsRune(m.Perms, 'x')
}

// Contains reports whether va falls inside [Base, Limit).
func (m Mapping) Contains(va uint64) bool {
	return va >= m.Base && va < m.Limit
}

// String renders the mapping in /proc/pid/maps style.
func (m Mapping) String() string {
	return fmt.Sprintf("%x-%x %s", m.Base, m.Limit, m.Perms)
}

// List reads the memory directory and decodes every entry name, in
// lexicographic order. A single malformed name fails the whole listing.
func List(memoryDir string) ([]Mapping, error) {
	entries, err := os.ReadDir(memoryDir)
	if err != nil {
		return nil, fmt.Errorf("read memory directory: %w", err)
	}

	mappings := make([]Mapping, 0, len(entries))
	for _, e := range entries {
		m, err := ParseMappingName(e.Name())
		if err != nil {
			return nil, err
		}
		m.Path = filepath.Join(memoryDir, e.Name())
		mappings = append(mappings, m)
	}
	return mappings, nil
}

// TraceListPath derives the address log location from the memory
// directory path: the log lives in the parent workspace directory,
// next to memory/, never inside it.
func TraceListPath(memoryDir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(memoryDir)), TraceListName)
}

// MemoryDir returns the snapshot directory under a workspace root.
func MemoryDir(root string) string {
	return filepath.Join(root, "memory")
}

// TraceList returns the address log path under a workspace root.
func TraceList(root string) string {
	return filepath.Join(root, TraceListName)
}
