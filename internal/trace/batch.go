package trace

import (
	"tracelocate/internal/workspace"
)

// Batch groups consecutive addresses that fall inside one mapping.
// Consumers lift traces mapping by mapping, so batching preserves the
// list order and only cuts it at mapping boundaries.
type Batch struct {
	Mapping workspace.Mapping
	Known   bool // false when no mapping contains the addresses
	Addrs   []uint64
}

// BatchByMapping cuts addrs into batches at mapping boundaries.
// Addresses outside every mapping collect into unattributed batches
// rather than being dropped; they usually point at ranges the dump
// did not capture.
func BatchByMapping(addrs []uint64, mappings []workspace.Mapping) []Batch {
	var batches []Batch
	for _, addr := range addrs {
		m, ok := mappingFor(addr, mappings)
		if n := len(batches); n > 0 {
			last := &batches[n-1]
			if last.Known == ok && (!ok || last.Mapping.Name == m.Name) {
				last.Addrs = append(last.Addrs, addr)
				continue
			}
		}
		batches = append(batches, Batch{Mapping: m, Known: ok, Addrs: []uint64{addr}})
	}
	return batches
}

func mappingFor(addr uint64, mappings []workspace.Mapping) (workspace.Mapping, bool) {
	for _, m := range mappings {
		if m.Contains(addr) {
			return m, true
		}
	}
	return workspace.Mapping{}, false
}
