// Package trace extracts trace addresses from the executable mappings
// of a memory dump and maintains the workspace trace list.
//
// A trace address is either the start of a recovered basic block or
// the return address of a call instruction. Consumers replay them to
// decide where lifting should begin inside each mapping.
package trace

import (
	"tracelocate/internal/analysis"
	"tracelocate/internal/logging"
	"tracelocate/internal/workspace"
)

// Extractor collects trace addresses from analyzed images.
type Extractor struct {
	engine analysis.Engine
}

// NewExtractor returns an extractor backed by the given engine.
func NewExtractor(engine analysis.Engine) *Extractor {
	return &Extractor{engine: engine}
}

// Mapping extracts the traces of one mapping. A mapping whose image
// cannot be analyzed yields no traces; memory dumps routinely contain
// truncated or non-ELF files and those are skipped quietly.
func (e *Extractor) Mapping(m workspace.Mapping) []uint64 {
	img, err := e.engine.Load(m.Path)
	if err != nil {
		if logging.IsDebug() {
			lg := logging.NewLogger()
			lg.Debug("skipping mapping", "name", m.Name, "err", err)
		}
		return nil
	}
	return Collect(img, m.Base)
}

// Collect walks every basic block of an analyzed image and records its
// trace addresses against the mapping base, in discovery order.
//
// Engines report addresses differently depending on the image type: a
// position-dependent executable carries absolute virtual addresses
// while a shared object carries file-relative ones. An address above
// the base is taken as already absolute; anything else is rebased.
func Collect(img *analysis.Image, base uint64) []uint64 {
	var traces []uint64
	for _, fn := range img.Functions() {
		for _, blk := range fn.Blocks {
			start := blk.Start
			if blk.Start <= base {
				start = base + blk.Start
			}
			traces = append(traces, start)

			pc := start
			for _, in := range blk.Insts {
				pc += uint64(in.Size)
				if in.Mnemonic == "call" {
					// pc sits one past the call: the return address.
					traces = append(traces, pc)
				}
			}
		}
	}
	return traces
}
