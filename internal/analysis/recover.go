package analysis

import (
	"sort"

	"tracelocate/internal/disasm"
	"tracelocate/internal/elfx"
)

// recovery walks control flow from seed addresses and partitions the
// reachable instructions into basic blocks.
type recovery struct {
	img     *elfx.Image
	dec     disasm.Decoder
	entries []uint64 // sorted function entries, bounds each other

	// call and tail-call targets found while decoding, consumed by the
	// next seed round
	callTargets map[uint64]bool
}

func newRecovery(img *elfx.Image, dec disasm.Decoder) *recovery {
	return &recovery{
		img:         img,
		dec:         dec,
		callTargets: make(map[uint64]bool),
	}
}

// run recovers a function per seed, then keeps recovering the call
// targets those functions reveal until no new entries appear.
func (r *recovery) run(seeds []Seed) []Function {
	queue := dedupSeeds(seeds)
	done := make(map[uint64]bool, len(queue))

	var funcs []Function
	for round := 0; round < MaxSeedRounds && len(queue) > 0; round++ {
		r.rebuildEntries(done, queue)

		for _, s := range queue {
			if done[s.VA] {
				continue
			}
			done[s.VA] = true
			fn, ok := r.recoverFunction(s)
			if !ok {
				continue
			}
			funcs = append(funcs, fn)
		}

		queue = queue[:0]
		for va := range r.callTargets {
			if !done[va] {
				queue = append(queue, Seed{VA: va, Source: "calltarget"})
			}
		}
		sort.Slice(queue, func(i, j int) bool { return queue[i].VA < queue[j].VA })
		r.callTargets = make(map[uint64]bool)
	}

	sort.Slice(funcs, func(i, j int) bool { return funcs[i].Entry < funcs[j].Entry })
	return funcs
}

// recoverFunction decodes every instruction reachable from the seed
// without leaving the function, then cuts the result into blocks.
func (r *recovery) recoverFunction(s Seed) (Function, bool) {
	sec, ok := r.img.ExecFor(s.VA)
	if !ok {
		return Function{}, false
	}
	limit := r.limitFor(s.VA, sec)

	insts := make(map[uint64]disasm.Inst)
	leaders := map[uint64]bool{s.VA: true}
	work := []uint64{s.VA}

	for len(work) > 0 {
		va := work[len(work)-1]
		work = work[:len(work)-1]

		for va < limit && len(insts) < MaxFunctionInstructions {
			if _, seen := insts[va]; seen {
				break // flowed into already decoded code
			}
			n := limit - va
			if n > MaxDecodeBytes {
				n = MaxDecodeBytes
			}
			code, ok := r.img.SliceVA(va, n)
			if !ok {
				break
			}
			in, err := r.dec.Decode(code, va)
			if err != nil {
				break // undecodable bytes end the block
			}
			insts[va] = in
			next := va + uint64(in.Len)

			switch in.Kind {
			case disasm.KindCall:
				if in.HasTarget && r.img.InExec(in.Target) {
					r.callTargets[in.Target] = true
				}
				va = next
				continue
			case disasm.KindJump:
				if in.HasTarget {
					if in.Target >= s.VA && in.Target < limit {
						if !leaders[in.Target] {
							leaders[in.Target] = true
							work = append(work, in.Target)
						}
					} else if r.img.InExec(in.Target) {
						// jump out of the function is a tail call
						r.callTargets[in.Target] = true
					}
				}
			case disasm.KindBranch:
				if in.HasTarget && in.Target >= s.VA && in.Target < limit && !leaders[in.Target] {
					leaders[in.Target] = true
					work = append(work, in.Target)
				}
				if next < limit && !leaders[next] {
					leaders[next] = true
					work = append(work, next)
				}
			case disasm.KindRet:
			default:
				va = next
				continue
			}
			break // terminator reached
		}
	}

	if len(insts) == 0 {
		return Function{}, false
	}

	name := s.Name
	if name == "" {
		name = FunctionName(r.img, s.VA)
	}
	return Function{
		Entry:  s.VA,
		Name:   name,
		Source: s.Source,
		Blocks: partition(insts, leaders),
	}, true
}

// limitFor bounds a function by its section end, the next known entry
// and the global size cap, whichever comes first.
func (r *recovery) limitFor(entry uint64, sec elfx.Section) uint64 {
	limit := sec.VA + sec.Size
	if hard := entry + MaxFunctionBytes; hard < limit {
		limit = hard
	}
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i] > entry })
	if i < len(r.entries) && r.entries[i] < limit {
		limit = r.entries[i]
	}
	return limit
}

func (r *recovery) rebuildEntries(done map[uint64]bool, queue []Seed) {
	r.entries = r.entries[:0]
	for va := range done {
		r.entries = append(r.entries, va)
	}
	for _, s := range queue {
		r.entries = append(r.entries, s.VA)
	}
	sort.Slice(r.entries, func(i, j int) bool { return r.entries[i] < r.entries[j] })
}

// partition cuts the decoded instructions into basic blocks. A block
// starts at every leader and ends at a terminator or a gap in the
// address stream.
func partition(insts map[uint64]disasm.Inst, leaders map[uint64]bool) []BasicBlock {
	vas := make([]uint64, 0, len(insts))
	for va := range insts {
		vas = append(vas, va)
	}
	sort.Slice(vas, func(i, j int) bool { return vas[i] < vas[j] })

	var blocks []BasicBlock
	var cur *BasicBlock
	var prevEnd uint64
	prevTerm := true
	for _, va := range vas {
		in := insts[va]
		if cur == nil || leaders[va] || prevTerm || va != prevEnd {
			blocks = append(blocks, BasicBlock{Start: va})
			cur = &blocks[len(blocks)-1]
		}
		cur.Insts = append(cur.Insts, Instruction{VA: va, Mnemonic: in.Op, Size: in.Len})
		prevEnd = va + uint64(in.Len)
		prevTerm = isTerminator(in.Kind)
	}
	return blocks
}

func isTerminator(k disasm.Kind) bool {
	switch k {
	case disasm.KindJump, disasm.KindBranch, disasm.KindRet:
		return true
	}
	return false
}

func dedupSeeds(seeds []Seed) []Seed {
	seen := make(map[uint64]bool, len(seeds))
	out := seeds[:0]
	for _, s := range seeds {
		if seen[s.VA] {
			continue
		}
		seen[s.VA] = true
		out = append(out, s)
	}
	return out
}
