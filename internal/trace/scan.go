package trace

import (
	"context"

	"golang.org/x/sync/errgroup"

	"tracelocate/internal/analysis"
	"tracelocate/internal/workspace"
)

// Result holds the traces extracted from one executable mapping.
type Result struct {
	Mapping workspace.Mapping
	Traces  []uint64
}

// Scan extracts traces from every executable mapping. jobs bounds how
// many images are analyzed concurrently; values below 2 scan
// sequentially. Results always come back in mapping order, so a
// parallel scan produces the same trace list a sequential one does.
func Scan(ctx context.Context, engine analysis.Engine, mappings []workspace.Mapping, jobs int) ([]Result, error) {
	execs := make([]workspace.Mapping, 0, len(mappings))
	for _, m := range mappings {
		if m.IsExecutable() {
			execs = append(execs, m)
		}
	}

	ext := NewExtractor(engine)
	results := make([]Result, len(execs))

	if jobs < 2 || len(execs) < 2 {
		for i, m := range execs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			results[i] = Result{Mapping: m, Traces: ext.Mapping(m)}
		}
		return results, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, m := range execs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = Result{Mapping: m, Traces: ext.Mapping(m)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Flatten concatenates per-mapping traces in mapping order.
func Flatten(results []Result) []uint64 {
	var out []uint64
	for _, r := range results {
		out = append(out, r.Traces...)
	}
	return out
}
