package disasm

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"
)

// RunParallel explores one breadth-first level at a time. Every address of a
// level is built concurrently, each with its own Session from factory, and
// the outcomes are then merged in worklist order. Merging is sequential, so
// the result matches Run exactly. workers <= 1 falls back to Run.
func (e *Exploration) RunParallel(ctx context.Context, factory SessionFactory, workers int) (*Result, error) {
	if workers <= 1 {
		return e.Run(ctx, factory)
	}
	if err := e.start(); err != nil {
		return nil, err
	}
	defer e.done()

	for len(e.worklist) > 0 && !e.limitReached() {
		if err := ctx.Err(); err != nil {
			return e.finish(), err
		}

		n := len(e.worklist)
		if e.opts.maxBlocks > 0 {
			n = min(n, e.opts.maxBlocks-e.attempted)
		}
		level := e.worklist[:n]
		e.worklist = e.worklist[n:]

		blocks := make([]*BasicBlock, n)
		errs := make([]error, n)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i, addr := range level {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				blocks[i], errs[i] = BuildBlockN(factory(), addr, e.opts.maxBlockInsts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			e.worklist = slices.Concat(level, e.worklist)
			return e.finish(), err
		}

		for i, addr := range level {
			if err := e.record(addr, blocks[i], errs[i]); err != nil {
				// Unrecorded addresses go back to the front, where Run leaves them.
				e.worklist = slices.Concat(level[i+1:], e.worklist)
				return e.finish(), err
			}
		}
	}
	return e.finish(), nil
}
