package disasm

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/charmbracelet/log"
)

// State is the lifecycle stage of an Exploration.
type State int

const (
	StatePending State = iota
	StateExploring
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExploring:
		return "exploring"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// AddressSet is a set of virtual addresses.
type AddressSet map[uint64]struct{}

// Add inserts addr and reports whether it was absent.
func (s AddressSet) Add(addr uint64) bool {
	if _, ok := s[addr]; ok {
		return false
	}
	s[addr] = struct{}{}
	return true
}

// Contains reports whether addr is in the set.
func (s AddressSet) Contains(addr uint64) bool {
	_, ok := s[addr]
	return ok
}

// Sorted returns the addresses in ascending order.
func (s AddressSet) Sorted() []uint64 {
	out := make([]uint64, 0, len(s))
	for addr := range s {
		out = append(out, addr)
	}
	slices.Sort(out)
	return out
}

// Failure records an address whose block could not be built.
type Failure struct {
	Addr uint64
	Kind ErrorKind
	Err  error
}

// Result is the outcome of one exploration run.
type Result struct {
	Seed uint64
	// Blocks in the order they were built.
	Blocks []*BasicBlock
	// Discovered holds every address ever enqueued, the seed included.
	Discovered AddressSet
	Failures   []Failure
	// External lists successor addresses rejected by the fence.
	External []uint64
	// Pending lists addresses still queued when a block limit stopped the run.
	Pending []uint64

	index map[uint64]int
}

// Block returns the block starting at addr.
func (r *Result) Block(addr uint64) (*BasicBlock, bool) {
	if r.index == nil {
		r.index = make(map[uint64]int, len(r.Blocks))
		for i, b := range r.Blocks {
			r.index[b.Begin] = i
		}
	}
	i, ok := r.index[addr]
	if !ok {
		return nil, false
	}
	return r.Blocks[i], true
}

// Failed reports whether addr is recorded as a failure.
func (r *Result) Failed(addr uint64) (Failure, bool) {
	for _, f := range r.Failures {
		if f.Addr == addr {
			return f, true
		}
	}
	return Failure{}, false
}

type options struct {
	maxBlocks     int
	maxBlockInsts int
	fenced        bool
	fenceLo       uint64
	fenceHi       uint64
	strict        bool
	logger        *log.Logger
}

// Option configures an Exploration.
type Option func(*options)

// WithMaxBlocks stops the run after n blocks have been attempted. Zero means
// no limit.
func WithMaxBlocks(n int) Option {
	return func(o *options) { o.maxBlocks = n }
}

// WithMaxBlockInsts caps the number of instructions per block.
func WithMaxBlockInsts(n int) Option {
	return func(o *options) { o.maxBlockInsts = n }
}

// WithFence restricts exploration to successors in [lo, hi).
func WithFence(lo, hi uint64) Option {
	return func(o *options) {
		o.fenced = true
		o.fenceLo = lo
		o.fenceHi = hi
	}
}

// WithStrict makes the first failed block abort the run.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithLogger sets the logger used for per-block progress.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Exploration is the per-run context of a breadth-first graph walk: the
// worklist, the discovered set, and the collected results. It is used once.
type Exploration struct {
	opts       options
	state      State
	seed       uint64
	worklist   []uint64
	discovered AddressSet
	external   AddressSet
	result     *Result
	attempted  int
}

// NewExploration prepares a run from seed. The seed counts as discovered.
func NewExploration(seed uint64, opts ...Option) *Exploration {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard)
	}
	e := &Exploration{
		opts:       o,
		state:      StatePending,
		seed:       seed,
		worklist:   []uint64{seed},
		discovered: AddressSet{seed: {}},
		external:   AddressSet{},
		result:     &Result{Seed: seed},
	}
	return e
}

// State returns the current lifecycle stage.
func (e *Exploration) State() State { return e.state }

func (e *Exploration) start() error {
	if e.state != StatePending {
		return ErrAlreadyRun
	}
	e.state = StateExploring
	e.opts.logger.Debug("exploring", "seed", hexAddr(e.seed))
	return nil
}

// Run explores sequentially: each address is popped in FIFO order, its block
// built with a fresh Session from factory, and new successors enqueued before
// the next pop. A cancelled ctx stops the run between blocks and the partial
// result is returned with the context error.
func (e *Exploration) Run(ctx context.Context, factory SessionFactory) (*Result, error) {
	if err := e.start(); err != nil {
		return nil, err
	}
	defer e.done()

	for len(e.worklist) > 0 && !e.limitReached() {
		if err := ctx.Err(); err != nil {
			return e.finish(), err
		}
		addr := e.worklist[0]
		e.worklist = e.worklist[1:]

		block, buildErr := BuildBlockN(factory(), addr, e.opts.maxBlockInsts)
		if err := e.record(addr, block, buildErr); err != nil {
			return e.finish(), err
		}
	}
	return e.finish(), nil
}

func (e *Exploration) limitReached() bool {
	return e.opts.maxBlocks > 0 && e.attempted >= e.opts.maxBlocks
}

// record applies the outcome of one block build. It is the only place the
// discovered set and worklist change after construction.
func (e *Exploration) record(addr uint64, block *BasicBlock, err error) error {
	e.attempted++
	if err != nil {
		kind := KindOf(err)
		e.opts.logger.Warn("block failed", "addr", hexAddr(addr), "kind", kind, "err", err)
		e.result.Failures = append(e.result.Failures, Failure{Addr: addr, Kind: kind, Err: err})
		if e.opts.strict {
			return fmt.Errorf("explore %#x: %w", addr, err)
		}
		return nil
	}

	for _, succ := range block.Successors {
		if e.opts.fenced && (succ < e.opts.fenceLo || succ >= e.opts.fenceHi) {
			if e.external.Add(succ) {
				e.result.External = append(e.result.External, succ)
			}
			continue
		}
		if e.discovered.Add(succ) {
			e.worklist = append(e.worklist, succ)
		}
	}
	e.result.Blocks = append(e.result.Blocks, block)
	e.opts.logger.Debug("block",
		"begin", hexAddr(block.Begin),
		"end", hexAddr(block.End),
		"insts", len(block.Insts),
		"succs", len(block.Successors))
	return nil
}

func (e *Exploration) finish() *Result {
	e.result.Discovered = e.discovered
	e.result.Pending = slices.Clone(e.worklist)
	return e.result
}

func (e *Exploration) done() {
	e.state = StateDone
	e.opts.logger.Debug("exploration done",
		"blocks", len(e.result.Blocks),
		"failures", len(e.result.Failures),
		"discovered", len(e.discovered))
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("%#x", addr)
}
