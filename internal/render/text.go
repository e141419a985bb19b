package render

import (
	"fmt"
	"io"

	"cfgwalk/internal/cfgwalk/styles"
	"cfgwalk/internal/disasm"
	"cfgwalk/internal/ui/colorize"
)

// Text writes one section per block in discovery order, followed by the
// failures, fenced-off targets and unexplored addresses.
func Text(w io.Writer, res *disasm.Result, opts Options) error {
	ew := &errWriter{w: w}
	for i, b := range res.Blocks {
		if i > 0 {
			ew.println("")
		}
		ew.println(blockHeader(b, opts))
		Listing(ew, b.Insts, opts)
	}

	if len(res.Failures) > 0 {
		ew.println("")
		for _, f := range res.Failures {
			line := fmt.Sprintf("; failed %#x (%s): %v", f.Addr, f.Kind, f.Err)
			if opts.Color {
				line = styles.Failure.Render(line)
			}
			ew.println(line)
		}
	}
	if len(res.External) > 0 {
		ew.println(muted(opts, "; external "+addrList(res.External)))
	}
	if len(res.Pending) > 0 {
		ew.println(muted(opts, "; unexplored "+addrList(res.Pending)))
	}
	ew.println(muted(opts, fmt.Sprintf("; %d blocks, %d addresses, %d failures",
		len(res.Blocks), len(res.Discovered), len(res.Failures))))
	return ew.err
}

func blockHeader(b *disasm.BasicBlock, opts Options) string {
	name := fmt.Sprintf("block %#x-%#x", b.Begin, b.End)
	if l := opts.label(b.Begin); l != "" {
		name += " <" + l + ">"
	}
	succ := "-> " + addrList(b.Successors)
	if b.Bounded {
		succ += " (split)"
	}
	if !opts.Color {
		return "; " + name + " " + succ
	}
	return styles.BlockHeader.Render(name) + " " + styles.Successor.Render(succ)
}

func muted(opts Options, s string) string {
	if opts.Color {
		return styles.Muted.Render(s)
	}
	return s
}

// Listing writes one line per instruction.
func Listing(w io.Writer, insts disasm.Stream, opts Options) error {
	ew, ok := w.(*errWriter)
	if !ok {
		ew = &errWriter{w: w}
	}
	for _, inst := range insts {
		line := instLine(inst, opts)
		if opts.Color {
			line = colorize.InstructionLine(line, opts.Arch)
		}
		ew.println(line)
	}
	return ew.err
}

// errWriter keeps the first write error and drops everything after it.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	ew.err = err
	return n, err
}

func (ew *errWriter) println(s string) {
	fmt.Fprintln(ew, s)
}
