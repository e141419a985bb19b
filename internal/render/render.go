// Package render formats exploration results as listings, JSON, Graphviz
// DOT and markdown reports.
package render

import (
	"fmt"
	"strings"

	"cfgwalk/internal/disasm"
)

// Labeler names addresses, usually from a symbol table.
type Labeler interface {
	Label(va uint64) string
}

// Options control every renderer.
type Options struct {
	Arch   string  // selects the highlighter
	Labels Labeler // may be nil
	Color  bool
	Insts  bool // include instructions in JSON output
}

func (o Options) label(va uint64) string {
	if o.Labels == nil {
		return ""
	}
	return o.Labels.Label(va)
}

// addrList formats addresses as "0x1000, 0x2000", or "-" when empty.
func addrList(addrs []uint64) string {
	if len(addrs) == 0 {
		return "-"
	}
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = fmt.Sprintf("%#x", a)
	}
	return strings.Join(parts, ", ")
}

// instLine is the uncoloured listing line with an optional target label.
func instLine(inst disasm.Inst, opts Options) string {
	line := inst.String()
	if inst.HasTarget {
		if l := opts.label(inst.Target); l != "" {
			line += " ; " + l
		}
	}
	return line
}
