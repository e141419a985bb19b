package render

import (
	"fmt"
	"io"
	"strings"

	"cfgwalk/internal/disasm"
)

// DOT writes res as a Graphviz digraph. Each block is a record node holding
// its listing; failed and fenced-off addresses get their own styled nodes.
func DOT(w io.Writer, res *disasm.Result, opts Options) error {
	ew := &errWriter{w: w}
	fmt.Fprintf(ew, "digraph cfg {\n")
	fmt.Fprintf(ew, "\tnode [shape=box fontname=\"monospace\"];\n")

	for _, b := range res.Blocks {
		var label strings.Builder
		if l := opts.label(b.Begin); l != "" {
			label.WriteString(dotEscape(l) + `\l`)
		}
		for _, inst := range b.Insts {
			fmt.Fprintf(&label, "%x: %s\\l", inst.VA, dotEscape(inst.Text))
		}
		fmt.Fprintf(ew, "\t%s [label=\"%s\"];\n", nodeID(b.Begin), label.String())
	}
	for _, f := range res.Failures {
		fmt.Fprintf(ew, "\t%s [label=\"%#x\\n%s\" color=red fontcolor=red];\n", nodeID(f.Addr), f.Addr, f.Kind)
	}
	for _, a := range res.External {
		fmt.Fprintf(ew, "\t%s [label=\"%#x\" style=dashed];\n", nodeID(a), a)
	}
	for _, a := range res.Pending {
		fmt.Fprintf(ew, "\t%s [label=\"%#x\" style=dotted];\n", nodeID(a), a)
	}

	for _, b := range res.Blocks {
		for i, s := range b.Successors {
			attrs := ""
			if len(b.Successors) > 1 {
				// Index 0 is always the fallthrough or return site.
				if i == 0 {
					attrs = " [style=dashed]"
				} else {
					attrs = " [color=blue]"
				}
			}
			fmt.Fprintf(ew, "\t%s -> %s%s;\n", nodeID(b.Begin), nodeID(s), attrs)
		}
	}
	fmt.Fprintf(ew, "}\n")
	return ew.err
}

func nodeID(addr uint64) string {
	return fmt.Sprintf("b_%x", addr)
}

var dotReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "{", `\{`, "}", `\}`, "<", `\<`, ">", `\>`, "|", `\|`)

func dotEscape(s string) string {
	return dotReplacer.Replace(s)
}
