package render

import (
	"fmt"
	"io"
	"strings"

	"cfgwalk/internal/cfgwalk/styles"
	"cfgwalk/internal/disasm"
)

// MarkdownSource builds the markdown report for res.
func MarkdownSource(res *disasm.Result, opts Options) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# cfgwalk %#x\n\n", res.Seed)
	if l := opts.label(res.Seed); l != "" {
		fmt.Fprintf(&sb, "Seed `%s`.\n\n", l)
	}

	sb.WriteString("| blocks | addresses | failures | external | unexplored |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	fmt.Fprintf(&sb, "| %d | %d | %d | %d | %d |\n\n",
		len(res.Blocks), len(res.Discovered), len(res.Failures), len(res.External), len(res.Pending))

	for _, b := range res.Blocks {
		fmt.Fprintf(&sb, "## %#x\n\n", b.Begin)
		if l := opts.label(b.Begin); l != "" {
			fmt.Fprintf(&sb, "`%s`, ", l)
		}
		fmt.Fprintf(&sb, "%d instructions, %d bytes, successors: %s\n\n",
			len(b.Insts), b.Size(), addrList(b.Successors))
		sb.WriteString("```\n")
		for _, inst := range b.Insts {
			sb.WriteString(instLine(inst, opts))
			sb.WriteByte('\n')
		}
		sb.WriteString("```\n\n")
	}

	if len(res.Failures) > 0 {
		sb.WriteString("## Failures\n\n")
		for _, f := range res.Failures {
			fmt.Fprintf(&sb, "- `%#x` %s: %v\n", f.Addr, f.Kind, f.Err)
		}
	}
	return sb.String()
}

// Markdown renders the report through glamour at the given width.
func Markdown(w io.Writer, res *disasm.Result, opts Options, width int) error {
	r, err := styles.MarkdownRenderer(width, !opts.Color)
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := r.Render(MarkdownSource(res, opts))
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
