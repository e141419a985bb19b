package styles

import (
	"regexp"
	"strings"
	"testing"
)

var ansiSeq = regexp.MustCompile("\x1b\\[[0-9;]*m")

func TestMarkdownRenderer(t *testing.T) {
	for _, plain := range []bool{false, true} {
		r, err := MarkdownRenderer(80, plain)
		if err != nil {
			t.Fatalf("plain=%v: %v", plain, err)
		}
		out, err := r.Render("# cfgwalk\n\n- **4** blocks\n\n```\n1000 ret\n```\n")
		if err != nil {
			t.Fatalf("plain=%v: render: %v", plain, err)
		}
		out = ansiSeq.ReplaceAllString(out, "")
		if !strings.Contains(out, "cfgwalk") || !strings.Contains(out, "1000 ret") {
			t.Errorf("plain=%v: output = %q", plain, out)
		}
	}
}
