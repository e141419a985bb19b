package render

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"

	"cfgwalk/internal/arch"
	"cfgwalk/internal/disasm"
)

// program:
//
//	1000 push rbp
//	1001 je 0x1008
//	1003 jmp 0x1009
//	1008 nop
//	1009 ret
var program = []byte{
	0x55,
	0x74, 0x05,
	0xe9, 0x01, 0x00, 0x00, 0x00,
	0x90,
	0xc3,
}

type labels map[uint64]string

func (l labels) Label(va uint64) string { return l[va] }

func explore(t *testing.T, seed uint64, opts ...disasm.Option) *disasm.Result {
	t.Helper()
	seg := disasm.NewSegment(program, 0x1000, arch.X86{Mode: 64})
	res, err := disasm.NewExploration(seed, opts...).Run(context.Background(), seg.Factory())
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func testOptions() Options {
	return Options{Arch: "amd64", Labels: labels{0x1000: "entry", 0x1009: "done"}}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	if err := Text(&buf, explore(t, 0x1000), testOptions()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"; block 0x1000-0x1003 <entry> -> 0x1003, 0x1008",
		"; block 0x1003-0x1008 -> 0x1009",
		"; block 0x1009-0x100a <done> -> -",
		"je 0x1008",
		"jmp 0x1009 ; done",
		"; 4 blocks, 4 addresses, 0 failures",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("colour codes without Color")
	}
}

func TestTextFailures(t *testing.T) {
	res := explore(t, 0x1000, disasm.WithFence(0x1000, 0x1009), disasm.WithMaxBlocks(2))

	var buf bytes.Buffer
	if err := Text(&buf, res, Options{}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "; external 0x1009") {
		t.Errorf("missing external line:\n%s", out)
	}
	if !strings.Contains(out, "; unexplored 0x1008") {
		t.Errorf("missing pending line:\n%s", out)
	}

	res = explore(t, 0x2000)
	buf.Reset()
	if err := Text(&buf, res, Options{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "; failed 0x2000 (bounds)") {
		t.Errorf("missing failure line:\n%s", buf.String())
	}
}

func TestJSON(t *testing.T) {
	opts := testOptions()
	opts.Insts = true

	var buf bytes.Buffer
	if err := JSON(&buf, explore(t, 0x1000), opts); err != nil {
		t.Fatal(err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, buf.String())
	}
	if doc.Seed != 0x1000 || doc.Arch != "amd64" || len(doc.Blocks) != 4 {
		t.Fatalf("doc = %+v", doc)
	}
	first := doc.Blocks[0]
	if first.Begin != 0x1000 || first.End != 0x1003 || first.Label != "entry" {
		t.Errorf("first block = %+v", first)
	}
	if !slices.Equal(first.Successors, []uint64{0x1003, 0x1008}) {
		t.Errorf("successors = %#x", first.Successors)
	}
	if len(first.Insts) != 2 || first.Insts[1].Text != "je 0x1008" || first.Insts[1].Flow != "cond-jump" {
		t.Errorf("insts = %+v", first.Insts)
	}
	if !slices.Equal(doc.Discovered, []uint64{0x1000, 0x1003, 0x1008, 0x1009}) {
		t.Errorf("discovered = %#x", doc.Discovered)
	}

	// The wire names of the block fields are fixed.
	for _, key := range []string{`"rva_begin": 4096`, `"rva_end": 4099`, `"successors"`} {
		if !strings.Contains(buf.String(), key) {
			t.Errorf("json lacks %s", key)
		}
	}
}

func TestJSONWithoutInsts(t *testing.T) {
	var buf bytes.Buffer
	if err := JSON(&buf, explore(t, 0x1000), Options{}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), `"insts"`) {
		t.Error("instructions included without Insts")
	}
}

func TestDOT(t *testing.T) {
	res := explore(t, 0x1000, disasm.WithFence(0x1000, 0x1009))

	var buf bytes.Buffer
	if err := DOT(&buf, res, testOptions()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"digraph cfg {",
		`b_1000 [label="entry\l1000: push rbp\l1001: je 0x1008\l"];`,
		"b_1000 -> b_1003 [style=dashed];",
		"b_1000 -> b_1008 [color=blue];",
		"b_1003 -> b_1009;",
		`b_1009 [label="0x1009" style=dashed];`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dot lacks %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "}\n") {
		t.Error("graph not closed")
	}
}

func TestDotEscape(t *testing.T) {
	if got := dotEscape(`mov "a" <b|c> {d}`); got != `mov \"a\" \<b\|c\> \{d\}` {
		t.Errorf("dotEscape = %s", got)
	}
}

func TestMarkdown(t *testing.T) {
	res := explore(t, 0x1000)
	src := MarkdownSource(res, testOptions())
	for _, want := range []string{
		"# cfgwalk 0x1000",
		"Seed `entry`.",
		"| 4 | 4 | 0 | 0 | 0 |",
		"## 0x1008",
		"2 instructions, 2 bytes, successors: -",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("markdown lacks %q:\n%s", want, src)
		}
	}

	var buf bytes.Buffer
	if err := Markdown(&buf, res, testOptions(), 100); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "push rbp") {
		t.Errorf("rendered markdown = %q", buf.String())
	}
}

type failingWriter struct{ n int }

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, errWrite
	}
	w.n--
	return len(p), nil
}

var errWrite = bytes.ErrTooLarge

func TestWriteErrors(t *testing.T) {
	res := explore(t, 0x1000)
	if err := Text(&failingWriter{n: 2}, res, Options{}); err != errWrite {
		t.Errorf("Text err = %v", err)
	}
	if err := DOT(&failingWriter{n: 1}, res, Options{}); err != errWrite {
		t.Errorf("DOT err = %v", err)
	}
}
