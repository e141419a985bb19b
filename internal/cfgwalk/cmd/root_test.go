package cmd

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"cfgwalk/internal/elfx/elftest"
	"cfgwalk/internal/render"
)

// fixture:
//
//	400100 main:   push rbp
//	400101         call helper
//	400106         je 0x40010a
//	400108         nop
//	400109         nop
//	40010a         ret
//	400110 helper: ret
var fixture = elftest.Binary{
	Machine: elf.EM_X86_64,
	Base:    0x400000,
	Text: []byte{
		0x55,
		0xe8, 0x0a, 0x00, 0x00, 0x00,
		0x74, 0x02,
		0x90, 0x90,
		0xc3,
		0x90, 0x90, 0x90, 0x90, 0x90,
		0xc3,
	},
	Funcs: []elftest.Func{
		{Name: "main", Off: 0, Size: 11},
		{Name: "helper", Off: 0x10, Size: 1},
	},
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("cfgwalk %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestWalkText(t *testing.T) {
	path := elftest.Write(t, fixture)
	out := mustRun(t, path)

	for _, want := range []string{
		"; block 0x400100-0x400106 <main> -> 0x400106, 0x400110",
		"; block 0x400106-0x400108 <main+0x6> -> 0x400108, 0x40010a",
		"; block 0x400110-0x400111 <helper> -> -",
		"; block 0x400108-0x40010b <main+0x8> -> -",
		"; block 0x40010a-0x40010b <main+0xa> -> -",
		"call 0x400110 ; helper",
		"; 5 blocks, 5 addresses, 0 failures",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("colour codes in piped output")
	}
}

func TestWalkOptions(t *testing.T) {
	path := elftest.Write(t, fixture)

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{
			name: "seed symbol",
			args: []string{"--seed", "helper"},
			want: []string{"; block 0x400110-0x400111 <helper> -> -", "; 1 blocks, 1 addresses, 0 failures"},
		},
		{
			name: "seed expression",
			args: []string{"--seed", "main+6"},
			want: []string{"; block 0x400106-0x400108", "; 3 blocks"},
		},
		{
			name:    "no follow calls",
			args:    []string{"--no-follow-calls"},
			want:    []string{"; block 0x400100-0x400106 <main> -> 0x400106\n", "; 4 blocks"},
			notWant: []string{"<helper>"},
		},
		{
			name: "max blocks",
			args: []string{"--max-blocks", "2"},
			want: []string{"; unexplored 0x400110, 0x400108, 0x40010a", "; 2 blocks"},
		},
		{
			name: "split long blocks",
			args: []string{"--seed", "0x400108", "--max-block-insts", "1"},
			want: []string{"; block 0x400108-0x400109 <main+0x8> -> 0x400109 (split)", "; 3 blocks"},
		},
		{
			name: "seed outside the image",
			args: []string{"--seed", "0x500000"},
			want: []string{"; failed 0x500000 (bounds)", "; 0 blocks, 1 addresses, 1 failures"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustRun(t, append([]string{path}, tt.args...)...)
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(out, nw) {
					t.Errorf("output contains %q:\n%s", nw, out)
				}
			}
		})
	}
}

func TestWalkWorkersMatchSequential(t *testing.T) {
	path := elftest.Write(t, fixture)
	seq := mustRun(t, path)
	par := mustRun(t, path, "--workers", "4")
	if seq != par {
		t.Errorf("parallel output differs:\n%s\nwant:\n%s", par, seq)
	}
}

func TestWalkJSON(t *testing.T) {
	path := elftest.Write(t, fixture)
	out := mustRun(t, path, "--format", "json")

	var doc render.Document
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if doc.Seed != 0x400100 || doc.Arch != "amd64" {
		t.Errorf("seed = %#x, arch = %q", doc.Seed, doc.Arch)
	}
	if len(doc.Blocks) != 5 {
		t.Fatalf("blocks = %d, want 5", len(doc.Blocks))
	}
	first := doc.Blocks[0]
	if first.Label != "main" || len(first.Insts) != 2 || first.Insts[1].Flow != "call" {
		t.Errorf("first block = %+v", first)
	}
	if !slices.Equal(doc.Discovered, []uint64{0x400100, 0x400106, 0x400108, 0x40010a, 0x400110}) {
		t.Errorf("discovered = %#x", doc.Discovered)
	}
}

func TestWalkDOT(t *testing.T) {
	path := elftest.Write(t, fixture)
	out := mustRun(t, path, "-f", "dot")
	for _, want := range []string{"digraph cfg {", "b_400100 -> b_400110", "b_400106 -> b_40010a"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func writeRaw(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// raw branches into a call cut short by the end of the image:
//
//	1000 je 0x1003
//	1002 ret
//	1003 e8 (truncated)
var raw = []byte{0x74, 0x01, 0xc3, 0xe8}

func TestWalkRaw(t *testing.T) {
	path := writeRaw(t, raw)

	out := mustRun(t, "--raw", "--base", "0x1000", path)
	for _, want := range []string{
		"; block 0x1000-0x1002 -> 0x1002, 0x1003",
		"; failed 0x1003 (truncated)",
		"; 2 blocks, 3 addresses, 1 failures",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err := run(t, "--raw", "--base", "0x1000", "--strict", path)
	if err == nil {
		t.Fatal("strict run succeeded")
	}
	if !strings.Contains(out, "; failed 0x1003 (truncated)") {
		t.Errorf("strict run should still print the partial result:\n%s", out)
	}
}

func TestWalkErrors(t *testing.T) {
	elfPath := elftest.Write(t, fixture)
	rawPath := writeRaw(t, raw)

	tests := []struct {
		name string
		args []string
	}{
		{"raw without base", []string{"--raw", rawPath}},
		{"not an ELF", []string{rawPath}},
		{"unknown symbol", []string{elfPath, "--seed", "nosuchfunc"}},
		{"unknown arch", []string{elfPath, "--arch", "mips"}},
		{"missing section", []string{elfPath, "--section", ".nope"}},
		{"bad format", []string{elfPath, "--format", "svg"}},
		{"bad workers", []string{elfPath, "--workers", "0"}},
		{"missing file", []string{filepath.Join(t.TempDir(), "nope")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := elftest.Write(t, fixture)
	cfgPath := filepath.Join(t.TempDir(), "cfgwalk.json")
	if err := os.WriteFile(cfgPath, []byte(`{"format": "json", "maxBlocks": 1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, path, "--config", cfgPath)
	var doc render.Document
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("config format not applied: %v", err)
	}
	if len(doc.Blocks) != 1 {
		t.Errorf("blocks = %d, want 1", len(doc.Blocks))
	}

	// Flags win over the file.
	out = mustRun(t, path, "--config", cfgPath, "--format", "text", "--max-blocks", "0")
	if !strings.Contains(out, "; 5 blocks") {
		t.Errorf("flags did not override config:\n%s", out)
	}
}

func TestDump(t *testing.T) {
	path := elftest.Write(t, fixture)

	out := mustRun(t, "dump", path, "--begin", "main", "--end", "main+0xb")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Fatalf("lines = %d, want 6:\n%s", len(lines), out)
	}
	for i, want := range []string{"push rbp", "call 0x400110 ; helper", "je 0x40010a", "nop", "nop", "ret"} {
		if !strings.HasSuffix(lines[i], want) {
			t.Errorf("line %d = %q, want suffix %q", i, lines[i], want)
		}
	}
	if !strings.HasPrefix(lines[0], "400100") {
		t.Errorf("first line = %q", lines[0])
	}

	// Default range is the whole text section.
	out = mustRun(t, "dump", path)
	if n := strings.Count(out, "\n"); n != 12 {
		t.Errorf("whole section lines = %d, want 12:\n%s", n, out)
	}

	if _, err := run(t, "dump", path, "--begin", "0x400108", "--end", "0x400100"); err == nil {
		t.Error("reversed range accepted")
	}
}

func TestDumpRawPartialTail(t *testing.T) {
	path := writeRaw(t, raw)
	out, err := run(t, "dump", "--raw", "--base", "0x1000", path)
	if err == nil {
		t.Fatal("expected a truncation error")
	}
	if strings.Count(out, "\n") != 2 {
		t.Errorf("decoded prefix not printed:\n%s", out)
	}
}

func TestSchema(t *testing.T) {
	out := mustRun(t, "schema")
	for _, want := range []string{`"maxBlocks"`, `"workers"`, `"format"`} {
		if !strings.Contains(out, want) {
			t.Errorf("schema missing %s", want)
		}
	}
}

func TestLogs(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "cfgwalk-20250101-000000-debug.log")
	newer := filepath.Join(dir, "cfgwalk-20250102-000000-debug.log")
	if err := os.WriteFile(older, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("first\nsecond\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := mustRun(t, "logs", "--log-dir", dir)
	if out != "first\nsecond\n" {
		t.Errorf("latest log = %q", out)
	}

	out = mustRun(t, "logs", older)
	if out != "old\n" {
		t.Errorf("explicit log = %q", out)
	}

	if _, err := run(t, "logs", "--log-dir", t.TempDir()); err == nil {
		t.Error("empty log dir accepted")
	}
}
