// Package colorize highlights disassembly listings with chroma.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether colour output is allowed. CFGWALK_NO_COLOR turns it off.
func Enabled() bool {
	return os.Getenv("CFGWALK_NO_COLOR") == ""
}

// lexerFor returns an assembly lexer for the architecture family, with fallbacks.
func lexerFor(arch string) chroma.Lexer {
	candidates := []string{"nasm", "gas"}
	if arch == "arm64" {
		candidates = []string{"armasm", "gas"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	for _, name := range []string{DisasmDark.Name, "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Assembly highlights a block of assembly text for arch.
func Assembly(code, arch string) (string, error) {
	if !Enabled() {
		return code, nil
	}
	lexer := lexerFor(arch)
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// InstructionLine colours one listing line of the form
// "address  bytes  text [; comment]". The address is dimmed and the rest is
// handed to chroma. Lines that do not start with a hex address are
// highlighted whole.
func InstructionLine(line, arch string) string {
	if !Enabled() {
		return line
	}

	addr, rest, ok := strings.Cut(line, " ")
	if !ok || !isHex(addr) {
		return colorizeFullLine(line, arch)
	}
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m %s", addr, colorizeFullLine(rest, arch))
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}

func colorizeFullLine(line, arch string) string {
	out, err := Assembly(line, arch)
	if err != nil {
		return line
	}
	return strings.TrimSuffix(out, "\n")
}

// Strip removes ANSI colour sequences.
func Strip(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
