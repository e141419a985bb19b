package arch

import (
	"errors"
	"fmt"
	"strings"

	"cfgwalk/internal/disasm"

	"golang.org/x/arch/x86/x86asm"
)

// x86Aliases maps the Intel printer's alternate mnemonics back to the
// opcode names reported in Inst.Op.
var x86Aliases = map[string]string{
	"jnb":     "jae",
	"jnbe":    "ja",
	"jnl":     "jge",
	"jnz":     "jne",
	"jnle":    "jg",
	"jz":      "je",
	"setnb":   "setae",
	"setnbe":  "seta",
	"setnl":   "setge",
	"setnz":   "setne",
	"setnle":  "setg",
	"setz":    "sete",
	"cmovnb":  "cmovae",
	"cmovnbe": "cmova",
	"cmovnl":  "cmovge",
	"cmovnz":  "cmovne",
	"cmovnle": "cmovg",
	"cmovz":   "cmove",
}

// X86 decodes x86 in 64- or 32-bit mode.
type X86 struct {
	Mode int
}

func (d X86) arch() Arch {
	if d.Mode == 32 {
		return I386
	}
	return AMD64
}

// Decode implements disasm.Decoder.
func (d X86) Decode(window []byte, addr uint64) (disasm.Inst, int, error) {
	// x86asm does not know ENDBR64 (f3 0f 1e fa) or ENDBR32 (f3 0f 1e fb).
	if len(window) >= 4 && window[0] == 0xf3 && window[1] == 0x0f && window[2] == 0x1e &&
		(window[3] == 0xfa || window[3] == 0xfb) {
		op := "endbr64"
		if window[3] == 0xfb {
			op = "endbr32"
		}
		return disasm.Inst{Op: op, Text: op, Flow: disasm.FlowSequential}, 4, nil
	}

	inst, err := x86asm.Decode(window, d.Mode)
	if errors.Is(err, x86asm.ErrTruncated) {
		return disasm.Inst{}, 0, fmt.Errorf("x86asm: %w", disasm.ErrShortWindow)
	}
	if err != nil {
		return disasm.Inst{}, 0, err
	}
	if inst.Op == 0 {
		// A lone prefix byte is how x86asm reports running out of input.
		if len(window) < d.arch().MaxInstLen() {
			return disasm.Inst{}, 0, fmt.Errorf("x86asm: %w", disasm.ErrShortWindow)
		}
		return disasm.Inst{}, 0, x86asm.ErrUnrecognized
	}

	out := disasm.Inst{
		Op:   strings.ToLower(inst.Op.String()),
		Text: x86Text(x86asm.IntelSyntax(inst, addr, nil)),
		Flow: x86Flow(inst),
	}
	if rel, ok := inst.Args[0].(x86asm.Rel); ok && out.Flow != disasm.FlowSequential {
		target := addr + uint64(inst.Len) + uint64(int64(rel))
		if d.Mode == 32 {
			target = uint64(uint32(target))
		}
		out.Target, out.HasTarget = target, true
	}
	return out, inst.Len, nil
}

// x86Text lowercases the Intel syntax and swaps the mnemonic, which may
// follow prefixes, for its opcode name.
func x86Text(intel string) string {
	words := strings.Split(strings.ToLower(intel), " ")
	for i := 0; i < len(words) && i < 3; i++ {
		if op, ok := x86Aliases[words[i]]; ok {
			words[i] = op
			break
		}
	}
	return strings.Join(words, " ")
}

func x86Flow(inst x86asm.Inst) disasm.Flow {
	switch inst.Op {
	case x86asm.JMP, x86asm.LJMP:
		return disasm.FlowJump
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JNE,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JO, x86asm.JNO,
		x86asm.JP, x86asm.JNP, x86asm.JS, x86asm.JNS,
		x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		return disasm.FlowCondJump
	case x86asm.CALL, x86asm.LCALL:
		return disasm.FlowCall
	case x86asm.RET, x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ,
		x86asm.SYSRET, x86asm.SYSEXIT:
		return disasm.FlowReturn
	case x86asm.HLT, x86asm.UD0, x86asm.UD1, x86asm.UD2:
		return disasm.FlowHalt
	case x86asm.INT:
		if imm, ok := inst.Args[0].(x86asm.Imm); ok && imm == 3 {
			return disasm.FlowHalt
		}
	}
	return disasm.FlowSequential
}
