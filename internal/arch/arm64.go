package arch

import (
	"encoding/binary"
	"fmt"
	"strings"

	"cfgwalk/internal/disasm"

	"golang.org/x/arch/arm64/arm64asm"
)

// ARM64Decoder decodes fixed-width AArch64 instructions.
type ARM64Decoder struct{}

// Decode implements disasm.Decoder.
func (ARM64Decoder) Decode(window []byte, addr uint64) (disasm.Inst, int, error) {
	if len(window) < 4 {
		return disasm.Inst{}, 0, fmt.Errorf("arm64asm: %w", disasm.ErrShortWindow)
	}
	if out, ok := arm64Unlisted(binary.LittleEndian.Uint32(window)); ok {
		return out, 4, nil
	}
	inst, err := arm64asm.Decode(window[:4])
	if err != nil {
		return disasm.Inst{}, 0, err
	}

	out := disasm.Inst{
		Op:   strings.ToLower(inst.Op.String()),
		Text: strings.TrimSpace(arm64asm.GNUSyntax(inst)),
		Flow: arm64Flow(inst),
	}
	if out.Flow == disasm.FlowJump || out.Flow == disasm.FlowCondJump || out.Flow == disasm.FlowCall {
		if rel, ok := pcRel(inst); ok {
			out.Target = uint64(int64(addr) + int64(rel))
			out.HasTarget = true
			out.Text = strings.Replace(out.Text, strings.ToLower(rel.String()), fmt.Sprintf("%#x", out.Target), 1)
		}
	}
	return out, 4, nil
}

// arm64Unlisted decodes words arm64asm rejects but which end or pass
// through a block: permanently undefined, hypervisor and monitor calls, and
// pointer-authenticated returns.
func arm64Unlisted(word uint32) (disasm.Inst, bool) {
	imm := (word >> 5) & 0xffff
	switch {
	case word&0xffff0000 == 0:
		return disasm.Inst{Op: "udf", Text: fmt.Sprintf("udf #%#x", word&0xffff), Flow: disasm.FlowHalt}, true
	case word&0xffe0001f == 0xd4000002:
		return disasm.Inst{Op: "hvc", Text: fmt.Sprintf("hvc #%#x", imm), Flow: disasm.FlowSequential}, true
	case word&0xffe0001f == 0xd4000003:
		return disasm.Inst{Op: "smc", Text: fmt.Sprintf("smc #%#x", imm), Flow: disasm.FlowSequential}, true
	case word == 0xd65f0bff:
		return disasm.Inst{Op: "retaa", Text: "retaa", Flow: disasm.FlowReturn}, true
	case word == 0xd65f0fff:
		return disasm.Inst{Op: "retab", Text: "retab", Flow: disasm.FlowReturn}, true
	}
	return disasm.Inst{}, false
}

func arm64Flow(inst arm64asm.Inst) disasm.Flow {
	switch inst.Op {
	case arm64asm.B:
		// b.al and b.nv always branch.
		if c, ok := inst.Args[0].(arm64asm.Cond); ok && c.Value < 14 {
			return disasm.FlowCondJump
		}
		return disasm.FlowJump
	case arm64asm.BR:
		return disasm.FlowJump
	case arm64asm.CBZ, arm64asm.CBNZ, arm64asm.TBZ, arm64asm.TBNZ:
		return disasm.FlowCondJump
	case arm64asm.BL, arm64asm.BLR:
		return disasm.FlowCall
	case arm64asm.RET, arm64asm.ERET:
		return disasm.FlowReturn
	case arm64asm.BRK, arm64asm.HLT:
		return disasm.FlowHalt
	}
	return disasm.FlowSequential
}

// pcRel finds the label operand, which is always the last argument.
func pcRel(inst arm64asm.Inst) (arm64asm.PCRel, bool) {
	for i := len(inst.Args) - 1; i >= 0; i-- {
		if inst.Args[i] == nil {
			continue
		}
		rel, ok := inst.Args[i].(arm64asm.PCRel)
		return rel, ok
	}
	return 0, false
}
