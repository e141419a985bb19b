package disasm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
)

// A tiny test ISA. Branch targets are absolute little-endian uint32s.
//
//	90           nop
//	b8 imm32     mov
//	e9 abs32     jmp
//	74 abs32     je
//	e8 abs32     call
//	ff           jmp (indirect, unresolved)
//	c3           ret
//	f4           hlt
//
// Anything else is rejected.
const (
	opNop  = 0x90
	opMov  = 0xb8
	opJmp  = 0xe9
	opJe   = 0x74
	opCall = 0xe8
	opJmpI = 0xff
	opRet  = 0xc3
	opHlt  = 0xf4
)

var errBadOpcode = errors.New("bad opcode")

type toyDecoder struct {
	calls atomic.Int64
}

func (d *toyDecoder) Decode(window []byte, addr uint64) (Inst, int, error) {
	d.calls.Add(1)
	if len(window) == 0 {
		return Inst{}, 0, ErrShortWindow
	}
	switch op := window[0]; op {
	case opNop:
		return Inst{Op: "nop", Text: "nop"}, 1, nil
	case opRet:
		return Inst{Op: "ret", Text: "ret", Flow: FlowReturn}, 1, nil
	case opHlt:
		return Inst{Op: "hlt", Text: "hlt", Flow: FlowHalt}, 1, nil
	case opJmpI:
		return Inst{Op: "jmp", Text: "jmp *", Flow: FlowJump}, 1, nil
	case opMov, opJmp, opJe, opCall:
		if len(window) < 5 {
			return Inst{}, 0, fmt.Errorf("toy: %w", ErrShortWindow)
		}
		imm := uint64(binary.LittleEndian.Uint32(window[1:5]))
		inst := Inst{HasTarget: op != opMov, Target: imm}
		switch op {
		case opMov:
			inst.Op, inst.Flow, inst.Target = "mov", FlowSequential, 0
		case opJmp:
			inst.Op, inst.Flow = "jmp", FlowJump
		case opJe:
			inst.Op, inst.Flow = "je", FlowCondJump
		case opCall:
			inst.Op, inst.Flow = "call", FlowCall
		}
		inst.Text = fmt.Sprintf("%s %#x", inst.Op, imm)
		return inst, 5, nil
	}
	return Inst{}, 0, errBadOpcode
}

// image assembles a sparse program into a buffer starting at base.
type image struct {
	base uint64
	data []byte
}

func newImage(base uint64, size int) *image {
	// Zero bytes are invalid in the toy ISA.
	return &image{base: base, data: make([]byte, size)}
}

func (img *image) at(addr uint64, code ...[]byte) *image {
	off := int(addr - img.base)
	for _, c := range code {
		copy(img.data[off:], c)
		off += len(c)
	}
	return img
}

func (img *image) segment(opts ...SegmentOption) *Segment {
	return NewSegment(img.data, img.base, &toyDecoder{}, opts...)
}

func nop() []byte { return []byte{opNop} }
func ret() []byte { return []byte{opRet} }
func hlt() []byte { return []byte{opHlt} }

func mov(v uint32) []byte  { return withImm(opMov, v) }
func jmp(t uint32) []byte  { return withImm(opJmp, t) }
func je(t uint32) []byte   { return withImm(opJe, t) }
func call(t uint32) []byte { return withImm(opCall, t) }

func withImm(op byte, v uint32) []byte {
	b := []byte{op, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(b[1:], v)
	return b
}
