// Package disasm defines the instruction representation, the disassembly
// session contract, and the block-walking algorithms that recover a control
// flow graph from a machine-code buffer.
package disasm

import (
	"fmt"
	"strings"
)

// Flow classifies how control leaves an instruction.
type Flow uint8

const (
	FlowSequential Flow = iota // falls through to the next instruction only
	FlowJump                   // unconditional branch
	FlowCondJump               // conditional branch, fallthrough or target
	FlowCall                   // call, returns to the next instruction
	FlowReturn                 // return from procedure
	FlowHalt                   // execution does not continue (hlt, ud2, brk)
)

func (f Flow) String() string {
	switch f {
	case FlowSequential:
		return "sequential"
	case FlowJump:
		return "jump"
	case FlowCondJump:
		return "cond-jump"
	case FlowCall:
		return "call"
	case FlowReturn:
		return "return"
	case FlowHalt:
		return "halt"
	}
	return fmt.Sprintf("flow(%d)", uint8(f))
}

// Transfers reports whether the flow ends a basic block.
func (f Flow) Transfers() bool {
	return f != FlowSequential
}

// Inst is a simplified decoded instruction.
type Inst struct {
	VA        uint64 // virtual address of instruction
	Len       int    // encoded length in bytes
	Text      string // formatted disassembly string
	Op        string // mnemonic in lowercase
	Raw       []byte // raw encoding
	Flow      Flow
	Target    uint64 // branch or call target, valid when HasTarget
	HasTarget bool
}

// Next returns the address immediately past the instruction.
func (i Inst) Next() uint64 {
	return i.VA + uint64(i.Len)
}

// String formats the instruction as "address  bytes  text".
func (i Inst) String() string {
	var hex strings.Builder
	for _, b := range i.Raw {
		fmt.Fprintf(&hex, "%02x", b)
	}
	return fmt.Sprintf("%-10x %-20s %s", i.VA, hex.String(), i.Text)
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Size returns the number of bytes covered by the stream.
func (s Stream) Size() uint64 {
	var n uint64
	for _, inst := range s {
		n += uint64(inst.Len)
	}
	return n
}
