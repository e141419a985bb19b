package disasm

// BasicBlock is a straight-line run of instructions with a single entry and
// control transfer only at its end. Insts tiles [Begin, End) exactly.
type BasicBlock struct {
	Begin      uint64   `json:"rva_begin"`
	End        uint64   `json:"rva_end"`
	Successors []uint64 `json:"successors"`
	Insts      Stream   `json:"-"`
	// Bounded is set when the block was cut by an instruction limit rather
	// than by a control transfer.
	Bounded bool `json:"bounded,omitempty"`
}

// Size returns End - Begin.
func (b *BasicBlock) Size() uint64 { return b.End - b.Begin }

// Last returns the terminating instruction.
func (b *BasicBlock) Last() Inst { return b.Insts[len(b.Insts)-1] }

// BuildBlock decodes the block starting at start. Decoding stops at the first
// instruction that transfers control or whose successors are anything other
// than the very next instruction. Any error aborts the build and no block is
// returned.
func BuildBlock(s Session, start uint64) (*BasicBlock, error) {
	return BuildBlockN(s, start, 0)
}

// BuildBlockN is BuildBlock with an instruction limit. When maxInsts > 0 and
// the limit is reached before a control transfer, the block ends there with
// its fallthrough address as the only successor.
func BuildBlockN(s Session, start uint64, maxInsts int) (*BasicBlock, error) {
	s.SetCursor(start)

	block := &BasicBlock{Begin: start}
	end := start
	for {
		inst, n, err := s.DecodeAtCursor()
		if err != nil {
			return nil, err
		}
		block.Insts = append(block.Insts, inst)

		addr := end
		end += uint64(n)

		succ := s.SuccessorsOf(inst, addr)
		if inst.Flow.Transfers() || !fallsThrough(succ, end) {
			block.End = end
			block.Successors = succ
			if block.Successors == nil {
				block.Successors = []uint64{}
			}
			return block, nil
		}
		if maxInsts > 0 && len(block.Insts) >= maxInsts {
			block.End = end
			block.Successors = []uint64{end}
			block.Bounded = true
			return block, nil
		}
		s.SetCursor(end)
	}
}

func fallsThrough(succ []uint64, next uint64) bool {
	return len(succ) == 1 && succ[0] == next
}

// DumpSection linearly decodes every instruction starting in [begin, end),
// ignoring control flow. The last instruction may extend past end. On error
// the instructions decoded so far are returned along with it.
func DumpSection(s Session, begin, end uint64) (Stream, error) {
	var insts Stream
	cur := begin
	s.SetCursor(cur)
	for cur < end {
		inst, n, err := s.DecodeAtCursor()
		if err != nil {
			return insts, err
		}
		insts = append(insts, inst)
		cur += uint64(n)
		s.SetCursor(cur)
	}
	return insts, nil
}
