package disasm

import (
	"errors"
	"fmt"
)

// Segment is a Session over one contiguous in-memory buffer mapped at Base.
// The buffer is never written, so several Segments may share it; the cursor
// belongs to a single Segment.
type Segment struct {
	data        []byte
	base        uint64
	cursor      uint64
	dec         Decoder
	followCalls bool
}

// SegmentOption configures a Segment.
type SegmentOption func(*Segment)

// WithFollowCalls controls whether call targets are reported as successors.
// When disabled a call only yields its return site.
func WithFollowCalls(follow bool) SegmentOption {
	return func(s *Segment) { s.followCalls = follow }
}

// NewSegment binds dec to data mapped at base. The cursor starts at base.
func NewSegment(data []byte, base uint64, dec Decoder, opts ...SegmentOption) *Segment {
	s := &Segment{
		data:        data,
		base:        base,
		cursor:      base,
		dec:         dec,
		followCalls: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fork returns a new Segment over the same buffer and decoder with its own
// cursor at base.
func (s *Segment) Fork() *Segment {
	return &Segment{
		data:        s.data,
		base:        s.base,
		cursor:      s.base,
		dec:         s.dec,
		followCalls: s.followCalls,
	}
}

// Factory returns a SessionFactory producing forks of s.
func (s *Segment) Factory() SessionFactory {
	return func() Session { return s.Fork() }
}

// Base returns the virtual address of the first byte.
func (s *Segment) Base() uint64 { return s.base }

// End returns the virtual address immediately past the last byte.
func (s *Segment) End() uint64 { return s.base + uint64(len(s.data)) }

// Contains reports whether addr lies within [Base, End).
func (s *Segment) Contains(addr uint64) bool {
	return addr >= s.base && addr-s.base < uint64(len(s.data))
}

// offset translates addr to a buffer offset, failing with *BoundsError.
func (s *Segment) offset(addr uint64) (int, error) {
	if !s.Contains(addr) {
		return 0, &BoundsError{Addr: addr, Base: s.base, End: s.End()}
	}
	return int(addr - s.base), nil
}

// DecodeAtCursor implements Session.
func (s *Segment) DecodeAtCursor() (Inst, int, error) {
	addr := s.cursor
	off, err := s.offset(addr)
	if err != nil {
		return Inst{}, 0, err
	}
	window := s.data[off:]

	inst, n, err := s.dec.Decode(window, addr)
	if err != nil {
		if errors.Is(err, ErrShortWindow) {
			return Inst{}, 0, &TruncatedInstructionError{Addr: addr, Available: len(window)}
		}
		return Inst{}, 0, &DecodeError{Addr: addr, Err: err}
	}
	if n <= 0 || n > len(window) {
		return Inst{}, 0, &DecodeError{Addr: addr, Err: fmt.Errorf("decoder returned length %d for %d byte window", n, len(window))}
	}

	inst.VA = addr
	inst.Len = n
	if inst.Raw == nil {
		inst.Raw = window[:n:n]
	}
	return inst, n, nil
}

// SuccessorsOf implements Session.
func (s *Segment) SuccessorsOf(inst Inst, addr uint64) []uint64 {
	next := addr + uint64(inst.Len)
	switch inst.Flow {
	case FlowSequential:
		return []uint64{next}
	case FlowJump:
		if inst.HasTarget {
			return []uint64{inst.Target}
		}
		return nil
	case FlowCondJump:
		if inst.HasTarget {
			return []uint64{next, inst.Target}
		}
		return []uint64{next}
	case FlowCall:
		if inst.HasTarget && s.followCalls {
			return []uint64{next, inst.Target}
		}
		return []uint64{next}
	}
	return nil
}

// CurrentAddress implements Session.
func (s *Segment) CurrentAddress() uint64 { return s.cursor }

// SetCursor implements Session.
func (s *Segment) SetCursor(addr uint64) uint64 {
	prev := s.cursor
	s.cursor = addr
	return prev
}
