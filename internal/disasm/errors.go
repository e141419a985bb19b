package disasm

import (
	"errors"
	"fmt"
)

// ErrShortWindow is returned (possibly wrapped) by a Decoder when the byte
// window ends before the instruction at its start does.
var ErrShortWindow = errors.New("instruction extends past window")

// ErrAlreadyRun is returned when an Exploration is run a second time.
var ErrAlreadyRun = errors.New("exploration already run")

// ErrorKind names the category of a per-address failure.
type ErrorKind string

const (
	KindBounds    ErrorKind = "bounds"
	KindDecode    ErrorKind = "decode"
	KindTruncated ErrorKind = "truncated"
	KindOther     ErrorKind = "other"
)

// BoundsError reports an address outside the segment's [Base, End) range.
type BoundsError struct {
	Addr uint64
	Base uint64
	End  uint64
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("address %#x outside segment [%#x, %#x)", e.Addr, e.Base, e.End)
}

// DecodeError reports bytes that do not form a valid instruction.
type DecodeError struct {
	Addr uint64
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at %#x: %v", e.Addr, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TruncatedInstructionError reports an instruction whose encoding runs past
// the end of the segment buffer.
type TruncatedInstructionError struct {
	Addr      uint64
	Available int
}

func (e *TruncatedInstructionError) Error() string {
	return fmt.Sprintf("truncated instruction at %#x (%d bytes left in segment)", e.Addr, e.Available)
}

func (e *TruncatedInstructionError) Unwrap() error { return ErrShortWindow }

// KindOf maps an error from a Session or the block builder to its ErrorKind.
func KindOf(err error) ErrorKind {
	var (
		be *BoundsError
		te *TruncatedInstructionError
		de *DecodeError
	)
	switch {
	case errors.As(err, &be):
		return KindBounds
	case errors.As(err, &te):
		return KindTruncated
	case errors.As(err, &de):
		return KindDecode
	}
	return KindOther
}
