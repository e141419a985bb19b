package disasm

// Decoder turns the bytes at the start of window into one instruction.
// addr is the virtual address of window[0]. Implementations must never read
// past window and must return ErrShortWindow (wrapped or not) when window
// ends in the middle of an otherwise valid encoding.
//
// Forked Segments share one Decoder and RunParallel decodes from several
// goroutines, so Decode must be safe for concurrent use.
type Decoder interface {
	Decode(window []byte, addr uint64) (Inst, int, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(window []byte, addr uint64) (Inst, int, error)

func (f DecoderFunc) Decode(window []byte, addr uint64) (Inst, int, error) {
	return f(window, addr)
}

// Session is the capability set the block builder and explorer walk.
// A Session owns a single cursor and is not safe for concurrent use.
type Session interface {
	// DecodeAtCursor decodes one instruction at the current cursor and
	// returns it with its encoded length.
	DecodeAtCursor() (Inst, int, error)
	// SuccessorsOf returns the resolved addresses control may reach after
	// inst, which was decoded at addr. Conditional branches and calls put
	// the fallthrough address at index 0.
	SuccessorsOf(inst Inst, addr uint64) []uint64
	// CurrentAddress returns the cursor.
	CurrentAddress() uint64
	// SetCursor moves the cursor and returns its previous value.
	SetCursor(addr uint64) uint64
}

// SessionFactory returns a fresh Session for each block build.
type SessionFactory func() Session
