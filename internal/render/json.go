package render

import (
	"encoding/json"
	"fmt"
	"io"

	"cfgwalk/internal/disasm"
)

// Document is the JSON form of a Result.
type Document struct {
	Seed       uint64          `json:"seed"`
	Arch       string          `json:"arch,omitempty"`
	Blocks     []BlockDocument `json:"blocks"`
	Discovered []uint64        `json:"discovered"`
	Failures   []FailureDoc    `json:"failures,omitempty"`
	External   []uint64        `json:"external,omitempty"`
	Pending    []uint64        `json:"pending,omitempty"`
}

// BlockDocument is one basic block with its label and, when requested, its
// decoded instructions.
type BlockDocument struct {
	*disasm.BasicBlock
	Label string    `json:"label,omitempty"`
	Insts []InstDoc `json:"insts,omitempty"`
}

// InstDoc is a decoded instruction with its encoding as hex.
type InstDoc struct {
	VA    uint64 `json:"va"`
	Bytes string `json:"bytes"`
	Text  string `json:"text"`
	Flow  string `json:"flow"`
}

// FailureDoc is an address that could not be decoded.
type FailureDoc struct {
	Addr  uint64 `json:"addr"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// NewDocument converts res.
func NewDocument(res *disasm.Result, opts Options) Document {
	doc := Document{
		Seed:       res.Seed,
		Arch:       opts.Arch,
		Blocks:     make([]BlockDocument, 0, len(res.Blocks)),
		Discovered: res.Discovered.Sorted(),
		External:   res.External,
		Pending:    res.Pending,
	}
	for _, b := range res.Blocks {
		bd := BlockDocument{BasicBlock: b, Label: opts.label(b.Begin)}
		if opts.Insts {
			for _, inst := range b.Insts {
				bd.Insts = append(bd.Insts, InstDoc{
					VA:    inst.VA,
					Bytes: fmt.Sprintf("%x", inst.Raw),
					Text:  inst.Text,
					Flow:  inst.Flow.String(),
				})
			}
		}
		doc.Blocks = append(doc.Blocks, bd)
	}
	for _, f := range res.Failures {
		doc.Failures = append(doc.Failures, FailureDoc{Addr: f.Addr, Kind: string(f.Kind), Error: f.Err.Error()})
	}
	return doc
}

// JSON writes res as an indented Document.
func JSON(w io.Writer, res *disasm.Result, opts Options) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(res, opts)); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
