// Package elftest writes minimal little-endian ELF64 executables for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// TextOffset is the file offset of .text. The single PT_LOAD maps the whole
// file at Base, so .text lives at Base+TextOffset.
const TextOffset = 0x100

// Func is a function symbol at Base+TextOffset+Off.
type Func struct {
	Name string
	Off  uint64
	Size uint64
}

// Binary describes the file to write.
type Binary struct {
	Machine elf.Machine
	Base    uint64
	Text    []byte
	Entry   uint64 // offset into Text
	Funcs   []Func
}

// TextAddr returns the virtual address of .text.
func (b Binary) TextAddr() uint64 { return b.Base + TextOffset }

// Write stores the binary in a temporary directory and returns its path.
func Write(t testing.TB, b Binary) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.out")
	if err := os.WriteFile(path, b.Bytes(), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func align8(n int) int { return (n + 7) &^ 7 }

// Bytes encodes the binary.
func (b Binary) Bytes() []byte {
	const (
		shText = iota + 1
		shSymtab
		shStrtab
		shShstrtab
		shNum
	)

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	syms := []elf.Sym64{{}}
	for _, f := range b.Funcs {
		syms = append(syms, elf.Sym64{
			Name:  uint32(strtab.Len()),
			Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
			Shndx: shText,
			Value: b.TextAddr() + f.Off,
			Size:  f.Size,
		})
		strtab.WriteString(f.Name)
		strtab.WriteByte(0)
	}
	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")

	strOff := TextOffset + len(b.Text)
	symOff := align8(strOff + strtab.Len())
	shstrOff := symOff + len(syms)*binary.Size(elf.Sym64{})
	shOff := align8(shstrOff + len(shstrtab))
	size := shOff + shNum*binary.Size(elf.Section64{})

	out := make([]byte, size)
	put := func(off int, v any) {
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			panic(err)
		}
		copy(out[off:], buf.Bytes())
	}

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	put(0, elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(b.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     b.TextAddr() + b.Entry,
		Phoff:     64,
		Shoff:     uint64(shOff),
		Ehsize:    64,
		Phentsize: 56,
		Phnum:     1,
		Shentsize: 64,
		Shnum:     shNum,
		Shstrndx:  shShstrtab,
	})
	put(64, elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    0,
		Vaddr:  b.Base,
		Paddr:  b.Base,
		Filesz: uint64(size),
		Memsz:  uint64(size),
		Align:  0x1000,
	})

	copy(out[TextOffset:], b.Text)
	copy(out[strOff:], strtab.Bytes())
	put(symOff, syms)
	copy(out[shstrOff:], shstrtab)

	put(shOff, []elf.Section64{
		{},
		{
			Name: 1, Type: uint32(elf.SHT_PROGBITS), Flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr: b.TextAddr(), Off: TextOffset, Size: uint64(len(b.Text)), Addralign: 16,
		},
		{
			Name: 7, Type: uint32(elf.SHT_SYMTAB), Off: uint64(symOff),
			Size: uint64(len(syms) * binary.Size(elf.Sym64{})), Link: shStrtab, Info: 1,
			Addralign: 8, Entsize: uint64(binary.Size(elf.Sym64{})),
		},
		{Name: 15, Type: uint32(elf.SHT_STRTAB), Off: uint64(strOff), Size: uint64(strtab.Len()), Addralign: 1},
		{Name: 23, Type: uint32(elf.SHT_STRTAB), Off: uint64(shstrOff), Size: uint64(len(shstrtab)), Addralign: 1},
	})
	return out
}
