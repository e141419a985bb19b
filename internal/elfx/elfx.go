// Package elfx provides helpers for opening ELF binaries, locating sections, and mapping virtual addresses to file offsets.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"syscall"

	"cfgwalk/internal/arch"
)

type Image struct {
	Path  string
	File  *elf.File
	All   []byte
	Loads []Seg
	Text  Section
	Syms  []Sym // function symbols sorted by address
	f     *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

// Region is a contiguous run of bytes mapped at Base.
type Region struct {
	Name string
	Base uint64
	Data []byte
}

// End returns the address immediately past the region.
func (r Region) End() uint64 { return r.Base + uint64(len(r.Data)) }

// Contains reports whether va lies inside the region.
func (r Region) Contains(va uint64) bool { return va >= r.Base && va < r.End() }

var ErrNoSection = errors.New("section not found")

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	if s := f.Section(".text"); s != nil {
		im.Text = Section{s.Name, s.Addr, s.Offset, s.Size}
	}
	// Fallback if stripped of section headers.
	if im.Text.Size == 0 {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz}
				break
			}
		}
	}

	im.loadSymbols()
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		if err := im.File.Close(); err != nil && err2 == nil {
			err2 = err
		}
		im.File = nil
	}
	return errors.Join(err1, err2)
}

// Entry returns the ELF entry point.
func (im *Image) Entry() uint64 { return im.File.Entry }

// Arch maps the ELF machine to a supported architecture.
func (im *Image) Arch() (arch.Arch, error) {
	return arch.FromMachine(im.File.Machine)
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va-l.Vaddr < l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	return im.sliceFile(off, size)
}

// sliceFile bounds-checks [off, off+size) against the mapping without
// overflowing on header values from a malformed file.
func (im *Image) sliceFile(off, size uint64) ([]byte, bool) {
	n := uint64(len(im.All))
	if off > n || size > n-off {
		return nil, false
	}
	return im.All[off : off+size], true
}

// Section returns the named section's bytes as a Region. An empty name
// selects the text region.
func (im *Image) Section(name string) (Region, error) {
	if name == "" {
		return im.sliceRegion(im.Text)
	}
	s := im.File.Section(name)
	if s == nil {
		return Region{}, fmt.Errorf("%s: %w", name, ErrNoSection)
	}
	if s.Type == elf.SHT_NOBITS {
		return Region{}, fmt.Errorf("%s occupies no file space", name)
	}
	if s.Addr == 0 {
		return Region{}, fmt.Errorf("%s is not mapped at runtime", name)
	}
	return im.sliceRegion(Section{s.Name, s.Addr, s.Offset, s.Size})
}

func (im *Image) sliceRegion(s Section) (Region, error) {
	if s.Size == 0 {
		return Region{}, fmt.Errorf("%q: %w", s.Name, ErrNoSection)
	}
	data, ok := im.sliceFile(s.Off, s.Size)
	if !ok {
		return Region{}, fmt.Errorf("%s at offset %#x size %#x extends past end of file", s.Name, s.Off, s.Size)
	}
	return Region{Name: s.Name, Base: s.VA, Data: data}, nil
}

// LoadRegion returns the executable PT_LOAD segment containing va.
func (im *Image) LoadRegion(va uint64) (Region, error) {
	for _, l := range im.Loads {
		if l.Flags&elf.PF_X == 0 || va < l.Vaddr || va-l.Vaddr >= l.Filesz {
			continue
		}
		data, ok := im.SliceVA(l.Vaddr, l.Filesz)
		if !ok {
			return Region{}, fmt.Errorf("segment at %#x extends past end of file", l.Vaddr)
		}
		return Region{
			Name: fmt.Sprintf("LOAD@%#x", l.Vaddr),
			Base: l.Vaddr,
			Data: data,
		}, nil
	}
	return Region{}, fmt.Errorf("%#x is not in an executable segment", va)
}

// LoadRaw reads a flat binary to be mapped at base.
func LoadRaw(path string, base uint64) (Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Region{}, fmt.Errorf("read raw image: %w", err)
	}
	return Region{Name: "raw", Base: base, Data: data}, nil
}
