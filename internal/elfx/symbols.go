package elfx

import (
	"debug/elf"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// Sym is a function symbol.
type Sym struct {
	Name string
	Addr uint64
	Size uint64
}

// Demangled returns the symbol's demangled name, or Name if it is not mangled.
func (s Sym) Demangled() string { return Demangle(s.Name) }

// loadSymbols merges .dynsym and .symtab function symbols. The first name
// seen at an address wins, dynamic symbols first.
func (im *Image) loadSymbols() {
	if im.File == nil {
		return
	}
	seen := make(map[uint64]bool)
	add := func(syms []elf.Symbol) {
		for _, s := range syms {
			if s.Value == 0 || s.Name == "" || elf.ST_TYPE(s.Info) != elf.STT_FUNC || seen[s.Value] {
				continue
			}
			seen[s.Value] = true
			im.Syms = append(im.Syms, Sym{Name: s.Name, Addr: s.Value, Size: s.Size})
		}
	}
	if dyn, err := im.File.DynamicSymbols(); err == nil {
		add(dyn)
	}
	if syms, err := im.File.Symbols(); err == nil {
		add(syms)
	}
	slices.SortFunc(im.Syms, func(a, b Sym) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
}

// FindFunctionByName searches for a function by raw or demangled name.
func (im *Image) FindFunctionByName(name string) (uint64, bool) {
	for _, sym := range im.Syms {
		if sym.Name == name {
			return sym.Addr, true
		}
	}
	for _, sym := range im.Syms {
		if sym.Demangled() == name {
			return sym.Addr, true
		}
	}
	return 0, false
}

// SymbolAt returns the symbol covering va and va's offset into it. Symbols
// without a size only cover their own address.
func (im *Image) SymbolAt(va uint64) (Sym, uint64, bool) {
	i, found := slices.BinarySearchFunc(im.Syms, va, func(s Sym, va uint64) int {
		switch {
		case s.Addr < va:
			return -1
		case s.Addr > va:
			return 1
		}
		return 0
	})
	if found {
		return im.Syms[i], 0, true
	}
	if i == 0 {
		return Sym{}, 0, false
	}
	s := im.Syms[i-1]
	if va < s.Addr+s.Size {
		return s, va - s.Addr, true
	}
	return Sym{}, 0, false
}

// Label names va as "sym" or "sym+0x10", or returns "" when no symbol covers it.
func (im *Image) Label(va uint64) string {
	s, off, ok := im.SymbolAt(va)
	if !ok {
		return ""
	}
	if off == 0 {
		return s.Demangled()
	}
	return fmt.Sprintf("%s+%#x", s.Demangled(), off)
}

var demangleCache = struct {
	sync.RWMutex
	m map[string]string
}{m: make(map[string]string)}

// Demangle demangles C++ and Rust names, caching results. Names that are
// not mangled come back unchanged.
func Demangle(name string) string {
	if !strings.HasPrefix(name, "_Z") && !strings.HasPrefix(name, "_R") {
		return name
	}
	demangleCache.RLock()
	d, ok := demangleCache.m[name]
	demangleCache.RUnlock()
	if ok {
		return d
	}

	d = demangle.Filter(name, demangle.NoClones)

	demangleCache.Lock()
	demangleCache.m[name] = d
	demangleCache.Unlock()
	return d
}
