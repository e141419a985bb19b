// Package arch binds golang.org/x/arch decoders to the disasm.Decoder
// contract and classifies each instruction's control flow.
package arch

import (
	"debug/elf"
	"fmt"
	"strings"

	"cfgwalk/internal/disasm"
)

// Arch names an instruction set.
type Arch string

const (
	AMD64 Arch = "amd64"
	I386  Arch = "386"
	ARM64 Arch = "arm64"
)

// All lists the supported architectures.
var All = []Arch{AMD64, I386, ARM64}

// Parse accepts an architecture name, including a few common aliases.
func Parse(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "amd64", "x86_64", "x86-64", "x64":
		return AMD64, nil
	case "386", "i386", "x86", "ia32":
		return I386, nil
	case "arm64", "aarch64":
		return ARM64, nil
	}
	return "", fmt.Errorf("unsupported architecture %q", s)
}

// FromMachine maps an ELF machine to an architecture.
func FromMachine(m elf.Machine) (Arch, error) {
	switch m {
	case elf.EM_X86_64:
		return AMD64, nil
	case elf.EM_386:
		return I386, nil
	case elf.EM_AARCH64:
		return ARM64, nil
	}
	return "", fmt.Errorf("unsupported machine %s", m)
}

// Decoder returns the decoder for a.
func (a Arch) Decoder() (disasm.Decoder, error) {
	switch a {
	case AMD64:
		return X86{Mode: 64}, nil
	case I386:
		return X86{Mode: 32}, nil
	case ARM64:
		return ARM64Decoder{}, nil
	}
	return nil, fmt.Errorf("no decoder for %q", string(a))
}

// MaxInstLen is the longest encoding a may produce.
func (a Arch) MaxInstLen() int {
	if a == ARM64 {
		return 4
	}
	return 15
}

func (a Arch) String() string { return string(a) }
