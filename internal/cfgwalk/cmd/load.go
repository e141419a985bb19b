package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"cfgwalk/internal/arch"
	"cfgwalk/internal/cfgwalk/config"
	"cfgwalk/internal/disasm"
	"cfgwalk/internal/elfx"
	"cfgwalk/internal/render"
)

// target is a loaded binary with the region being disassembled.
type target struct {
	path   string
	arch   arch.Arch
	img    *elfx.Image // nil for raw images
	region elfx.Region
	seg    *disasm.Segment
}

type loadOptions struct {
	Raw  bool
	Base uint64
}

// openTarget opens an ELF file, or a flat image when opts.Raw is set.
// Call mapAt before decoding.
func openTarget(path string, cfg config.Config, opts loadOptions) (*target, error) {
	t := &target{path: path}

	if opts.Raw {
		region, err := elfx.LoadRaw(path, opts.Base)
		if err != nil {
			return nil, err
		}
		t.region = region
		t.arch = arch.AMD64
		if cfg.Arch != "" {
			a, err := arch.Parse(cfg.Arch)
			if err != nil {
				return nil, err
			}
			t.arch = a
		}
		return t, nil
	}

	img, err := elfx.Open(path)
	if err != nil {
		return nil, err
	}
	t.img = img

	if cfg.Arch != "" {
		t.arch, err = arch.Parse(cfg.Arch)
	} else {
		t.arch, err = img.Arch()
	}
	if err != nil {
		img.Close()
		return nil, err
	}
	return t, nil
}

func (t *target) Close() error {
	if t.img == nil {
		return nil
	}
	return t.img.Close()
}

// mapAt picks the region to decode and builds the segment over it. A named
// section wins; otherwise the text section is used when it holds addr, and
// the executable segment holding addr when it does not.
func (t *target) mapAt(addr uint64, cfg config.Config) error {
	if t.img != nil {
		region, err := t.pickRegion(addr, cfg.Section)
		if err != nil {
			return err
		}
		t.region = region
	}

	dec, err := t.arch.Decoder()
	if err != nil {
		return err
	}
	t.seg = disasm.NewSegment(t.region.Data, t.region.Base, dec, disasm.WithFollowCalls(!cfg.NoFollowCalls))
	return nil
}

func (t *target) pickRegion(addr uint64, section string) (elfx.Region, error) {
	if section != "" {
		return t.img.Section(section)
	}
	text, err := t.img.Section("")
	if err == nil && text.Contains(addr) {
		return text, nil
	}
	if load, lerr := t.img.LoadRegion(addr); lerr == nil {
		return load, nil
	}
	if err != nil {
		return elfx.Region{}, err
	}
	// Let the explorer report the seed as out of bounds.
	return text, nil
}

// labels returns the symbol labeler, or nil for raw images.
func (t *target) labels() render.Labeler {
	if t.img == nil {
		return nil
	}
	return t.img
}

// resolve turns a number or a symbol name into an address. An empty string
// means the ELF entry point, or the base of a raw image.
func (t *target) resolve(s string) (uint64, error) {
	if s == "" {
		if t.img != nil {
			return t.img.Entry(), nil
		}
		return t.region.Base, nil
	}
	if addr, err := strconv.ParseUint(s, 0, 64); err == nil {
		return addr, nil
	}
	// Symbols take precedence over bare hex, so "add" stays a name.
	if t.img != nil {
		if addr, ok := t.img.FindFunctionByName(s); ok {
			return addr, nil
		}
	}
	if addr, err := parseAddr(s); err == nil {
		return addr, nil
	}
	return 0, fmt.Errorf("%q is neither an address nor a known symbol", s)
}

// resolveExpr is resolve with an optional "+off" or "-off" suffix, as in
// "main+0x40".
func (t *target) resolveExpr(s string) (uint64, error) {
	if i := strings.LastIndexAny(s, "+-"); i > 0 {
		if off, err := parseAddr(s[i+1:]); err == nil {
			base, err := t.resolve(s[:i])
			if err != nil {
				return 0, err
			}
			if s[i] == '-' {
				return base - off, nil
			}
			return base + off, nil
		}
	}
	return t.resolve(s)
}

var errEmptyAddr = errors.New("empty address")

// parseAddr accepts Go integer literals (1000, 0x1000, 0o17) and falls back
// to bare hex such as "401a2f".
func parseAddr(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errEmptyAddr
	}
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return v, nil
}

// explore runs the worklist exploration from seed over the target segment.
func explore(ctx context.Context, t *target, seed uint64, cfg config.Config, logger *log.Logger) (*disasm.Result, error) {
	opts := []disasm.Option{
		disasm.WithMaxBlocks(cfg.MaxBlocks),
		disasm.WithMaxBlockInsts(cfg.MaxBlockInsts),
		disasm.WithStrict(cfg.Strict),
	}
	if logger != nil {
		opts = append(opts, disasm.WithLogger(logger))
	}
	if cfg.Fence {
		opts = append(opts, disasm.WithFence(t.region.Base, t.region.End()))
	}
	return disasm.NewExploration(seed, opts...).RunParallel(ctx, t.seg.Factory(), cfg.Workers)
}
