package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/pprof"

	"github.com/charmbracelet/fang"
	charmlog "github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cfgwalk/internal/cfgwalk/config"
	"cfgwalk/internal/cfgwalk/log"
	"cfgwalk/internal/disasm"
	"cfgwalk/internal/logging"
	"cfgwalk/internal/render"
	"cfgwalk/internal/ui/colorize"
)

// app carries the settings resolved before any command runs.
type app struct {
	cfg    config.Config
	logger *logging.LoggerCloser
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := a.loadConfig(cmd); err != nil {
		return err
	}

	a.logger = logging.NewLogger(a.cfg.LogDir)
	if a.cfg.Debug {
		a.logger.SetLevel(charmlog.DebugLevel)
	}
	log.Setup(a.logger.Logger, a.cfg.Debug)
	if a.logger.Path != "" {
		slog.Debug("Logging to file", "path", a.logger.Path)
	}
	return nil
}

// loadConfig resolves the config file, environment and flags into a.cfg.
func (a *app) loadConfig(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applyFlags(cmd.Flags(), &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	a.cfg = cfg

	if cfg.NoColor {
		os.Setenv("CFGWALK_NO_COLOR", "1")
	}
	return nil
}

func (a *app) teardown() error {
	if a.logger == nil {
		return nil
	}
	return a.logger.Close()
}

// applyFlags copies every explicitly set flag over the loaded config.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("arch") {
		cfg.Arch, _ = flags.GetString("arch")
	}
	if flags.Changed("section") {
		cfg.Section, _ = flags.GetString("section")
	}
	if flags.Changed("max-blocks") {
		cfg.MaxBlocks, _ = flags.GetInt("max-blocks")
	}
	if flags.Changed("max-block-insts") {
		cfg.MaxBlockInsts, _ = flags.GetInt("max-block-insts")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("no-follow-calls") {
		cfg.NoFollowCalls, _ = flags.GetBool("no-follow-calls")
	}
	if flags.Changed("fence") {
		cfg.Fence, _ = flags.GetBool("fence")
	}
	if flags.Changed("strict") {
		cfg.Strict, _ = flags.GetBool("strict")
	}
	if flags.Changed("format") {
		cfg.Format, _ = flags.GetString("format")
	}
	if flags.Changed("no-color") {
		cfg.NoColor, _ = flags.GetBool("no-color")
	}
	if flags.Changed("debug") {
		cfg.Debug, _ = flags.GetBool("debug")
	}
	if flags.Changed("log-dir") {
		cfg.LogDir, _ = flags.GetString("log-dir")
	}
}

// loadFlags reads --raw and --base.
func loadFlags(cmd *cobra.Command) (loadOptions, error) {
	var opts loadOptions
	opts.Raw, _ = cmd.Flags().GetBool("raw")
	if base, _ := cmd.Flags().GetString("base"); base != "" {
		v, err := parseAddr(base)
		if err != nil {
			return opts, fmt.Errorf("--base: %w", err)
		}
		opts.Base = v
	} else if opts.Raw {
		return opts, fmt.Errorf("--raw needs --base")
	}
	return opts, nil
}

// renderOptions decides colouring: never when piped or disabled.
func (a *app) renderOptions(t *target, w io.Writer) render.Options {
	return render.Options{
		Arch:   t.arch.String(),
		Labels: t.labels(),
		Color:  !a.cfg.NoColor && colorize.Enabled() && isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func terminalWidth() int {
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return 80
}

func writeResult(w io.Writer, res *disasm.Result, opts render.Options, format string) error {
	switch format {
	case "json":
		opts.Insts = true
		return render.JSON(w, res, opts)
	case "dot":
		return render.DOT(w, res, opts)
	case "markdown":
		return render.Markdown(w, res, opts, terminalWidth())
	default:
		return render.Text(w, res, opts)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "cfgwalk [file]",
		Short: "Recover the control flow graph of machine code",
		Long: `cfgwalk disassembles a binary from a seed address and follows every
branch, jump and call it can resolve, printing the basic blocks it finds.`,
		Example: `
# Walk from the ELF entry point
cfgwalk ./a.out

# Walk from a symbol and emit Graphviz
cfgwalk ./a.out --seed main --format dot | dot -Tsvg > cfg.svg

# Walk a flat image
cfgwalk --raw --base 0x7c00 --arch 386 boot.bin
  `,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
			if cpuprofile != "" {
				f, err := os.Create(cpuprofile)
				if err != nil {
					return fmt.Errorf("could not create CPU profile: %v", err)
				}
				defer f.Close()
				if err := pprof.StartCPUProfile(f); err != nil {
					return fmt.Errorf("could not start CPU profile: %v", err)
				}
				defer pprof.StopCPUProfile()
			}

			memprofile, _ := cmd.Flags().GetString("memprofile")
			if memprofile != "" {
				defer func() {
					f, err := os.Create(memprofile)
					if err != nil {
						fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
						return
					}
					defer f.Close()
					if err := pprof.WriteHeapProfile(f); err != nil {
						fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
					}
				}()
			}

			return a.walk(cmd, args[0])
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "JSON config file (see `cfgwalk schema`)")
	pf.BoolP("debug", "d", false, "Debug")
	pf.String("log-dir", "", "Directory for log files when CFGWALK_LOG_TO_FILE=1")
	pf.String("arch", "", "Instruction set: amd64, 386 or arm64 (default from ELF header)")
	pf.Bool("raw", false, "Treat the file as a flat image instead of ELF")
	pf.String("base", "", "Load address of a raw image")
	pf.String("section", "", "Section to disassemble (default .text)")
	pf.Bool("no-follow-calls", false, "Do not explore call targets")
	pf.Bool("no-color", false, "Disable syntax highlighting")

	explorationFlags(rootCmd.Flags())
	rootCmd.Flags().StringP("format", "f", "text", "Output format: text, json, dot or markdown")
	rootCmd.Flags().String("cpuprofile", "", "Write CPU profile to file")
	rootCmd.Flags().String("memprofile", "", "Write memory profile to file")

	rootCmd.AddCommand(
		newDumpCmd(a),
		newBrowseCmd(a),
		newLogsCmd(a),
		newSchemaCmd(),
	)
	return rootCmd
}

// explorationFlags registers the flags shared by commands that explore.
func explorationFlags(fs *pflag.FlagSet) {
	fs.StringP("seed", "s", "", "Start address or symbol (default entry point)")
	fs.Int("max-blocks", 0, "Stop after this many blocks (0 for no limit)")
	fs.Int("max-block-insts", 0, "Split blocks longer than this many instructions")
	fs.Int("workers", 1, "Blocks decoded concurrently per level")
	fs.Bool("fence", false, "Report targets outside the section instead of exploring them")
	fs.Bool("strict", false, "Abort on the first block that fails to decode")
}

// prepare opens path and maps the region holding the seed.
func (a *app) prepare(cmd *cobra.Command, path string) (*target, uint64, error) {
	lopts, err := loadFlags(cmd)
	if err != nil {
		return nil, 0, err
	}
	t, err := openTarget(path, a.cfg, lopts)
	if err != nil {
		return nil, 0, err
	}
	seedArg, _ := cmd.Flags().GetString("seed")
	seed, err := t.resolveExpr(seedArg)
	if err == nil {
		err = t.mapAt(seed, a.cfg)
	}
	if err != nil {
		t.Close()
		return nil, 0, err
	}
	slog.Debug("Loaded target",
		"file", path,
		"arch", t.arch,
		"region", t.region.Name,
		"base", fmt.Sprintf("%#x", t.region.Base),
		"size", len(t.region.Data),
		"seed", fmt.Sprintf("%#x", seed))
	return t, seed, nil
}

func (a *app) walk(cmd *cobra.Command, path string) error {
	t, seed, err := a.prepare(cmd, path)
	if err != nil {
		return err
	}
	defer t.Close()

	// A strict or interrupted run still prints what it found.
	res, runErr := explore(cmd.Context(), t, seed, a.cfg, a.logger.Logger)
	if res == nil {
		return runErr
	}
	out := cmd.OutOrStdout()
	if err := writeResult(out, res, a.renderOptions(t, out), a.cfg.Format); err != nil {
		return err
	}
	return runErr
}

// Execute runs the CLI, through fang on a terminal and plain cobra otherwise.
func Execute() {
	rootCmd := NewRootCmd()

	if !term.IsTerminal(os.Stdout.Fd()) {
		// Use cobra directly to avoid fang's automatic markdown rendering
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
