package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cfgwalk/internal/disasm"
	"cfgwalk/internal/render"
)

func newDumpCmd(a *app) *cobra.Command {
	dumpCmd := &cobra.Command{
		Use:   "dump [file]",
		Short: "Linear sweep of an address range",
		Long: `Dump decodes every instruction from --begin up to --end without following
control flow. The last instruction may extend past --end.`,
		Example: `
# Dump the first 64 bytes of main
cfgwalk dump ./a.out --begin main --end main+64

# Dump a whole section
cfgwalk dump ./a.out --section .init
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lopts, err := loadFlags(cmd)
			if err != nil {
				return err
			}
			t, err := openTarget(args[0], a.cfg, lopts)
			if err != nil {
				return err
			}
			defer t.Close()

			beginArg, _ := cmd.Flags().GetString("begin")
			endArg, _ := cmd.Flags().GetString("end")

			begin, err := t.resolveExpr(beginArg)
			if err != nil {
				return fmt.Errorf("--begin: %w", err)
			}
			if err := t.mapAt(begin, a.cfg); err != nil {
				return err
			}
			if beginArg == "" {
				begin = t.region.Base
			}
			end := t.region.End()
			if endArg != "" {
				if end, err = t.resolveExpr(endArg); err != nil {
					return fmt.Errorf("--end: %w", err)
				}
			}
			if end < begin {
				return fmt.Errorf("--end %#x is before --begin %#x", end, begin)
			}

			insts, dumpErr := disasm.DumpSection(t.seg, begin, end)
			out := cmd.OutOrStdout()
			if err := render.Listing(out, insts, a.renderOptions(t, out)); err != nil {
				return err
			}
			return dumpErr
		},
	}
	dumpCmd.Flags().String("begin", "", "First address or symbol (default start of section)")
	dumpCmd.Flags().String("end", "", "Stop before this address (default end of section)")
	return dumpCmd
}
