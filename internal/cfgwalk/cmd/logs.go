package cmd

import (
	"fmt"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"cfgwalk/internal/logging"
)

func newLogsCmd(a *app) *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs [file]",
		Short: "Print the newest debug log",
		Long: `Logs prints the most recent log written with CFGWALK_LOG_TO_FILE=1, or the
given file. With --follow it keeps printing lines as they are written.`,
		Example: `
# Follow the log of a running walk
CFGWALK_LOG_TO_FILE=1 cfgwalk -d ./a.out > /dev/null &
cfgwalk logs --follow
  `,
		Args: cobra.MaximumNArgs(1),
		// No logger of its own, or it would become the newest log file.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				latest, err := logging.Latest(a.cfg.LogDir)
				if err != nil {
					return err
				}
				path = latest
			}

			follow, _ := cmd.Flags().GetBool("follow")
			t, err := tail.TailFile(path, tail.Config{
				Follow:    follow,
				ReOpen:    follow,
				MustExist: true,
				Logger:    tail.DiscardingLogger,
			})
			if err != nil {
				return fmt.Errorf("tail %s: %w", path, err)
			}
			defer t.Cleanup()

			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					t.Stop()
					return nil
				case line, ok := <-t.Lines:
					if !ok {
						return t.Wait()
					}
					if line.Err != nil {
						return line.Err
					}
					fmt.Fprintln(out, line.Text)
				}
			}
		},
	}
	logsCmd.Flags().BoolP("follow", "F", false, "Keep reading as the log grows")
	return logsCmd
}
