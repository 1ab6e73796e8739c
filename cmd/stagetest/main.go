// Command stagetest exercises a staging stream end to end: it can run
// the hub, drive a writer or reader group against it, or run a full
// writer/reader matrix in-process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stagecast/stagecast/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	logLevel string
	logDev   bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "stagetest",
		Short:         "Exercise a staging stream end to end",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&flags.logDev, "log-dev", false, "human-readable log output")

	cmd.AddCommand(
		newHubCmd(flags),
		newWriterCmd(flags),
		newReaderCmd(flags),
		newMatrixCmd(flags),
		newStatusCmd(),
	)
	return cmd
}

func (f *rootFlags) logger() (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:       f.logLevel,
		Development: f.logDev,
	})
}
