// Command tarstream lists, extracts and rewrites tar archives in any of the
// v7, ustar, GNU and pax dialects, compressed or not.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "tarstream [OPTIONS] COMMAND",
		Short:         "Inspect and rewrite tar archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}
	opts.installFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newListCommand(opts),
		newCatCommand(opts),
		newConvertCommand(opts),
	)
	return cmd
}

func main() {
	logrus.SetOutput(os.Stderr)

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "tarstream: %s\n", err)
		os.Exit(1)
	}
}
