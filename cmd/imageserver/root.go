package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "imageserver",
		Short:         "Image pipeline operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to config file")

	ctx := newCommandContext(&configFlag)

	root.AddCommand(newSubmitCommand(ctx))
	root.AddCommand(newShowCommand(ctx))
	root.AddCommand(newListCommand(ctx))
	root.AddCommand(newStatusCommand(ctx))
	root.AddCommand(newDeleteCommand(ctx))
	root.AddCommand(newSweepExpiredCommand(ctx))
	root.AddCommand(newCleanupOrphansCommand(ctx))
	root.AddCommand(newConfigCommand(ctx))

	return root
}
