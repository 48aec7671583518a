package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imageserver/internal/maintenance"
)

func newSweepExpiredCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-expired",
		Short: "Mark records stuck mid-pipeline as expired",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cmdCtx.close()
			store, _, _, _, err := cmdCtx.services(cmd.Context())
			if err != nil {
				return err
			}
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			sweeper := maintenance.NewSweeper(store, cfg, cmdCtx.logger())
			n, err := sweeper.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d record(s)\n", n)
			return nil
		},
	}
}

func newCleanupOrphansCommand(cmdCtx *commandContext) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cleanup-orphans",
		Short: "Delete stored files no record references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cmdCtx.close()
			store, disks, _, _, err := cmdCtx.services(cmd.Context())
			if err != nil {
				return err
			}
			reconciler := maintenance.NewReconciler(store, disks, cmdCtx.logger())
			report, err := reconciler.Reconcile(cmd.Context(), dryRun)
			if err != nil {
				return err
			}

			total := 0
			for disk, keys := range report.Orphans {
				for _, key := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", disk, key)
				}
				total += len(keys)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "found %d orphan(s) across %d scanned key(s); none deleted (dry run)\n", total, report.Scanned)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d of %d orphan(s) across %d scanned key(s)\n", report.Deleted, total, report.Scanned)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphans without deleting them")
	return cmd
}
