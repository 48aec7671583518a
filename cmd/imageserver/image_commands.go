package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"imageserver/internal/api"
	"imageserver/internal/images"
)

func newSubmitCommand(cmdCtx *commandContext) *cobra.Command {
	var noProcess bool

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Register an image URL and run the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cmdCtx.close()
			store, _, runner, _, err := cmdCtx.services(cmd.Context())
			if err != nil {
				return err
			}

			rec, created, err := store.Create(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(cmd.OutOrStdout(), "already tracked as image %d (status %s)\n", rec.ID, rec.Status)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created image %d\n", rec.ID)

			if noProcess {
				return nil
			}
			final, err := runner.Run(cmd.Context(), rec.ID)
			if err != nil {
				// The terminal status is on the record; report it instead of
				// the internal wrapping.
				if failed, getErr := store.GetByID(cmd.Context(), rec.ID); getErr == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "image %d finished as %s: %s\n", failed.ID, failed.Status, failed.LastError)
					return nil
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "image %d finished as %s\n", final.ID, final.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noProcess, "no-process", false, "register only, do not run the pipeline")
	return cmd
}

func newShowCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one image record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cmdCtx.close()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid image id %q", args[0])
			}
			store, disks, _, _, err := cmdCtx.services(cmd.Context())
			if err != nil {
				return err
			}
			rec, err := store.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(api.FromRecord(disks, rec))
		},
	}
}

func newListCommand(cmdCtx *commandContext) *cobra.Command {
	var statusFlag string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List image records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cmdCtx.close()
			store, _, _, _, err := cmdCtx.services(cmd.Context())
			if err != nil {
				return err
			}

			var statuses []images.Status
			if strings.TrimSpace(statusFlag) != "" {
				status, err := images.ParseStatus(strings.TrimSpace(statusFlag))
				if err != nil {
					return err
				}
				statuses = append(statuses, status)
			}

			records, err := store.List(cmd.Context(), limit, statuses...)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					strconv.FormatInt(rec.ID, 10),
					rec.Status.String(),
					rec.OriginalURL,
					rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "STATUS", "URL", "UPDATED"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&statusFlag, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to list (0 for all)")
	return cmd
}

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show record counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cmdCtx.close()
			store, _, _, _, err := cmdCtx.services(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := store.Counts(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(counts.ByStatus)+1)
			for _, status := range images.AllStatuses() {
				if n, ok := counts.ByStatus[status]; ok {
					rows = append(rows, []string{status.String(), strconv.Itoa(n)})
				}
			}
			rows = append(rows, []string{"total", strconv.Itoa(counts.Total)})
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"STATUS", "COUNT"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newDeleteCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an image record and its stored files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer cmdCtx.close()
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid image id %q", args[0])
			}
			_, _, _, deleter, err := cmdCtx.services(cmd.Context())
			if err != nil {
				return err
			}
			if err := deleter.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted image %d\n", id)
			return nil
		},
	}
}
