package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/inspector/pkg/api"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/tui"
	"github.com/spf13/cobra"
)

func newExecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Run scripts on hosts and follow executions",
	}

	cmd.AddCommand(newExecStartCommand())
	cmd.AddCommand(newExecStatusCommand())
	cmd.AddCommand(newExecWatchCommand())
	cmd.AddCommand(newExecReportCommand())

	return cmd
}

func newExecStartCommand() *cobra.Command {
	var (
		hostIDs    []string
		sectionIDs []string
		watch      bool
		cred       credentialFlags
	)

	cmd := &cobra.Command{
		Use:   "start SCRIPT_ID",
		Short: "Start an execution",
		Example: `  # Run two checks of a script on two hosts and follow progress
  inspector exec start 3f1c... --host h1 --host h2 --sections section_2,section_5 --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			rec, err := client.StartExecution(cmd.Context(), args[0], api.StartExecutionRequest{
				HostIDs:           hostIDs,
				SectionIDs:        sectionIDs,
				CredentialRequest: cred.request(),
			})
			if err != nil {
				return err
			}

			if watch {
				return watchExecution(cmd, client, rec.ID)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Started execution %s on %d hosts\n", rec.ID, rec.TotalHosts)
			return err
		},
	}

	cmd.Flags().StringSliceVar(&hostIDs, "host", nil, "host ID (repeatable)")
	cmd.Flags().StringSliceVar(&sectionIDs, "sections", nil, "section IDs to run (default: whole script)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the execution until it finishes")
	cred.register(cmd)
	_ = cmd.MarkFlagRequired("host")

	return cmd
}

func newExecStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [ID]",
		Short: "Show one execution, or list all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()

			if len(args) == 0 {
				execs, err := client.ListExecutions(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), execs)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), tui.ExecutionsTable(execs))
				return err
			}

			rec, err := client.GetExecution(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tui.ExecutionDetail(rec))
			return err
		},
	}
}

func newExecWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch ID",
		Short: "Follow an execution until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchExecution(cmd, newClient(), args[0])
		},
	}
}

func newExecReportCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report ID",
		Short: "Download the CSV check report of an execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := newClient().Report(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func watchExecution(cmd *cobra.Command, client *api.Client, id string) error {
	fetch := func(ctx context.Context) (*engine.ExecutionRecord, error) {
		return client.GetExecution(ctx, id)
	}

	rec, err := tui.Watch(cmd.Context(), fetch, time.Second, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if rec != nil && rec.Status == engine.StatusFailed {
		return fmt.Errorf("execution %s failed", id)
	}
	return nil
}
