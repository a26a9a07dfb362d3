package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/inspector/pkg/tui"
	"github.com/spf13/cobra"
)

func newScriptsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scripts",
		Short: "Manage the script catalog",
	}

	cmd.AddCommand(newScriptsListCommand())
	cmd.AddCommand(newScriptsUploadCommand())
	cmd.AddCommand(newScriptsShowCommand())
	cmd.AddCommand(newScriptsRemoveCommand())

	return cmd
}

func newScriptsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List catalog scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scripts, err := newClient().ListScripts(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), scripts)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tui.ScriptsTable(scripts))
			return err
		},
	}
}

func newScriptsUploadCommand() *cobra.Command {
	var (
		name        string
		description string
	)

	cmd := &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a shell script (.sh) or playbook (.yml, .yaml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			view, err := newClient().UploadScript(cmd.Context(), name, description, args[0], content)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), view)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s as %s (%s, %d sections, %d tasks)\n",
				view.Filename, view.ID, view.Type, len(view.Sections), view.Tasks)
			return err
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "display name (defaults to the file name)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description")

	return cmd
}

func newScriptsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a script and its sections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := newClient().GetScript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", view.Name, view.ID)
			fmt.Fprintf(out, "  file: %s\n  type: %s\n", view.Filename, view.Type)
			if view.Description != "" {
				fmt.Fprintf(out, "  description: %s\n", view.Description)
			}
			if len(view.Sections) == 0 {
				_, err = fmt.Fprintf(out, "  tasks: %d\n", view.Tasks)
				return err
			}
			_, err = fmt.Fprintln(out, tui.SectionsTable(view.Sections))
			return err
		},
	}
}

func newScriptsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"remove"},
		Short:   "Delete a script",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DeleteScript(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted script %s\n", args[0])
			return err
		},
	}
}
