package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/playbook"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var rulePaths []string

	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a playbook",
		Long: `Validate a playbook in three phases.

This command checks:
  - YAML syntax
  - Play and task structure
  - Security rules (dangerous commands, paths, protocols and modules)

Rule files from the config file and --rules extend the built-in rules.`,
		Example: `  # Validate a playbook with the built-in rules
  inspector validate site.yml

  # Add site-specific rules
  inspector validate --rules ./rules site.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			paths := rulePaths
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				paths = append(cfg.Rules.Paths, paths...)
			}

			validator := playbook.NewDefaultValidator()
			if len(paths) > 0 {
				rs, err := playbook.NewRuleLoader(log.Logger).Load(cmd.Context(), paths)
				if err != nil {
					return err
				}
				if err := validator.SetRules(rs); err != nil {
					return err
				}
			}

			report := validator.Validate(string(content))
			if jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), args[0], report)
			}

			if !report.Valid {
				return fmt.Errorf("%s is not valid", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&rulePaths, "rules", nil, "rule files or directories")

	return cmd
}

func printReport(w io.Writer, name string, r *playbook.Report) {
	mark := func(ok bool) string {
		if ok {
			return "ok"
		}
		return "FAILED"
	}

	fmt.Fprintf(w, "%s: %d plays, %d tasks\n", name, r.Plays, r.Tasks)
	fmt.Fprintf(w, "  syntax:    %s\n", mark(r.SyntaxValid))
	if r.SyntaxError != "" {
		fmt.Fprintf(w, "    %s\n", r.SyntaxError)
	}
	fmt.Fprintf(w, "  structure: %s\n", mark(r.StructureValid))
	for _, issue := range r.StructureIssues {
		fmt.Fprintf(w, "    - %s\n", issue)
	}
	fmt.Fprintf(w, "  security:  %s\n", mark(r.SecurityValid))
	for _, v := range r.SecurityViolations {
		fmt.Fprintf(w, "    - %s\n", v)
	}
}
