package commands

import (
	"fmt"
	"os"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/sections"
	"github.com/openfroyo/inspector/pkg/tui"
	"github.com/spf13/cobra"
)

func newSectionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sections",
		Short: "Split and rebuild inspection scripts",
		Long: `Work with the sections of a shell inspection script locally.

A script is split into an init section and one section per check unit.
Rebuilding keeps the init section and the selected units only.`,
	}

	cmd.AddCommand(newSectionsParseCommand())
	cmd.AddCommand(newSectionsReconstructCommand())

	return cmd
}

func newSectionsParseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "parse FILE",
		Short: "List the sections of a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser, err := localParser()
			if err != nil {
				return err
			}

			secs, err := parser.ParseFile(args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), secs)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tui.SectionsTable(secs))
			return err
		},
	}
}

func newSectionsReconstructCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "reconstruct FILE IDS...",
		Short:   "Print a script limited to the given sections",
		Example: `  inspector sections reconstruct check.sh section_2 section_5 > subset.sh`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser, err := localParser()
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			text := sections.NormalizeLineEndings(string(data))
			_, err = fmt.Fprint(cmd.OutOrStdout(), parser.Reconstruct(text, args[1:]))
			return err
		},
	}
}

// localParser uses the section convention of the config file, if one is
// given.
func localParser() (*sections.Parser, error) {
	conv := sections.DefaultConvention()
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		conv = cfg.Sections
	}
	return sections.NewParser(conv)
}
