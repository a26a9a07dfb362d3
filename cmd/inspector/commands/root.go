package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/inspector/pkg/api"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8000"

var (
	// Global flags
	configPath string
	serverURL  string
	actorName  string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "inspector",
		Short: "Inspector - multi-host script inspection service",
		Long: `Inspector runs inspection scripts and playbooks across many hosts and
collects per-host results.

Features:
  - Section-addressable shell scripts (run only selected checks)
  - Concurrent execution over SSH, ansible or a local shell
  - Three-phase playbook validation (syntax, structure, security)
  - Optional OPA policy gate and Starlark verdicts
  - CSV reports of check results`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("INSPECTOR_SERVER")
	if server == "" {
		server = defaultServer
	}
	actor := os.Getenv("USER")
	if actor == "" {
		actor = "cli"
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", server, "inspector API URL")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", actor, "name recorded in the audit trail")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newSectionsCommand())
	rootCmd.AddCommand(newHostsCommand())
	rootCmd.AddCommand(newScriptsCommand())
	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func newClient() *api.Client {
	return api.NewClient(serverURL, actorName)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
