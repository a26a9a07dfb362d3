package commands

import (
	"fmt"
	"os"

	"github.com/openfroyo/inspector/pkg/api"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/tui"
	"github.com/spf13/cobra"
)

// credentialFlags holds the per-call login secret. The password may also
// come from INSPECTOR_PASSWORD so it stays out of shell history.
type credentialFlags struct {
	password string
	keyPath  string
}

func (c *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.password, "password", "", "login and sudo password (or INSPECTOR_PASSWORD)")
	cmd.Flags().StringVar(&c.keyPath, "key", "", "private key path on the server")
}

func (c *credentialFlags) request() api.CredentialRequest {
	password := c.password
	if password == "" {
		password = os.Getenv("INSPECTOR_PASSWORD")
	}
	return api.CredentialRequest{Password: password, KeyPath: c.keyPath}
}

func newHostsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "Manage inspection targets",
	}

	cmd.AddCommand(newHostsListCommand())
	cmd.AddCommand(newHostsAddCommand())
	cmd.AddCommand(newHostsRemoveCommand())
	cmd.AddCommand(newHostsDetectCommand())

	return cmd
}

func newHostsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := newClient().ListHosts(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), hosts)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tui.HostsTable(hosts))
			return err
		},
	}
}

func newHostsAddCommand() *cobra.Command {
	var (
		username string
		osName   string
		detect   bool
		cred     credentialFlags
	)

	cmd := &cobra.Command{
		Use:   "add NAME IP",
		Short: "Register a host",
		Example: `  # Register a host and detect its OS over SSH
  INSPECTOR_PASSWORD=secret inspector hosts add web-01 10.0.0.11 --user ops --detect`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := newClient().RegisterHost(cmd.Context(), api.RegisterHostRequest{
				HostInput:         engine.HostInput{Name: args[0], IP: args[1], Username: username, OS: osName},
				CredentialRequest: cred.request(),
				DetectOS:          detect,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), host)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s) as %s, os: %s\n", host.Name, host.IP, host.ID, host.OS)
			return err
		},
	}

	cmd.Flags().StringVarP(&username, "user", "u", "root", "login user")
	cmd.Flags().StringVar(&osName, "os", "", "operating system, skips detection")
	cmd.Flags().BoolVar(&detect, "detect", false, "detect the operating system after registering")
	cred.register(cmd)

	return cmd
}

func newHostsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"remove"},
		Short:   "Delete a host",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().DeleteHost(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted host %s\n", args[0])
			return err
		},
	}
}

func newHostsDetectCommand() *cobra.Command {
	var cred credentialFlags

	cmd := &cobra.Command{
		Use:   "detect ID",
		Short: "Detect the operating system of a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, err := newClient().DetectOS(cmd.Context(), args[0], cred.request())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), host)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", host.Name, host.OS)
			return err
		},
	}

	cred.register(cmd)
	return cmd
}
