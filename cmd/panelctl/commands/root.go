// Package commands defines the panelctl CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

type globalOptions struct {
	apiURL string
	token  string
}

func (o *globalOptions) client() *apiClient {
	return newAPIClient(o.apiURL, o.token)
}

// Root returns the root command for the panelctl CLI
func Root() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "panelctl",
		Short:         "Administer servers, ledgers and purge jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	apiURL := os.Getenv("PANELCTL_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api-url", apiURL, "panelctl API base URL (env PANELCTL_API_URL)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PANELCTL_TOKEN"), "bearer token (env PANELCTL_TOKEN)")

	cmd.AddCommand(Plans(opts))
	cmd.AddCommand(Purge(opts))
	cmd.AddCommand(Resources(opts))
	cmd.AddCommand(Servers(opts))
	cmd.AddCommand(Token())

	return cmd
}
