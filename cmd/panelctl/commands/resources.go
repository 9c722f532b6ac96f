package commands

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tsanders-rh/panelctl/internal/plan"
	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Resources returns the resources command
func Resources(opts *globalOptions) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Show a resource ledger",
		Long: `Show the caller's resource ledger, or another user's with --user (admin).

Example:
  panelctl resources --user usr_2N...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/v1/me/resources"
			if userID != "" {
				path = "/api/v1/users/" + url.PathEscape(userID) + "/resources"
			}

			var l types.Ledger
			if err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &l); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "LEDGER\t%s\n", l.UserID)
			for _, f := range l.Resources.Fields() {
				fmt.Fprintf(tw, "%s\t%d\n", f.Name, f.Value)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user ID (admin only)")

	return cmd
}

// Servers returns the servers command
func Servers(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List tracked servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/api/v1/servers?per_page=100"
			if all {
				path += "&all=true"
			}

			var resp struct {
				Data []*types.ServerRecord `json:"data"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, path, nil, &resp); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tOWNER\tREMOTE\tNODE\tRENEW AT")
			for _, s := range resp.Data {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", s.ID, s.OwnerID, s.ServerID, s.NodeID, s.RenewAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "list every user's servers (admin only)")

	return cmd
}

// Plans returns the plans command
func Plans(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the plans servers can be created from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Plans []*plan.Plan `json:"plans"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/plans", nil, &resp); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tRAM\tDISK\tCPU\tALLOCATIONS\tDATABASES")
			for _, p := range resp.Plans {
				l := p.Limits
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", p.Name, l.RAM, l.Disk, l.CPU, l.Allocations, l.Databases)
			}
			return tw.Flush()
		},
	}
}
