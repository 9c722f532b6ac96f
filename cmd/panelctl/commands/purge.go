package commands

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsanders-rh/panelctl/pkg/types"
)

// Purge returns the purge command group
func Purge(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every server whose name lacks a retention keyword",
	}

	cmd.AddCommand(purgeStart(opts))
	cmd.AddCommand(purgeStatus(opts))
	cmd.AddCommand(purgeCancel(opts))
	cmd.AddCommand(purgeList(opts))

	return cmd
}

func purgeStart(opts *globalOptions) *cobra.Command {
	var (
		batchSize int
		wait      bool
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start KEYWORDS",
		Short: "Start a purge job",
		Long: `Start a purge job that deletes every tracked server whose remote name
does not contain KEYWORDS (case-insensitive). Servers are deleted in batches.

Example:
  panelctl purge start prod --batch-size 5 --wait`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()

			var job types.PurgeJob
			body := map[string]any{"keywords": args[0], "batch_size": batchSize}
			if err := c.do(cmd.Context(), http.MethodPost, "/api/v1/admin/purge", body, &job); err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), &job)

			if !wait {
				return nil
			}
			return followJob(cmd.Context(), c, cmd.OutOrStdout(), job.ID, interval)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "servers deleted concurrently per batch (server default when 0)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --wait")

	return cmd
}

func purgeStatus(opts *globalOptions) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show the progress of a purge job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			if wait {
				return followJob(cmd.Context(), c, cmd.OutOrStdout(), args[0], interval)
			}

			job, err := getJob(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --wait")

	return cmd
}

func purgeCancel(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Stop a purge job before its next batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job types.PurgeJob
			path := "/api/v1/admin/purge/" + url.PathEscape(args[0]) + "/cancel"
			if err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, &job); err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), &job)
			return nil
		},
	}
}

func purgeList(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recent purge jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Jobs []*types.PurgeJob `json:"jobs"`
			}
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/admin/purge", nil, &resp); err != nil {
				return err
			}
			for _, job := range resp.Jobs {
				printJob(cmd.OutOrStdout(), job)
			}
			return nil
		},
	}
}

func getJob(ctx context.Context, c *apiClient, id string) (*types.PurgeJob, error) {
	var job types.PurgeJob
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/purge/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// followJob prints progress whenever it changes until the job is terminal.
// A failed job is returned as an error.
func followJob(ctx context.Context, c *apiClient, w io.Writer, id string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		job, err := getJob(ctx, c, id)
		if err != nil {
			return err
		}

		if line := jobLine(job); line != last {
			fmt.Fprintln(w, line)
			last = line
		}

		if job.Status.IsTerminal() {
			if job.Status == types.PurgeStatusFailed {
				msg := "unknown error"
				if job.ErrorMessage != nil {
					msg = *job.ErrorMessage
				}
				return fmt.Errorf("purge %s failed: %s", job.ID, msg)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(w io.Writer, job *types.PurgeJob) {
	fmt.Fprintln(w, jobLine(job))
}

func jobLine(job *types.PurgeJob) string {
	candidates := job.TotalServers - job.ProtectedCount
	line := fmt.Sprintf("%s %-10s keywords=%q processed=%d/%d deleted=%d failed=%d protected=%d",
		job.ID, job.Status, job.Keywords, job.ProcessedCount, candidates,
		job.DeletedCount, job.FailedCount, job.ProtectedCount)
	if job.CancelRequested && !job.Status.IsTerminal() {
		line += " (cancelling)"
	}
	return line
}
