package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/docpipe/display"
	"github.com/teranos/docpipe/errors"
	"github.com/teranos/docpipe/server/protocol"
)

const jobPollInterval = 250 * time.Millisecond

func newJobCmd() *cobra.Command {
	group := &cobra.Command{
		Use:     "job",
		Aliases: []string{"jobs"},
		Short:   "Run and inspect pipe jobs",
		Long: `Pipe jobs walk an iterator's fetch keys, fetch and parse each document
and emit the records, asynchronously on the server.

Examples:
  docpipe job run --iterator all-docs --fetcher docs --emitter search
  docpipe job run --iterator all-docs --fetcher docs --emitter search --wait
  docpipe job status <job-id>
  docpipe job ls`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	addAddrFlag(group)

	run := &cobra.Command{
		Use:   "run",
		Short: "Submit a pipe job",
		Args:  cobra.NoArgs,
		RunE:  runJob,
	}
	run.Flags().String("iterator", "", "Pipe iterator config id")
	run.Flags().String("fetcher", "", "Fetcher config id")
	run.Flags().String("emitter", "", "Emitter config id")
	run.Flags().Duration("timeout", 0, "Job completion timeout (default: jobs.default_completion_timeout_seconds on the server)")
	run.Flags().Bool("wait", false, "Wait for the job to complete")
	for _, f := range []string{"iterator", "fetcher", "emitter"} {
		_ = run.MarkFlagRequired(f)
	}

	status := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of a pipe job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.GetPipeJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), st)
			}
			printJobStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	status.Flags().BoolP("json", "j", false, "Output as JSON")

	ls := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List pipe jobs, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial(cmd)
			if err != nil {
				return err
			}
			defer client.Close()

			list, err := client.ListPipeJobs(cmd.Context())
			if err != nil {
				return err
			}
			if display.ShouldOutputJSON(cmd) {
				return display.OutputJSON(cmd.OutOrStdout(), list)
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, j := range list {
				rows = append(rows, []string{
					j.PipeJobID,
					jobState(&j),
					fmt.Sprintf("%s > %s > %s", j.IteratorID, j.FetcherID, j.EmitterID),
					fmt.Sprintf("%d/%d/%d", j.Processed, j.Emitted, j.Failed),
					j.CreatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			if err := display.Table(cmd.OutOrStdout(), []string{"JOB ID", "STATE", "PIPE", "DONE/EMIT/FAIL", "CREATED"}, rows); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d job(s)\n", len(list))
			return nil
		},
	}
	ls.Flags().BoolP("json", "j", false, "Output as JSON")

	group.AddCommand(run, status, ls)
	return group
}

func runJob(cmd *cobra.Command, args []string) error {
	iterator, _ := cmd.Flags().GetString("iterator")
	fetcher, _ := cmd.Flags().GetString("fetcher")
	emitter, _ := cmd.Flags().GetString("emitter")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	wait, _ := cmd.Flags().GetBool("wait")

	client, err := dial(cmd)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	id, err := client.RunPipeJob(ctx, &protocol.RunPipeJobRequest{
		PipeIteratorID:              iterator,
		FetcherID:                   fetcher,
		EmitterID:                   emitter,
		JobCompletionTimeoutSeconds: int64(timeout.Round(time.Second) / time.Second),
	})
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, pterm.Success.Sprintfln("Submitted job %s", id))
	if !wait {
		return nil
	}

	st, err := waitForJob(ctx, client, id)
	if err != nil {
		return err
	}
	printJobStatus(out, st)
	if st.Error != "" {
		return errors.Newf("job %s failed: %s", id, st.Error)
	}
	return nil
}

// waitForJob polls until the job completes. Leaving early (Ctrl+C) does not
// cancel the job on the server.
func waitForJob(ctx context.Context, client *protocol.Client, id string) (*protocol.PipeJobReply, error) {
	ticker := time.NewTicker(jobPollInterval)
	defer ticker.Stop()
	for {
		st, err := client.GetPipeJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.IsCompleted {
			return st, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "stopped waiting for job %s (it keeps running)", id)
		}
	}
}

func jobState(st *protocol.PipeJobReply) string {
	switch {
	case st.IsRunning:
		return "running"
	case !st.IsCompleted:
		return "queued"
	case st.Error != "":
		return "failed"
	case st.HasError:
		return "done (errors)"
	default:
		return "done"
	}
}

func printJobStatus(w io.Writer, st *protocol.PipeJobReply) {
	fmt.Fprintf(w, "Job ID:    %s\n", st.PipeJobID)
	fmt.Fprintf(w, "  State:    %s\n", jobState(st))
	fmt.Fprintf(w, "  Iterator: %s\n", st.IteratorID)
	fmt.Fprintf(w, "  Fetcher:  %s\n", st.FetcherID)
	fmt.Fprintf(w, "  Emitter:  %s\n", st.EmitterID)
	fmt.Fprintf(w, "\nProcessed: %d  Emitted: %d  Failed: %d\n", st.Processed, st.Emitted, st.Failed)
	if st.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", st.Error)
	}
	fmt.Fprintf(w, "\nCreated:   %s\n", st.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if st.CompletedAt != nil {
		fmt.Fprintf(w, "Completed: %s\n", st.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
}
