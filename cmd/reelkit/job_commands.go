package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/client"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var req api.SubmitRequest
	var watch bool
	var onStuck string
	cmd := &cobra.Command{
		Use:   "submit <source>",
		Short: "Queue a composition job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve source path: %w", err)
			}
			req.Source = source
			if req.OutputDir != "" {
				if req.OutputDir, err = filepath.Abs(req.OutputDir); err != nil {
					return fmt.Errorf("resolve output directory: %w", err)
				}
			}
			var submitted api.JobStatus
			err = ctx.withClient(func(c *client.Client) error {
				var err error
				submitted, err = c.Submit(cmd.Context(), req)
				return err
			})
			if err != nil {
				return err
			}
			if !watch {
				if ctx.jsonOutput() {
					return writeJSON(cmd, submitted)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s\n", submitted.JobID)
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Queued job %s\n", submitted.JobID)
			return runWatch(cmd, ctx, submitted.JobID, onStuck)
		},
	}
	cmd.Flags().StringVarP(&req.OutputDir, "output-dir", "o", "", "Directory for the rendered file (defaults to paths.output_dir)")
	cmd.Flags().StringVarP(&req.Label, "label", "l", "", "Display label")
	cmd.Flags().StringVar(&req.Preset, "preset", "", "Encoder preset")
	cmd.Flags().IntVarP(&req.Priority, "priority", "p", 0, "Admission priority; higher runs first")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Follow the job until it finishes")
	cmd.Flags().StringVar(&onStuck, "on-stuck", "ask", "Action when the job stalls: ask, wait, cancel or retry")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				st, err := c.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, st)
				}
				out := cmd.OutOrStdout()
				printJob(out, st, shouldColorize(out))
				return nil
			})
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"ls", "list"},
		Short:   "List jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(c *client.Client) error {
				jobs, err := c.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, api.JobListResponse{Jobs: jobs})
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs")
					return nil
				}
				fmt.Fprintln(out, renderJobsTable(jobs))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable or comma-separated)")
	return cmd
}

func renderJobsTable(jobs []api.JobStatus) string {
	rows := make([][]string, 0, len(jobs))
	for _, st := range jobs {
		detail := st.Message
		if st.ErrorMessage != "" {
			detail = st.ErrorMessage
		} else if st.OutputPath != "" {
			detail = st.OutputPath
		}
		rows = append(rows, []string{
			st.JobID,
			st.Label,
			st.Status,
			strconv.Itoa(st.Percent) + "%",
			st.Stage,
			strconv.Itoa(st.Priority),
			truncate(detail, 60),
		})
	}
	return renderTable(
		[]column{col("ID"), col("Label"), col("Status"), num("Progress"), col("Stage"), num("Priority"), col("Detail")},
		rows,
	)
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				resp, err := c.Cancel(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if resp.Applied {
					fmt.Fprintf(out, "Cancellation requested for %s\n", resp.JobID)
				} else {
					fmt.Fprintf(out, "Job %s already %s\n", resp.JobID, resp.Status)
				}
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Queue a new attempt of a failed or cancelled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				st, err := c.Retry(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, st)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued attempt %d as job %s\n", st.Attempt, st.JobID)
				return nil
			})
		},
	}
}

func newOutputCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "output <job-id>",
		Short: "Check whether a job's output file exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(c *client.Client) error {
				info, err := c.Output(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, info)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				if info.Exists {
					fmt.Fprintln(out, renderStatusLine("Output", statusOK, fmt.Sprintf("%s (%d bytes)", info.Path, info.Size), colorize))
					return nil
				}
				fmt.Fprintln(out, renderStatusLine("Output", statusWarn, info.Path+" (missing)", colorize))
				return &exitError{code: 3, err: fmt.Errorf("output for %s not found", info.JobID)}
			})
		},
	}
}
