package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/client"
)

func newSchedulerCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Inspect or change live admission settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withClient(func(c *client.Client) error {
				settings, err := c.Scheduler(cmd.Context())
				if err != nil {
					return err
				}
				return printScheduler(cmd, ctx, settings)
			})
		},
	}
	cmd.AddCommand(newSchedulerSetCommand(ctx))
	cmd.AddCommand(newSchedulerToggleCommand(ctx, "pause", false))
	cmd.AddCommand(newSchedulerToggleCommand(ctx, "resume", true))
	return cmd
}

func newSchedulerSetCommand(ctx *commandContext) *cobra.Command {
	var maxJobs int
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update max concurrency or poll interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var patch api.SchedulerPatch
			if cmd.Flags().Changed("max-jobs") {
				patch.MaxConcurrentJobs = &maxJobs
			}
			if cmd.Flags().Changed("poll") {
				ms := poll.Milliseconds()
				patch.PollIntervalMillis = &ms
			}
			if patch.MaxConcurrentJobs == nil && patch.PollIntervalMillis == nil {
				return errors.New("nothing to change; pass --max-jobs or --poll")
			}
			return applySchedulerPatch(cmd, ctx, patch)
		},
	}
	cmd.Flags().IntVar(&maxJobs, "max-jobs", 0, "Maximum concurrently running jobs")
	cmd.Flags().DurationVar(&poll, "poll", 0, "Admission poll interval (e.g. 5s)")
	return cmd
}

func newSchedulerToggleCommand(ctx *commandContext, name string, enabled bool) *cobra.Command {
	short := "Stop admitting new jobs"
	if enabled {
		short = "Resume admitting jobs"
	}
	return &cobra.Command{
		Use:   name,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return applySchedulerPatch(cmd, ctx, api.SchedulerPatch{Enabled: &enabled})
		},
	}
}

func applySchedulerPatch(cmd *cobra.Command, ctx *commandContext, patch api.SchedulerPatch) error {
	return ctx.withClient(func(c *client.Client) error {
		settings, err := c.UpdateScheduler(cmd.Context(), patch)
		if err != nil {
			return err
		}
		return printScheduler(cmd, ctx, settings)
	})
}

func printScheduler(cmd *cobra.Command, ctx *commandContext, settings api.SchedulerSettings) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, settings)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Enabled:             %s\n", yesNo(settings.Enabled))
	fmt.Fprintf(out, "Max concurrent jobs: %d\n", settings.MaxConcurrentJobs)
	fmt.Fprintf(out, "Poll interval:       %s\n", time.Duration(settings.PollIntervalMillis)*time.Millisecond)
	return nil
}
