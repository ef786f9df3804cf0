package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/client"
	"github.com/Coffee285/AVS-sub001/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, queue and dependency status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			checks := preflight.RunAll(cmd.Context(), cfg)

			var status api.DaemonStatus
			daemonErr := ctx.withClient(func(c *client.Client) error {
				var err error
				status, err = c.DaemonStatus(cmd.Context())
				return err
			})

			if ctx.jsonOutput() {
				payload := map[string]any{
					"running":   daemonErr == nil,
					"preflight": checks,
				}
				if daemonErr == nil {
					payload["daemon"] = status
				} else {
					payload["error"] = daemonErr.Error()
				}
				return writeJSON(cmd, payload)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, "Daemon")
			if daemonErr != nil {
				fmt.Fprintln(out, renderStatusLine("API", statusError, daemonErr.Error(), colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("API", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
				if started, ok := api.ParseTime(status.StartedAt); ok {
					fmt.Fprintln(out, renderStatusLine("Uptime", statusInfo, time.Since(started).Round(time.Second).String(), false))
				}
				fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.QueueDBPath, false))
				schedKind := statusOK
				schedText := fmt.Sprintf("enabled, max %d concurrent", status.Scheduler.MaxConcurrentJobs)
				if !status.Scheduler.Enabled {
					schedKind, schedText = statusWarn, "paused"
				}
				fmt.Fprintln(out, renderStatusLine("Scheduler", schedKind, schedText, colorize))
				fmt.Fprintln(out, renderStatusLine("Active jobs", statusInfo, strconv.Itoa(status.ActiveJobs), false))
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]column{num("Queued"), num("Running"), num("Completed"), num("Failed"), num("Cancelled"), num("Total")},
					[][]string{{
						strconv.Itoa(status.Queue.Queued),
						strconv.Itoa(status.Queue.Running),
						strconv.Itoa(status.Queue.Completed),
						strconv.Itoa(status.Queue.Failed),
						strconv.Itoa(status.Queue.Cancelled),
						strconv.Itoa(status.Queue.Total),
					}},
				))
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Dependencies")
			for _, check := range checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
					if check.Optional {
						kind = statusWarn
					}
				}
				fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			return nil
		},
	}
}
