package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/tracker"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var onStuck string
	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it reaches a final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, ctx, args[0], onStuck)
		},
	}
	cmd.Flags().StringVar(&onStuck, "on-stuck", "ask", "Action when the job stalls: ask, wait, cancel or retry")
	return cmd
}

func runWatch(cmd *cobra.Command, ctx *commandContext, id, onStuck string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	cl, err := ctx.apiClient()
	if err != nil {
		return err
	}
	decider, err := newDecider(onStuck, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printer := &progressPrinter{w: cmd.ErrOrStderr(), colorize: shouldColorize(cmd.ErrOrStderr())}
	opts := tracker.OptionsFromConfig(cfg)

	for {
		tr := tracker.New(tracker.NewHTTPTransport(cl), opts,
			tracker.WithDecider(decider),
			tracker.WithObserver(printer.observe),
		)
		result, err := tr.Track(cmd.Context(), id)
		if errors.Is(err, tracker.ErrRetryRequested) && result.RetryJobID != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Retrying as job %s\n", result.RetryJobID)
			id = result.RetryJobID
			printer.reset()
			continue
		}

		if ctx.jsonOutput() && result.JobID != "" {
			if encErr := writeJSON(cmd, result.Status); encErr != nil {
				return encErr
			}
		} else if result.JobID != "" {
			printJob(out, result.Status, shouldColorize(out))
			if result.Verified {
				fmt.Fprintln(out, renderStatusLine("Verified", statusOK, "output present on disk", shouldColorize(out)))
			}
		}

		switch {
		case err == nil:
			return nil
		case errors.Is(err, tracker.ErrJobCancelled):
			return &exitError{code: 2, err: err}
		case errors.Is(err, tracker.ErrTransportExhausted):
			return wrapClientError(err, cl.BaseURL())
		default:
			return err
		}
	}
}

type progressPrinter struct {
	w        io.Writer
	colorize bool

	mu        sync.Mutex
	lastLine  string
	lastState tracker.State
}

func (p *progressPrinter) observe(u tracker.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u.State != p.lastState {
		p.lastState = u.State
		switch u.State {
		case tracker.StatePolling:
			fmt.Fprintln(p.w, renderStatusLine("Feed", statusWarn, "live updates unavailable; polling", p.colorize))
		case tracker.StateStuck:
			fmt.Fprintln(p.w, renderStatusLine("Feed", statusWarn, fmt.Sprintf("no progress for %d polls", u.UnchangedPolls), p.colorize))
		}
	}
	if u.Status.Status == "" {
		return
	}
	line := fmt.Sprintf("%-9s %s", u.Status.Status, progressText(u.Status))
	if msg := strings.TrimSpace(u.Status.Message); msg != "" {
		line += ": " + msg
	}
	if line == p.lastLine {
		return
	}
	p.lastLine = line
	fmt.Fprintln(p.w, line)
}

func (p *progressPrinter) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastLine = ""
	p.lastState = tracker.StateConnecting
}

func newDecider(mode string, in io.Reader, prompt io.Writer) (tracker.Decider, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "ask":
		if !isInteractive(in) {
			return fixedDecider(tracker.ActionWait), nil
		}
		return &promptDecider{in: bufio.NewReader(in), out: prompt}, nil
	case "wait":
		return fixedDecider(tracker.ActionWait), nil
	case "cancel":
		return fixedDecider(tracker.ActionCancel), nil
	case "retry":
		return fixedDecider(tracker.ActionRetry), nil
	default:
		return nil, fmt.Errorf("invalid --on-stuck value %q (want ask, wait, cancel or retry)", mode)
	}
}

func fixedDecider(action tracker.Action) tracker.Decider {
	return tracker.DeciderFunc(func(context.Context, tracker.StuckReport) tracker.Action {
		return action
	})
}

// promptDecider asks on the terminal what to do with a stalled job.
type promptDecider struct {
	in  *bufio.Reader
	out io.Writer
}

func (d *promptDecider) Decide(ctx context.Context, report tracker.StuckReport) tracker.Action {
	fmt.Fprintf(d.out, "\nJob %s has not progressed for %s (%d%%, stage %q).\n",
		report.JobID, report.Unchanged.Round(time.Second), report.Percent, report.Stage)
	if report.Output != nil {
		fmt.Fprintln(d.out, describeOutput(*report.Output))
	}
	fmt.Fprint(d.out, "[w]ait, [c]ancel or [r]etry? ")

	answer := make(chan string, 1)
	go func() {
		line, _ := d.in.ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return tracker.ActionWait
	case line := <-answer:
		switch {
		case strings.HasPrefix(line, "c"):
			return tracker.ActionCancel
		case strings.HasPrefix(line, "r"):
			return tracker.ActionRetry
		default:
			return tracker.ActionWait
		}
	}
}

func describeOutput(info api.OutputInfo) string {
	if info.Exists {
		return fmt.Sprintf("Output %s exists (%d bytes).", info.Path, info.Size)
	}
	return fmt.Sprintf("Output %s not found yet.", info.Path)
}
