package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/job"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func jobStatusKind(status job.Status) statusKind {
	switch status {
	case job.StatusCompleted:
		return statusOK
	case job.StatusFailed:
		return statusError
	case job.StatusCancelled:
		return statusWarn
	default:
		return statusInfo
	}
}

func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func isInteractive(r io.Reader) bool {
	file, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd())
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJob(w io.Writer, st api.JobStatus, colorize bool) {
	fmt.Fprintf(w, "Job %s\n", st.JobID)
	if st.Label != "" {
		fmt.Fprintln(w, renderStatusLine("Label", statusInfo, st.Label, false))
	}
	fmt.Fprintln(w, renderStatusLine("Status", jobStatusKind(st.StatusValue()), st.Status, colorize))
	fmt.Fprintln(w, renderStatusLine("Progress", statusInfo, progressText(st), false))
	if st.Message != "" {
		fmt.Fprintln(w, renderStatusLine("Message", statusInfo, st.Message, false))
	}
	if st.Source != "" {
		fmt.Fprintln(w, renderStatusLine("Source", statusInfo, st.Source, false))
	}
	if st.OutputPath != "" {
		fmt.Fprintln(w, renderStatusLine("Output", statusOK, st.OutputPath, colorize))
	}
	if st.ErrorMessage != "" {
		fmt.Fprintln(w, renderStatusLine("Error", statusError, st.ErrorMessage, colorize))
	}
	if st.Attempt > 1 {
		fmt.Fprintln(w, renderStatusLine("Attempt", statusInfo, fmt.Sprintf("%d (retry of %s)", st.Attempt, st.RetryOf), false))
	}
	if st.StartedAt != "" {
		fmt.Fprintln(w, renderStatusLine("Started", statusInfo, relativeTime(st.StartedAt), false))
	}
}

func progressText(st api.JobStatus) string {
	text := fmt.Sprintf("%d%%", st.Percent)
	if stage := strings.TrimSpace(st.Stage); stage != "" {
		text += " " + stage
	}
	return text
}

func relativeTime(value string) string {
	ts, ok := api.ParseTime(value)
	if !ok {
		return value
	}
	age := time.Since(ts).Round(time.Second)
	if age < 0 {
		age = 0
	}
	return fmt.Sprintf("%s (%s ago)", ts.Local().Format("2006-01-02 15:04:05"), age)
}
