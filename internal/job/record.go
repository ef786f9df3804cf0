package job

import (
	"strings"
	"time"
)

// MissingOutputMessage is recorded when a job claims completion without an artifact.
const MissingOutputMessage = "job reported completion without an output artifact"

// DefaultFailureMessage is used when a failure carries no diagnostic of its own.
const DefaultFailureMessage = "job failed without a diagnostic message"

// Spec is the submission bundle for a composition job.
type Spec struct {
	Label     string `json:"label,omitempty"`
	Source    string `json:"source"`
	OutputDir string `json:"outputDir"`
	Preset    string `json:"preset,omitempty"`
	Priority  int    `json:"priority"`
}

// Record is the authoritative view of a job as the engine and queue see it.
type Record struct {
	ID           string
	Spec         Spec
	Status       Status
	Percent      int
	Stage        string
	Message      string
	OutputPath   string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
	UpdatedAt    time.Time
}

// IsTerminal reports whether the record has reached a final status.
func (r Record) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// DisplayLabel returns the label, falling back to the source file name.
func (r Record) DisplayLabel() string {
	if label := strings.TrimSpace(r.Spec.Label); label != "" {
		return label
	}
	source := strings.TrimSpace(r.Spec.Source)
	if idx := strings.LastIndexAny(source, `/\`); idx >= 0 {
		source = source[idx+1:]
	}
	if source == "" {
		return r.ID
	}
	return source
}

// ClampPercent bounds a progress value to [0,100].
func ClampPercent(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}

// Resolve normalizes a requested terminal transition. Completed without an
// output path becomes Failed with MissingOutputMessage; Failed always carries
// a message; fields that do not belong to the resulting status are cleared.
// The returned flag is true when the transition was rewritten.
func Resolve(status Status, outputPath, errorMessage string) (Status, string, string, bool) {
	outputPath = strings.TrimSpace(outputPath)
	errorMessage = strings.TrimSpace(errorMessage)
	switch status {
	case StatusCompleted:
		if outputPath == "" {
			return StatusFailed, "", MissingOutputMessage, true
		}
		return StatusCompleted, outputPath, "", false
	case StatusFailed:
		if errorMessage == "" {
			errorMessage = DefaultFailureMessage
		}
		return StatusFailed, "", errorMessage, false
	case StatusCancelled:
		return StatusCancelled, "", errorMessage, false
	default:
		return status, "", "", false
	}
}
