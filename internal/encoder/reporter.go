package encoder

import (
	"strings"
	"sync"
	"time"

	draptolib "github.com/five82/drapto"
)

// reporter adapts drapto library callbacks to Update. Events without a
// progress meaning are dropped; stage-only events carry Percent -1.
type reporter struct {
	callback func(Update)

	mu         sync.Mutex
	outputPath string
}

func newReporter(callback func(Update)) *reporter {
	return &reporter{callback: callback}
}

// OutputPath returns the artifact path reported by EncodingComplete.
func (r *reporter) OutputPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputPath
}

func (r *reporter) stage(stage, message string) {
	r.callback(Update{Percent: -1, Stage: stage, Message: message})
}

func (r *reporter) Hardware(draptolib.HardwareSummary) {}

func (r *reporter) Initialization(s draptolib.InitializationSummary) {
	r.stage("initializing", strings.TrimSpace(s.InputFile))
}

func (r *reporter) StageProgress(s draptolib.StageProgress) {
	var eta time.Duration
	if s.ETA != nil {
		eta = *s.ETA
	}
	r.callback(Update{
		Percent: float64(s.Percent),
		Stage:   s.Stage,
		Message: s.Message,
		ETA:     eta,
	})
}

func (r *reporter) CropResult(s draptolib.CropSummary) {
	r.stage("analyzing", s.Message)
}

func (r *reporter) EncodingConfig(draptolib.EncodingConfigSummary) {}

func (r *reporter) EncodingStarted(uint64) {
	r.callback(Update{Percent: 0, Stage: "encoding"})
}

func (r *reporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.callback(Update{
		Percent: float64(s.Percent),
		Stage:   "encoding",
		ETA:     s.ETA,
		Speed:   float64(s.Speed),
		FPS:     float64(s.FPS),
	})
}

func (r *reporter) ValidationComplete(s draptolib.ValidationSummary) {
	message := "validation passed"
	if !s.Passed {
		message = "validation failed"
	}
	r.stage("validating", message)
}

func (r *reporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.mu.Lock()
	r.outputPath = strings.TrimSpace(s.OutputPath)
	r.mu.Unlock()
	r.stage("finalizing", "encode complete")
}

func (r *reporter) Warning(message string) {
	r.stage("", message)
}

func (r *reporter) Error(e draptolib.ReporterError) {
	message := strings.TrimSpace(e.Title)
	if detail := strings.TrimSpace(e.Message); detail != "" {
		if message != "" {
			message += ": "
		}
		message += detail
	}
	r.stage("", message)
}

func (r *reporter) OperationComplete(string) {}

func (r *reporter) BatchStarted(draptolib.BatchStartInfo) {}

func (r *reporter) FileProgress(draptolib.FileProgressContext) {}

func (r *reporter) BatchComplete(draptolib.BatchSummary) {}

var _ draptolib.Reporter = (*reporter)(nil)
