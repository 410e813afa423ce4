package sink

import (
	"github.com/voldardard/mkv2cast/internal/jobstatus"
	"github.com/voldardard/mkv2cast/internal/logger"
)

// LinearSink writes one log line per event through the shared slog logger,
// the right choice for a non-interactive stream (a log file, a CI job, a
// pipe into another program that isn't reading the JSON sink's output).
type LinearSink struct{}

// NewLinearSink returns a Sink that logs every event through logger.Log.
func NewLinearSink() *LinearSink { return &LinearSink{} }

func (s *LinearSink) Handle(ev jobstatus.Event) {
	j := ev.Job
	if j == nil {
		return
	}
	switch ev.Type {
	case "queued":
		logger.Info("queued", "file", j.InputPath)
	case "checking":
		logger.Info("checking integrity", "file", j.InputPath, "stage", j.Stage)
	case "progress":
		logger.Debug("encoding", "file", j.InputPath, "stage", j.Stage,
			"percent", j.Percent, "speed", j.Speed)
	case "done":
		logger.Info("done", "file", j.InputPath, "output", j.OutputPath,
			"backend", j.Backend, "input_size", j.InputSize, "output_size", j.OutputSize)
	case "failed":
		logger.Error("failed", "file", j.InputPath, "error", j.Error)
	case "skipped":
		logger.Warn("skipped", "file", j.InputPath, "reason", j.SkipReason)
	case "interrupted":
		logger.Warn("interrupted", "file", j.InputPath)
	default:
		logger.Info(ev.Type, "file", j.InputPath)
	}
}
