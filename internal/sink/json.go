package sink

import (
	"encoding/json"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/voldardard/mkv2cast/internal/jobstatus"
)

// fileProgress mirrors original_source/json_progress.py's FileProgress
// dataclass, one entry per tracked input file.
type fileProgress struct {
	JobID           string  `json:"job_id,omitempty"`
	Filename        string  `json:"filename"`
	Filepath        string  `json:"filepath"`
	Status          string  `json:"status"`
	ProgressPercent float64 `json:"progress_percent"`
	Backend         string  `json:"backend,omitempty"`
	SpeedX          float64 `json:"speed"`
	SizeBytes       int64   `json:"size_bytes"`
	ETASeconds      float64 `json:"eta_seconds"`
	Error           string  `json:"error,omitempty"`
	StartedAt       float64 `json:"started_at,omitempty"`
	FinishedAt      float64 `json:"finished_at,omitempty"`
	OutputPath      string  `json:"output_path,omitempty"`
}

// overallProgress mirrors OverallProgress in json_progress.py.
type overallProgress struct {
	TotalFiles     int     `json:"total_files"`
	ProcessedFiles int     `json:"processed_files"`
	ConvertedFiles int     `json:"converted_files"`
	SkippedFiles   int     `json:"skipped_files"`
	FailedFiles    int     `json:"failed_files"`
	CurrentFile    string  `json:"current_file,omitempty"`
	OverallPercent float64 `json:"overall_percent"`
}

// state is the complete JSON payload emitted on every event, mirroring
// JSONProgressState. files is keyed by input path, same as the original.
type state struct {
	Version   string                  `json:"version"`
	Timestamp float64                 `json:"timestamp"`
	Event     string                  `json:"event"`
	Overall   overallProgress         `json:"overall"`
	Files     map[string]fileProgress `json:"files"`
}

// JSONSink emits one JSON object per line to Out, for another process to
// consume (a web UI, a supervising script). Grounded in
// original_source/json_progress.py's JSONProgressOutput.
type JSONSink struct {
	mu    sync.Mutex
	out   io.Writer
	enc   *json.Encoder
	st    state
	nowFn func() time.Time
}

// NewJSONSink returns a Sink that writes newline-delimited JSON to out.
func NewJSONSink(out io.Writer) *JSONSink {
	return &JSONSink{
		out: out,
		enc: json.NewEncoder(out),
		st: state{
			Version: "1.0",
			Files:   make(map[string]fileProgress),
		},
		nowFn: time.Now,
	}
}

func (s *JSONSink) Handle(ev jobstatus.Event) {
	j := ev.Job
	if j == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fp, existing := s.st.Files[j.InputPath]
	if !existing {
		fp = fileProgress{
			JobID:    j.CorrelationID,
			Filename: filepath.Base(j.InputPath),
			Filepath: j.InputPath,
		}
	}
	fp.Status = string(j.Status)
	fp.ProgressPercent = j.Percent
	fp.Backend = j.Backend
	fp.SpeedX = j.Speed
	fp.SizeBytes = j.OutputSize
	fp.ETASeconds = j.ETA.Seconds()

	switch ev.Type {
	case "queued":
		s.st.Overall.TotalFiles++
	case "checking", "progress":
		s.st.Overall.CurrentFile = fp.Filename
		if fp.StartedAt == 0 {
			fp.StartedAt = float64(s.nowFn().Unix())
		}
	case "done":
		fp.ProgressPercent = 100
		fp.OutputPath = j.OutputPath
		fp.FinishedAt = float64(s.nowFn().Unix())
		s.st.Overall.ProcessedFiles++
		s.st.Overall.ConvertedFiles++
	case "failed":
		fp.Error = j.Error
		fp.FinishedAt = float64(s.nowFn().Unix())
		s.st.Overall.ProcessedFiles++
		s.st.Overall.FailedFiles++
	case "skipped":
		fp.FinishedAt = float64(s.nowFn().Unix())
		s.st.Overall.ProcessedFiles++
		s.st.Overall.SkippedFiles++
	}

	s.st.Files[j.InputPath] = fp
	s.st.Event = ev.Type
	s.st.Timestamp = float64(s.nowFn().UnixNano()) / 1e9
	if s.st.Overall.TotalFiles > 0 {
		s.st.Overall.OverallPercent = float64(s.st.Overall.ProcessedFiles) / float64(s.st.Overall.TotalFiles) * 100
	}

	s.enc.Encode(s.st)
}
