// Package pipeline is the two-stage worker orchestrator that turns a list of
// source paths into finished H.264/AAC output: a pool of integrity workers
// probe and decide what each file needs, handing anything that isn't
// already compliant to a pool of encode workers that run ffmpeg, retry on
// failure (switching to the CPU backend for the final attempt only when
// RetryFallbackCPU is set), and commit the result. Grounded in
// original_source/pipeline.py's PipelineOrchestrator/integrity_worker/
// encode_worker/run, restructured from Python's Queue+sentinel handoff into
// Go channels (integrityCh feeds the integrity pool, encodeCh — closed once
// every integrity worker has exited — feeds the encode pool), and from
// link270-shrinkray/internal/jobs/worker.go's per-job context and progress
// channel pattern.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voldardard/mkv2cast/internal/command"
	"github.com/voldardard/mkv2cast/internal/commit"
	"github.com/voldardard/mkv2cast/internal/decision"
	"github.com/voldardard/mkv2cast/internal/history"
	"github.com/voldardard/mkv2cast/internal/hwaccel"
	"github.com/voldardard/mkv2cast/internal/jobstatus"
	"github.com/voldardard/mkv2cast/internal/joblog"
	"github.com/voldardard/mkv2cast/internal/logger"
	"github.com/voldardard/mkv2cast/internal/probe"
	"github.com/voldardard/mkv2cast/internal/procrunner"
	"github.com/voldardard/mkv2cast/internal/progress"
	"github.com/voldardard/mkv2cast/internal/sink"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Prober is the subset of *probe.Prober the pipeline needs, narrowed so
// tests can substitute a fake that never shells out.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.StreamInfo, error)
}

// Checker is the subset of *integrity.Checker the pipeline needs.
type Checker interface {
	Check(ctx context.Context, path string) (bool, error)
}

// Backends is the subset of *hwaccel.Selector the pipeline needs.
type Backends interface {
	Pick(ctx context.Context, forced hwaccel.Backend) hwaccel.Backend
}

// HistoryRecorder is the subset of *history.DB the pipeline needs. A nil
// HistoryRecorder disables history recording entirely.
type HistoryRecorder interface {
	RecordStart(inputPath, backend string, inputSize int64) (int64, error)
	RecordFinish(id int64, opt history.FinishOptions) error
	RecordSkip(inputPath, reason, backend string) error
}

// Executor runs one ffmpeg command to completion, streaming progress lines
// to onLine as they arrive, and is the seam tests substitute to avoid
// shelling out to a real ffmpeg binary.
type Executor interface {
	Run(ctx context.Context, argv []string, onLine func(line string)) (exitCode int, err error)
}

// procExecutor is the production Executor, built on internal/procrunner.
type procExecutor struct {
	deadline time.Duration
}

// NewProcExecutor returns an Executor bound to procrunner.Start/Wait. A
// deadline of 0 means no per-process timeout beyond ctx's own cancellation.
func NewProcExecutor(deadline time.Duration) Executor {
	if deadline <= 0 {
		deadline = 7 * 24 * time.Hour // effectively unbounded; ctx still governs cancellation
	}
	return &procExecutor{deadline: deadline}
}

func (e *procExecutor) Run(ctx context.Context, argv []string, onLine func(line string)) (int, error) {
	h, err := procrunner.Start(ctx, argv, onLine, nil)
	if err != nil {
		return -1, err
	}
	return h.Wait(e.deadline)
}

// Config is everything the pipeline needs to know that the command-line or
// a config file supplies, narrowed from the full on-disk config the way
// decision.Options and command.Options are narrowed.
type Config struct {
	FFmpegPath  string
	FFprobePath string

	TempDir string // "" falls back to alongside the input file; callers normally set this to the XDG cache tmp dir
	LogDir  string // "" disables the per-job log file

	EncodeWorkers    int
	IntegrityWorkers int

	ForcedBackend    hwaccel.Backend // "" lets the selector pick
	RetryAttempts    int
	RetryDelay       time.Duration
	RetryFallbackCPU bool

	SkipWhenOK bool
	DryRun     bool

	MinFreeOutputMB int64
	MinFreeTmpMB    int64
	MaxOutputMB     int64
	MaxOutputRatio  float64

	Suffix string // appended before the container extension, e.g. "" or ".conv"

	Decision decision.Options
	Command  command.Options
}

// Summary totals a run's outcome across every input file, mirroring
// PipelineOrchestrator.run's (ok, skipped, failed, interrupted) return.
type Summary struct {
	OK          int
	Skipped     int
	Failed      int
	Interrupted bool
}

// Orchestrator wires every stage of the pipeline together.
type Orchestrator struct {
	cfg Config

	prober   Prober
	checker  Checker
	backends Backends
	history  HistoryRecorder
	hub      *sink.Hub
	exec     Executor

	pid int

	mu          sync.Mutex
	summary     Summary
	interrupted atomic.Bool

	idsMu sync.Mutex
	ids   map[string]string // input path -> correlation id, assigned once when queued
}

// corrID returns the correlation id assigned to input when it was queued,
// or "" if Run hasn't reached it yet (only possible for a caller outside
// the pipeline's own goroutines).
func (o *Orchestrator) corrID(input string) string {
	o.idsMu.Lock()
	defer o.idsMu.Unlock()
	return o.ids[input]
}

// New builds an Orchestrator. history may be nil to disable history
// recording; hub may be nil to disable event publication.
func New(cfg Config, prober Prober, checker Checker, backends Backends, hist HistoryRecorder, hub *sink.Hub, exec Executor) *Orchestrator {
	if hub == nil {
		hub = sink.NewHub()
	}
	return &Orchestrator{
		cfg:      cfg,
		prober:   prober,
		checker:  checker,
		backends: backends,
		history:  hist,
		hub:      hub,
		exec:     exec,
		pid:      os.Getpid(),
		ids:      make(map[string]string),
	}
}

// encodeJob is what an integrity worker hands off to an encode worker.
type encodeJob struct {
	job           *jobstatus.Job
	inputSize     int64
	integrityTime float64
}

// Run processes every path in inputs through the integrity and encode
// stages, publishing events to the Hub as each job progresses, and returns
// once every worker has drained. Cancelling ctx stops accepting new work,
// terminates every in-flight ffmpeg process via procrunner.TerminateAll,
// and causes Run to return with Summary.Interrupted set.
func (o *Orchestrator) Run(ctx context.Context, inputs []string) Summary {
	integrityCh := make(chan string)
	encodeCh := make(chan encodeJob)

	go func() {
		<-ctx.Done()
		o.interrupted.Store(true)
		procrunner.TerminateAll()
	}()

	go func() {
		defer close(integrityCh)
		for _, in := range inputs {
			cid := uuid.NewString()
			o.idsMu.Lock()
			o.ids[in] = cid
			o.idsMu.Unlock()

			o.publish("queued", &jobstatus.Job{ID: in, CorrelationID: cid, InputPath: in, Status: jobstatus.StatusQueued, CreatedAt: time.Now()})
			select {
			case integrityCh <- in:
			case <-ctx.Done():
				return
			}
		}
	}()

	var integrityGroup errgroup.Group
	n := o.cfg.IntegrityWorkers
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		id := i
		integrityGroup.Go(func() error {
			o.integrityWorker(ctx, id, integrityCh, encodeCh)
			return nil
		})
	}

	go func() {
		integrityGroup.Wait()
		close(encodeCh)
	}()

	var encodeGroup errgroup.Group
	m := o.cfg.EncodeWorkers
	if m < 1 {
		m = 1
	}
	for i := 0; i < m; i++ {
		id := i
		encodeGroup.Go(func() error {
			o.encodeWorker(ctx, id, encodeCh)
			return nil
		})
	}
	encodeGroup.Wait()

	o.mu.Lock()
	s := o.summary
	o.mu.Unlock()
	s.Interrupted = o.interrupted.Load()
	return s
}

func (o *Orchestrator) publish(evType string, j *jobstatus.Job) {
	o.hub.Publish(jobstatus.Event{Type: evType, Job: j.Copy()})
}

func (o *Orchestrator) recordOutcome(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch outcome {
	case "done":
		o.summary.OK++
	case "skipped":
		o.summary.Skipped++
	case "failed", "interrupted":
		o.summary.Failed++
	}
}

func (o *Orchestrator) integrityWorker(ctx context.Context, id int, in <-chan string, out chan<- encodeJob) {
	for input := range in {
		if ctx.Err() != nil {
			return
		}
		o.processIntegrity(ctx, id, input, out)
	}
}

func (o *Orchestrator) processIntegrity(ctx context.Context, workerID int, input string, out chan<- encodeJob) {
	info, err := os.Stat(input)
	var inputSize int64
	if err == nil {
		inputSize = info.Size()
	}

	var historyID int64
	if o.history != nil {
		historyID, _ = o.history.RecordStart(input, string(o.cfg.ForcedBackend), inputSize)
	}

	skip := func(reason string) {
		o.publish("skipped", &jobstatus.Job{ID: input, CorrelationID: o.corrID(input), InputPath: input, Status: jobstatus.StatusSkipped, SkipReason: reason})
		if o.history != nil {
			_ = o.history.RecordFinish(historyID, history.FinishOptions{Status: history.StatusSkipped, ErrorMsg: reason})
		}
		o.recordOutcome("skipped")
	}
	fail := func(reason string) {
		o.publish("failed", &jobstatus.Job{ID: input, CorrelationID: o.corrID(input), InputPath: input, Status: jobstatus.StatusFailed, Error: reason})
		if o.history != nil {
			_ = o.history.RecordFinish(historyID, history.FinishOptions{Status: history.StatusFailed, ErrorMsg: reason})
		}
		o.recordOutcome("failed")
	}

	if o.cfg.SkipWhenOK && o.anyOutputVariantExists(input) {
		skip("output exists")
		return
	}

	o.publish("checking", &jobstatus.Job{ID: input, CorrelationID: o.corrID(input), InputPath: input, Status: jobstatus.StatusChecking, Stage: "CHECK"})
	ok, err := o.checker.Check(ctx, input)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		fail(fmt.Sprintf("integrity error: %v", err))
		return
	}
	if !ok {
		skip("integrity failed")
		return
	}

	streamInfo, err := o.prober.Probe(ctx, input)
	if err != nil {
		fail(fmt.Sprintf("analysis error: %v", err))
		return
	}

	d := decision.Evaluate(streamInfo, filepath.Base(input), o.cfg.Decision)

	if !d.NeedVideo && !d.NeedAudio && o.cfg.SkipWhenOK {
		skip("compatible")
		return
	}

	tag := commit.OutputTag(d.NeedVideo, d.NeedAudio)
	final := expectedOutputPath(input, tag, o.cfg.Command.Container, o.cfg.Suffix)
	if _, err := os.Stat(final); err == nil {
		skip("output exists")
		return
	}

	tmpDir := o.cfg.TempDir
	if tmpDir == "" {
		tmpDir = filepath.Dir(input)
	}
	tmpPath := commit.TempPath(tmpDir, input, tag, "", o.cfg.Command.Container, o.pid, workerID)
	if _, err := os.Stat(tmpPath); err == nil {
		skip("tmp exists")
		return
	}

	if reason, _ := commit.CheckDiskSpace(filepath.Dir(final), tmpDir, inputSize, o.cfg.MinFreeOutputMB, o.cfg.MinFreeTmpMB); reason != "" {
		fail(reason)
		return
	}

	if o.cfg.DryRun {
		skip("dryrun")
		return
	}

	job := &jobstatus.Job{
		ID:            input,
		CorrelationID: o.corrID(input),
		InputPath:     input,
		OutputPath:    final,
		TempPath:      tmpPath,
		Status:        jobstatus.StatusQueued,
		Decision:      d,
		InputSize:     inputSize,
		HistoryID:     historyID,
		CreatedAt:     time.Now(),
	}

	select {
	case out <- encodeJob{job: job, inputSize: inputSize}:
	case <-ctx.Done():
	}
}

// expectedOutputPath mirrors converter.py's final-path construction:
// {stem}{tag}{suffix}.{container}. tag may be "" when checking for an
// already-compliant output before the decision engine has even run.
func expectedOutputPath(input, tag, container, suffix string) string {
	dir := filepath.Dir(input)
	base := filepath.Base(input)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s%s%s.%s", stem, tag, suffix, container))
}

// possibleOutputTags enumerates every tag commit.OutputTag can produce.
var possibleOutputTags = []string{".h264.aac", ".h264", ".aac", ".remux"}

// anyOutputVariantExists reports whether a prior run already produced some
// tagged output for input, so a cheap pre-decision skip can avoid a repeat
// probe+integrity pass. Simplified from converter.py's glob-based
// output_exists_for_input, whose wildcard search exists only because Python
// doesn't know the tag set ahead of time — here it's the fixed set
// commit.OutputTag can ever return.
func (o *Orchestrator) anyOutputVariantExists(input string) bool {
	for _, tag := range possibleOutputTags {
		if _, err := os.Stat(expectedOutputPath(input, tag, o.cfg.Command.Container, o.cfg.Suffix)); err == nil {
			return true
		}
	}
	return false
}

func (o *Orchestrator) encodeWorker(ctx context.Context, id int, in <-chan encodeJob) {
	for ej := range in {
		if ctx.Err() != nil {
			o.finishInterrupted(ej.job)
			continue
		}
		o.processEncode(ctx, id, ej)
	}
}

func (o *Orchestrator) finishInterrupted(j *jobstatus.Job) {
	commit.Cleanup(j.TempPath)
	o.publish("interrupted", &jobstatus.Job{ID: j.InputPath, CorrelationID: j.CorrelationID, InputPath: j.InputPath, Status: jobstatus.StatusInterrupted})
	if o.history != nil {
		_ = o.history.RecordFinish(j.HistoryID, history.FinishOptions{Status: history.StatusInterrupted, ErrorMsg: "interrupted"})
	}
	o.recordOutcome("interrupted")
}

func (o *Orchestrator) processEncode(ctx context.Context, workerID int, ej encodeJob) {
	j := ej.job
	o.publish("encoding", &jobstatus.Job{ID: j.InputPath, CorrelationID: j.CorrelationID, InputPath: j.InputPath, Status: jobstatus.StatusEncoding, Stage: "START"})

	backend := o.backends.Pick(ctx, o.cfg.ForcedBackend)
	attempts := o.cfg.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}
	totalAttempts := 1 + attempts

	var lastErr string
	var encodeTime float64

	durMs, _ := probeDurationForJob(ctx, o.prober, j.InputPath)

	var jlog *joblog.Writer
	if o.cfg.LogDir != "" {
		jlog = joblog.New(joblog.Path(o.cfg.LogDir, j.InputPath, j.CorrelationID))
		defer jlog.Close()
	}

	for attempt := 0; attempt < totalAttempts; attempt++ {
		if attempt > 0 {
			logger.Info("retrying encode", "file", j.InputPath, "attempt", attempt, "of", attempts)
			if o.cfg.RetryDelay > 0 {
				select {
				case <-time.After(o.cfg.RetryDelay):
				case <-ctx.Done():
				}
			}
			if o.cfg.RetryFallbackCPU && backend != hwaccel.BackendCPU && attempt == totalAttempts-1 {
				backend = hwaccel.BackendCPU
			}
		}

		argv, stage, err := command.Build(o.cfg.FFmpegPath, j.InputPath, j.Decision, backend, j.TempPath, o.cfg.Command)
		if err != nil {
			lastErr = err.Error()
			break
		}
		j.Stage = string(stage)
		j.Backend = string(backend)
		argv = withProgressFlags(argv)

		if jlog != nil {
			_ = jlog.Write(fmt.Sprintf("--- attempt %d: %s ---", attempt+1, argv))
		}
		start := time.Now()
		rc, runErr := o.runOnce(ctx, workerID, j, argv, durMs, jlog)
		encodeTime += time.Since(start).Seconds()

		if ctx.Err() != nil {
			commit.Cleanup(j.TempPath)
			o.finishInterrupted(j)
			return
		}

		if runErr == nil && rc == 0 {
			o.commitResult(j, ej, encodeTime)
			return
		}

		if runErr != nil {
			lastErr = fmt.Sprintf("encode error: %v", runErr)
		} else {
			lastErr = fmt.Sprintf("ffmpeg rc=%d", rc)
		}
		commit.Cleanup(j.TempPath)
	}

	o.publish("failed", &jobstatus.Job{ID: j.InputPath, CorrelationID: j.CorrelationID, InputPath: j.InputPath, Status: jobstatus.StatusFailed, Error: lastErr})
	if o.history != nil {
		_ = o.history.RecordFinish(j.HistoryID, history.FinishOptions{
			Status: history.StatusFailed, ErrorMsg: lastErr, EncodeTimeS: encodeTime,
		})
	}
	o.recordOutcome("failed")
}

func (o *Orchestrator) runOnce(ctx context.Context, workerID int, j *jobstatus.Job, argv []string, durMs int64, jlog *joblog.Writer) (int, error) {
	tracker := progress.NewTracker(time.Duration(durMs) * time.Millisecond)
	lastPct := -1.0
	onLine := func(line string) {
		if jlog != nil {
			_ = jlog.Write(line)
		}
		p := tracker.FeedKV(line)
		if p.Percent != lastPct {
			lastPct = p.Percent
			j.Percent = p.Percent
			j.Speed = p.Speed
			j.ETA = p.ETA
			o.publish("progress", j)
		}
	}
	return o.exec.Run(ctx, argv, onLine)
}

func (o *Orchestrator) commitResult(j *jobstatus.Job, ej encodeJob, encodeTime float64) {
	if reason, _ := commit.EnforceOutputQuota(j.TempPath, ej.inputSize, o.cfg.MaxOutputMB, o.cfg.MaxOutputRatio); reason != "" {
		commit.Cleanup(j.TempPath)
		o.publish("failed", &jobstatus.Job{ID: j.InputPath, CorrelationID: j.CorrelationID, InputPath: j.InputPath, Status: jobstatus.StatusFailed, Error: reason})
		if o.history != nil {
			_ = o.history.RecordFinish(j.HistoryID, history.FinishOptions{Status: history.StatusFailed, ErrorMsg: reason, EncodeTimeS: encodeTime})
		}
		o.recordOutcome("failed")
		return
	}

	if err := commit.Commit(j.TempPath, j.OutputPath, nil); err != nil {
		commit.Cleanup(j.TempPath)
		reason := fmt.Sprintf("move error: %v", err)
		o.publish("failed", &jobstatus.Job{ID: j.InputPath, CorrelationID: j.CorrelationID, InputPath: j.InputPath, Status: jobstatus.StatusFailed, Error: reason})
		if o.history != nil {
			_ = o.history.RecordFinish(j.HistoryID, history.FinishOptions{Status: history.StatusFailed, ErrorMsg: reason, EncodeTimeS: encodeTime})
		}
		o.recordOutcome("failed")
		return
	}

	var outSize int64
	if info, err := os.Stat(j.OutputPath); err == nil {
		outSize = info.Size()
	}
	j.OutputSize = outSize
	j.Status = jobstatus.StatusDone
	j.Percent = 100
	j.CompletedAt = time.Now()

	o.publish("done", j)
	if o.history != nil {
		_ = o.history.RecordFinish(j.HistoryID, history.FinishOptions{
			Status: history.StatusDone, OutputPath: j.OutputPath, OutputSize: outSize, EncodeTimeS: encodeTime,
		})
	}
	o.recordOutcome("done")
}

// withProgressFlags inserts "-progress pipe:1 -nostats" before the final
// output-path argument so the encode worker can parse key=value lines off
// stdout instead of scraping stderr, matching
// link270-shrinkray/internal/ffmpeg/transcode.go's progress plumbing.
func withProgressFlags(argv []string) []string {
	if len(argv) == 0 {
		return argv
	}
	out := make([]string, 0, len(argv)+3)
	out = append(out, argv[:len(argv)-1]...)
	out = append(out, "-progress", "pipe:1", "-nostats")
	out = append(out, argv[len(argv)-1])
	return out
}

func probeDurationForJob(ctx context.Context, p Prober, path string) (int64, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.DurationMs, nil
}
