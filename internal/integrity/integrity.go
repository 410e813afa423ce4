// Package integrity runs the preflight checks a source file must pass
// before it enters the encode stage: a minimum-size floor, a stability wait
// (guards against files still being copied or downloaded into the watched
// directory), an ffprobe validity check, and an optional full decode.
// Grounded in original_source/integrity.py's integrity_check state machine.
package integrity

import (
	"context"
	"os"
	"os/exec"
	"time"
)

// Stage names one step of the check sequence, reported through the
// progress callback so a sink can render "STABLE 2/3s" style updates.
type Stage string

const (
	StageCheck   Stage = "CHECK"
	StageStable  Stage = "STABLE"
	StageFFprobe Stage = "FFPROBE"
	StageDecode  Stage = "DECODE"
	StageDone    Stage = "DONE"
)

// ProgressFunc receives (stage, percent, message) updates as the check runs.
type ProgressFunc func(stage Stage, percent int, message string)

// minSizeBytes below which a file is considered suspicious (e.g. a stub or
// an in-progress download), matching integrity.py's 1 MiB floor.
const minSizeBytes = 1024 * 1024

// Options configures one integrity run.
type Options struct {
	FFprobePath string
	FFmpegPath  string
	Enabled     bool
	StableWait  time.Duration
	DeepCheck   bool
	Progress    ProgressFunc
}

// Checker runs integrity checks against the filesystem and external tools.
type Checker struct {
	opt Options
}

// NewChecker builds a Checker bound to the given options.
func NewChecker(opt Options) *Checker {
	return &Checker{opt: opt}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (c *Checker) report(stage Stage, pct int, msg string) {
	if c.opt.Progress != nil {
		c.opt.Progress(stage, pct, msg)
	}
}

// Check runs the full sequence: size floor, stability wait, ffprobe
// validation, and (if enabled) a full decode. It returns false at the first
// failing stage. If Options.Enabled is false, it skips every stage and
// returns true immediately (integrity.py's "enabled=False" short-circuit).
func (c *Checker) Check(ctx context.Context, path string) (bool, error) {
	if !c.opt.Enabled {
		return true, nil
	}

	c.report(StageCheck, 0, "checking file")
	size := fileSize(path)
	if size < minSizeBytes {
		return false, nil
	}

	if c.opt.StableWait > 0 {
		ticks := int(c.opt.StableWait / time.Second)
		if ticks < 1 {
			ticks = 1
		}
		for i := 0; i < ticks; i++ {
			pct := ((i + 1) * 50) / ticks
			c.report(StageStable, pct, "waiting for size to stabilize")
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(time.Second):
			}
		}
		if fileSize(path) != size {
			return false, nil
		}
	}

	c.report(StageFFprobe, 60, "validating with ffprobe")
	if !c.ffprobeValid(ctx, path) {
		return false, nil
	}

	if c.opt.DeepCheck {
		c.report(StageDecode, 70, "deep decode verification")
		if !c.deepDecode(ctx, path) {
			return false, nil
		}
	}

	c.report(StageDone, 100, "ok")
	return true, nil
}

func (c *Checker) ffprobeValid(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.opt.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nw=1:nk=1",
		path,
	)
	return cmd.Run() == nil
}

// deepDecode fully decodes the video stream to "-f null", catching
// truncation or decode errors a quick probe would miss. Bounded to one hour
// (integrity.py's timeout), since even a very long source should decode
// faster than that on any host running this pipeline.
func (c *Checker) deepDecode(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, time.Hour)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.opt.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", path,
		"-map", "0:v:0",
		"-f", "null", "-",
	)
	return cmd.Run() == nil
}

// IsStable reports whether path's size hasn't changed across wait, without
// running the full integrity sequence. Called by internal/watch's dispatch
// right before it hands a newly discovered file to its handler
// (original_source/watcher.py's stability wait).
func IsStable(path string, wait time.Duration) bool {
	if wait <= 0 {
		return true
	}
	s1 := fileSize(path)
	if s1 < minSizeBytes {
		return false
	}
	time.Sleep(wait)
	return fileSize(path) == s1
}
