// Package joblog writes one append-only log file per input file under the
// state directory's logs subdirectory, so a finished (or failed) run leaves
// a durable trace of exactly what ffmpeg printed for that file. Grounded in
// original_source/cli.py's get_log_path (date-stamped, sanitized-stem
// naming) and original_source/pipeline.py's log_path plumbing through
// integrity_check_with_progress/run_ffmpeg_with_progress, which append every
// line ffmpeg emits as it runs.
package joblog

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ncruces/go-strftime"
)

var unsafeChars = regexp.MustCompile(`[^\w\-.]`)

// Path returns the log file a job for inputPath should append to, rooted at
// dir (normally config.Dirs.Logs). The name is date-stamped so repeated runs
// against the same file don't clobber each other's history across days;
// correlationID's first 8 characters disambiguate two inputs that share a
// stem from different source directories in the same run.
func Path(dir, inputPath, correlationID string) string {
	stem := filepath.Base(inputPath)
	if ext := filepath.Ext(stem); ext != "" {
		stem = stem[:len(stem)-len(ext)]
	}
	safe := unsafeChars.ReplaceAllString(stem, "_")
	if len(safe) > 80 {
		safe = safe[:80]
	}
	date := strftime.Format("%Y-%m-%d", time.Now())
	short := correlationID
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		return filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, safe))
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%s.log", date, safe, short))
}

// Writer appends lines to a single job's log file, opening it lazily on the
// first Write so a job that never produces output never creates an empty
// file.
type Writer struct {
	path string
	f    *os.File
}

// New returns a Writer bound to path. Open happens on first Write.
func New(path string) *Writer {
	return &Writer{path: path}
}

// Write appends line plus a trailing newline to the log file, opening it if
// this is the first write.
func (w *Writer) Write(line string) error {
	if w.f == nil {
		if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
			return fmt.Errorf("joblog mkdir: %w", err)
		}
		f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("joblog open: %w", err)
		}
		w.f = f
	}
	_, err := fmt.Fprintln(w.f, line)
	return err
}

// Close closes the underlying file, if it was ever opened.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	return w.f.Close()
}
