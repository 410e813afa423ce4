package sink

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/voldardard/mkv2cast/internal/jobstatus"
)

// MultiRowSink renders one line per in-flight job, redrawing in place on
// every update — the concurrent-worker equivalent of a multi-bar progress
// display. It degrades to a no-render stub when Out isn't a real terminal,
// since repainting with cursor-movement escapes on a redirected pipe just
// produces garbage a human never sees and a machine never parses; use
// LinearSink or the JSON sink for non-interactive output instead.
type MultiRowSink struct {
	mu       sync.Mutex
	out      io.Writer
	isTTY    bool
	rows     []string // active job IDs in arrival order; redraw shows them sorted by ID
	active   map[string]*jobstatus.Job
	lastLines int
}

// NewMultiRowSink wraps out, auto-detecting whether it is a terminal.
func NewMultiRowSink(out *os.File) *MultiRowSink {
	return &MultiRowSink{
		out:    out,
		isTTY:  isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
		active: make(map[string]*jobstatus.Job),
	}
}

func (s *MultiRowSink) Handle(ev jobstatus.Event) {
	if !s.isTTY {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	j := ev.Job
	if j == nil {
		return
	}

	switch ev.Type {
	case "checking", "progress":
		if _, ok := s.active[j.ID]; !ok {
			s.rows = append(s.rows, j.ID)
		}
		cp := j.Copy()
		s.active[j.ID] = cp
	case "done", "failed", "skipped", "interrupted":
		delete(s.active, j.ID)
		for i, id := range s.rows {
			if id == j.ID {
				s.rows = append(s.rows[:i], s.rows[i+1:]...)
				break
			}
		}
	}

	s.redraw()
}

func (s *MultiRowSink) redraw() {
	if s.lastLines > 0 {
		fmt.Fprintf(s.out, "\x1b[%dA\x1b[J", s.lastLines)
	}

	ids := make([]string, len(s.rows))
	copy(ids, s.rows)
	sort.Strings(ids)

	var b strings.Builder
	for _, id := range ids {
		j := s.active[id]
		if j == nil {
			continue
		}
		fmt.Fprintf(&b, "%-40s %-10s %5.1f%%  %s  eta %s\n",
			truncate(j.InputPath, 40), j.Stage, j.Percent,
			humanize.Bytes(uint64(j.OutputSize)), j.ETA.Round(1e9))
	}
	s.lastLines = len(ids)
	fmt.Fprint(s.out, b.String())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
