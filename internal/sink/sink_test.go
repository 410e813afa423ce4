package sink

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/voldardard/mkv2cast/internal/jobstatus"
)

type recordingSink struct {
	events []jobstatus.Event
}

func (r *recordingSink) Handle(ev jobstatus.Event) { r.events = append(r.events, ev) }

func TestHubPublishDeliversToRegisteredSinks(t *testing.T) {
	h := NewHub()
	rec := &recordingSink{}
	h.Register(rec)

	h.Publish(jobstatus.Event{Type: "queued", Job: &jobstatus.Job{ID: "1"}})
	h.Publish(jobstatus.Event{Type: "done", Job: &jobstatus.Job{ID: "1"}})

	if len(rec.events) != 2 {
		t.Fatalf("got %d events, want 2", len(rec.events))
	}
}

func TestHubSubscribeReceivesEvents(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	h.Publish(jobstatus.Event{Type: "queued", Job: &jobstatus.Job{ID: "x"}})

	select {
	case ev := <-ch:
		if ev.Type != "queued" {
			t.Errorf("got type %q", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribed event")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	h.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after Unsubscribe")
	}
}

func TestHubPublishDropsOnFullSubscriberBuffer(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	for i := 0; i < 200; i++ {
		h.Publish(jobstatus.Event{Type: "progress", Job: &jobstatus.Job{ID: "y"}})
	}
	// Must not deadlock or panic; the buffer (size 100) simply drops the rest.
}

func TestLinearSinkHandlesAllEventTypesWithoutPanicking(t *testing.T) {
	s := NewLinearSink()
	for _, typ := range []string{"queued", "checking", "progress", "done", "failed", "skipped", "interrupted", "unknown"} {
		s.Handle(jobstatus.Event{Type: typ, Job: &jobstatus.Job{InputPath: "/a.mkv"}})
	}
}

func TestJSONSinkEmitsValidNDJSONWithExpectedFields(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONSink(&buf)

	s.Handle(jobstatus.Event{Type: "queued", Job: &jobstatus.Job{InputPath: "/movies/one.mkv"}})
	s.Handle(jobstatus.Event{Type: "progress", Job: &jobstatus.Job{
		InputPath: "/movies/one.mkv", Status: jobstatus.StatusEncoding, Percent: 42.5, Stage: "TRANSCODE",
	}})
	s.Handle(jobstatus.Event{Type: "done", Job: &jobstatus.Job{
		InputPath: "/movies/one.mkv", OutputPath: "/movies/one.h264.mkv", Status: jobstatus.StatusDone,
	}})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}

	var last state
	if err := json.Unmarshal(lines[2], &last); err != nil {
		t.Fatalf("unmarshal last line: %v", err)
	}
	if last.Event != "done" {
		t.Errorf("event = %q, want done", last.Event)
	}
	fp, ok := last.Files["/movies/one.mkv"]
	if !ok {
		t.Fatal("missing file entry")
	}
	if fp.Status != "done" || fp.OutputPath != "/movies/one.h264.mkv" || fp.ProgressPercent != 100 {
		t.Errorf("got %+v", fp)
	}
	if last.Overall.ConvertedFiles != 1 || last.Overall.ProcessedFiles != 1 {
		t.Errorf("overall = %+v", last.Overall)
	}
}

func TestJSONSinkTracksFailedAndSkippedCounts(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONSink(&buf)

	s.Handle(jobstatus.Event{Type: "queued", Job: &jobstatus.Job{InputPath: "/a.mkv"}})
	s.Handle(jobstatus.Event{Type: "queued", Job: &jobstatus.Job{InputPath: "/b.mkv"}})
	s.Handle(jobstatus.Event{Type: "failed", Job: &jobstatus.Job{InputPath: "/a.mkv", Error: "boom"}})
	s.Handle(jobstatus.Event{Type: "skipped", Job: &jobstatus.Job{InputPath: "/b.mkv", SkipReason: "already h264"}})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var last state
	if err := json.Unmarshal(lines[len(lines)-1], &last); err != nil {
		t.Fatal(err)
	}
	if last.Overall.FailedFiles != 1 || last.Overall.SkippedFiles != 1 {
		t.Errorf("overall = %+v", last.Overall)
	}
	if last.Files["/a.mkv"].Error != "boom" {
		t.Errorf("expected error preserved, got %+v", last.Files["/a.mkv"])
	}
}
