package progress

import (
	"testing"
	"time"
)

func TestFeedKVAccumulatesAndComputesPercent(t *testing.T) {
	tr := NewTracker(100 * time.Second)
	tr.FeedKV("frame=120")
	tr.FeedKV("fps=24.0")
	tr.FeedKV("out_time_us=50000000")
	tr.FeedKV("speed=2.0x")
	p := tr.FeedKV("progress=continue")

	if p.Frame != 120 || p.FPS != 24.0 {
		t.Fatalf("got %+v", p)
	}
	if p.Percent != 50 {
		t.Errorf("percent = %v, want 50", p.Percent)
	}
	if p.ETA != 25*time.Second {
		t.Errorf("eta = %v, want 25s", p.ETA)
	}
}

func TestFeedKVAcceptsOutTimeMs(t *testing.T) {
	tr := NewTracker(100 * time.Second)
	tr.FeedKV("frame=120")
	tr.FeedKV("out_time_ms=50000")
	p := tr.FeedKV("progress=continue")

	if p.Time != 50*time.Second {
		t.Errorf("time = %v, want 50s", p.Time)
	}
	if p.Percent != 50 {
		t.Errorf("percent = %v, want 50", p.Percent)
	}
}

func TestPercentNeverDecreases(t *testing.T) {
	tr := NewTracker(100 * time.Second)
	tr.FeedKV("out_time_us=80000000")
	p1 := tr.FeedKV("progress=continue")
	if p1.Percent != 80 {
		t.Fatalf("p1 percent = %v", p1.Percent)
	}

	tr.FeedKV("out_time_us=10000000") // a stray smaller value must not regress
	p2 := tr.FeedKV("progress=continue")
	if p2.Percent < p1.Percent {
		t.Errorf("percent regressed: %v -> %v", p1.Percent, p2.Percent)
	}
}

func TestFeedKVDoneFlag(t *testing.T) {
	tr := NewTracker(10 * time.Second)
	p := tr.FeedKV("progress=end")
	if !p.Done {
		t.Error("expected Done=true on progress=end")
	}
}

func TestFeedStderrDotDecimal(t *testing.T) {
	tr := NewTracker(120 * time.Second)
	p := tr.FeedStderr("frame=1000 fps=30 q=-1.0 size=2048kB time=00:01:00.00 bitrate=1500.0kbits/s speed=1.5x")
	if p.Time != time.Minute {
		t.Errorf("time = %v, want 1m", p.Time)
	}
	if p.SizeBytes != 2048*1024 {
		t.Errorf("size = %v", p.SizeBytes)
	}
	if p.BitrateKbps != 1500.0 {
		t.Errorf("bitrate = %v", p.BitrateKbps)
	}
	if p.Percent != 50 {
		t.Errorf("percent = %v, want 50", p.Percent)
	}
}

func TestFeedStderrCommaDecimal(t *testing.T) {
	tr := NewTracker(60 * time.Second)
	p := tr.FeedStderr("frame=500 fps=25 time=00:00:30,00 bitrate=900.0kbits/s speed=1.0x")
	if p.Time != 30*time.Second {
		t.Errorf("time = %v, want 30s", p.Time)
	}
}

func TestFeedStderrUnknownLineIsNoop(t *testing.T) {
	tr := NewTracker(60 * time.Second)
	p := tr.FeedStderr("some unrelated ffmpeg banner line")
	if p.Frame != 0 || p.Time != 0 {
		t.Errorf("expected zero-value progress for unrelated line, got %+v", p)
	}
}

func TestNoDurationKeepsPercentZero(t *testing.T) {
	tr := NewTracker(0)
	tr.FeedKV("out_time_us=5000000")
	p := tr.FeedKV("progress=continue")
	if p.Percent != 0 {
		t.Errorf("percent = %v, want 0 when duration unknown", p.Percent)
	}
}
