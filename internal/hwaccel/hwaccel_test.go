package hwaccel

import (
	"context"
	"testing"
)

func TestFallbackWalksPriorityOrder(t *testing.T) {
	cases := []struct {
		current Backend
		want    Backend
	}{
		{BackendNVENC, BackendAMF},
		{BackendAMF, BackendQSV},
		{BackendQSV, BackendVAAPI},
		{BackendVAAPI, BackendCPU},
		{BackendCPU, BackendCPU},
		{Backend("bogus"), BackendCPU},
	}
	for _, c := range cases {
		if got := Fallback(c.current); got != c.want {
			t.Errorf("Fallback(%q) = %q, want %q", c.current, got, c.want)
		}
	}
}

func TestPickReturnsForcedBackendWithoutProbing(t *testing.T) {
	s := NewSelector("/nonexistent/ffmpeg", "")
	got := s.Pick(context.Background(), BackendVAAPI)
	if got != BackendVAAPI {
		t.Fatalf("Pick forced = %q, want vaapi", got)
	}
}

func TestProbeAllReturnsResultForEveryBackend(t *testing.T) {
	s := NewSelector("/nonexistent/ffmpeg", "")
	backends := []Backend{BackendNVENC, BackendAMF, BackendQSV, BackendVAAPI}
	got := s.ProbeAll(context.Background(), backends)
	if len(got) != len(backends) {
		t.Fatalf("ProbeAll returned %d results, want %d", len(got), len(backends))
	}
	for _, b := range backends {
		if ok, present := got[b]; !present || ok {
			t.Errorf("ProbeAll[%q] = %v, present=%v, want false/present since ffmpeg doesn't exist", b, ok, present)
		}
	}
}

func TestEncoderNameFor(t *testing.T) {
	cases := map[Backend]string{
		BackendNVENC: "h264_nvenc",
		BackendAMF:   "h264_amf",
		BackendQSV:   "h264_qsv",
		BackendVAAPI: "h264_vaapi",
		BackendCPU:   "libx264",
	}
	for b, want := range cases {
		if got := encoderNameFor(b); got != want {
			t.Errorf("encoderNameFor(%q) = %q, want %q", b, got, want)
		}
	}
}
