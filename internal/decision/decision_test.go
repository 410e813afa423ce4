package decision

import (
	"testing"

	"github.com/voldardard/mkv2cast/internal/probe"
)

func defaultOptions() Options {
	return Options{AudioTrack: -1, SubtitleTrack: -1}
}

func TestIsAudioDescription(t *testing.T) {
	cases := []struct {
		title string
		want  bool
	}{
		{"English Audio Description", true},
		{"VI Narration", false},
		{"Audio-Description", true},
		{"Commentary", false},
		{"Visual Impaired Track", true},
	}
	for _, c := range cases {
		if got := IsAudioDescription(c.title); got != c.want {
			t.Errorf("IsAudioDescription(%q) = %v, want %v", c.title, got, c.want)
		}
	}
}

func TestSelectAudioTrackExplicitIndex(t *testing.T) {
	streams := []probe.AudioStream{
		{Index: 1, Language: "eng"},
		{Index: 2, Language: "fre"},
	}
	opt := defaultOptions()
	opt.AudioTrack = 1
	s, lang := SelectAudioTrack(streams, opt)
	if s == nil || s.Index != 2 || lang != "fre" {
		t.Fatalf("got %+v, %q", s, lang)
	}
}

func TestSelectAudioTrackLanguagePriorityExcludesAD(t *testing.T) {
	streams := []probe.AudioStream{
		{Index: 0, Language: "eng", Title: "Audio Description"},
		{Index: 1, Language: "eng", Title: "Stereo"},
	}
	opt := defaultOptions()
	opt.AudioLang = "eng"
	s, lang := SelectAudioTrack(streams, opt)
	if s == nil || s.Index != 1 || lang != "eng" {
		t.Fatalf("got %+v, %q, want index 1", s, lang)
	}
}

func TestSelectAudioTrackLanguagePriorityFallsBackToAD(t *testing.T) {
	streams := []probe.AudioStream{
		{Index: 0, Language: "eng", Title: "Audio Description"},
	}
	opt := defaultOptions()
	opt.AudioLang = "eng"
	s, _ := SelectAudioTrack(streams, opt)
	if s == nil || s.Index != 0 {
		t.Fatalf("got %+v, want index 0 (AD fallback)", s)
	}
}

func TestSelectAudioTrackFrenchDefault(t *testing.T) {
	streams := []probe.AudioStream{
		{Index: 0, Language: "ger"},
		{Index: 1, Language: "fre"},
	}
	opt := defaultOptions()
	s, lang := SelectAudioTrack(streams, opt)
	if s == nil || s.Index != 1 || lang != "fre" {
		t.Fatalf("got %+v, %q", s, lang)
	}
}

func TestSelectAudioTrackFirstFallback(t *testing.T) {
	streams := []probe.AudioStream{
		{Index: 0, Language: "ger"},
		{Index: 1, Language: "spa"},
	}
	opt := defaultOptions()
	s, _ := SelectAudioTrack(streams, opt)
	if s == nil || s.Index != 0 {
		t.Fatalf("got %+v, want first track", s)
	}
}

func TestSelectAudioTrackEmpty(t *testing.T) {
	s, lang := SelectAudioTrack(nil, defaultOptions())
	if s != nil || lang != "" {
		t.Fatalf("got %+v, %q, want nil/empty", s, lang)
	}
}

func TestSelectSubtitleTrackDisabled(t *testing.T) {
	streams := []probe.SubtitleStream{{Index: 0, Language: "eng"}}
	opt := defaultOptions()
	opt.NoSubtitles = true
	s, _ := SelectSubtitleTrack(streams, "eng", opt)
	if s != nil {
		t.Fatalf("got %+v, want nil when disabled", s)
	}
}

func TestSelectSubtitleTrackPreferForced(t *testing.T) {
	streams := []probe.SubtitleStream{
		{Index: 0, Language: "eng", Disposition: probe.Disposition{Forced: false}},
		{Index: 1, Language: "eng", Disposition: probe.Disposition{Forced: true}},
	}
	opt := defaultOptions()
	opt.PreferForcedSubs = true
	s, forced := SelectSubtitleTrack(streams, "eng", opt)
	if s == nil || s.Index != 1 || !forced {
		t.Fatalf("got %+v, forced=%v", s, forced)
	}
}

func TestSelectSubtitleTrackLanguagePriorityNonSDH(t *testing.T) {
	streams := []probe.SubtitleStream{
		{Index: 0, Language: "eng", Title: "SDH"},
		{Index: 1, Language: "eng", Title: "Full"},
	}
	opt := defaultOptions()
	opt.SubtitleLang = "eng"
	s, _ := SelectSubtitleTrack(streams, "", opt)
	if s == nil || s.Index != 1 {
		t.Fatalf("got %+v, want non-SDH track", s)
	}
}

func TestSelectSubtitleTrackNoMatchReturnsNil(t *testing.T) {
	streams := []probe.SubtitleStream{{Index: 0, Language: "ger"}}
	opt := defaultOptions()
	opt.SubtitleLang = "eng"
	s, _ := SelectSubtitleTrack(streams, "", opt)
	if s != nil {
		t.Fatalf("got %+v, want nil (default: no subtitle without language match)", s)
	}
}

func TestEvaluateH264CopyEligible(t *testing.T) {
	info := &probe.StreamInfo{
		Video: probe.VideoStream{
			CodecName: "h264", PixelFormat: "yuv420p", BitDepth: 8, Level: 40,
		},
		Audio: []probe.AudioStream{{Index: 1, CodecName: "aac", Language: "eng"}},
	}
	d := Evaluate(info, "movie.mkv", defaultOptions())
	if d.NeedVideo {
		t.Errorf("expected video copy eligible, got NeedVideo=true reason=%q", d.VideoReason)
	}
	if d.NeedAudio {
		t.Errorf("expected audio copy eligible (aac), got NeedAudio=true")
	}
}

func TestEvaluateAV1FilenameForcesTranscode(t *testing.T) {
	info := &probe.StreamInfo{
		Video: probe.VideoStream{CodecName: "h264", PixelFormat: "yuv420p", BitDepth: 8},
	}
	d := Evaluate(info, "movie.AV1.mkv", defaultOptions())
	if !d.NeedVideo {
		t.Errorf("expected forced transcode for AV1 filename marker")
	}
}

func TestEvaluateHEVCRequiresTranscodeByDefault(t *testing.T) {
	info := &probe.StreamInfo{
		Video: probe.VideoStream{CodecName: "hevc", PixelFormat: "yuv420p", BitDepth: 8},
	}
	d := Evaluate(info, "movie.mkv", defaultOptions())
	if !d.NeedVideo {
		t.Errorf("expected HEVC to require transcode without allow-hevc")
	}
}

func TestEvaluateHEVCAllowedWhenSDR8bit(t *testing.T) {
	info := &probe.StreamInfo{
		Video: probe.VideoStream{CodecName: "hevc", PixelFormat: "yuv420p", BitDepth: 8, IsHDR: false},
	}
	opt := defaultOptions()
	opt.AllowHEVC = true
	d := Evaluate(info, "movie.mkv", opt)
	if d.NeedVideo {
		t.Errorf("expected HEVC copy eligible with allow-hevc and SDR 8-bit")
	}
}

func TestEvaluateNoAudioAddsSilence(t *testing.T) {
	info := &probe.StreamInfo{
		Video: probe.VideoStream{CodecName: "h264", PixelFormat: "yuv420p", BitDepth: 8},
	}
	opt := defaultOptions()
	opt.AddSilenceIfNoAudio = true
	d := Evaluate(info, "movie.mkv", opt)
	if !d.AddSilence || !d.NeedAudio {
		t.Errorf("expected silence synthesis when no audio stream present, got %+v", d)
	}
}
