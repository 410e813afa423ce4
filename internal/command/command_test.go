package command

import (
	"strings"
	"testing"

	"github.com/voldardard/mkv2cast/internal/decision"
	"github.com/voldardard/mkv2cast/internal/hwaccel"
)

func containsSeq(args []string, seq ...string) bool {
	joined := strings.Join(args, "\x00")
	return strings.Contains(joined, strings.Join(seq, "\x00"))
}

func TestBuildRemuxWhenNothingNeeded(t *testing.T) {
	d := decision.Decision{AudioIndex: 1, SubtitleIndex: -1}
	args, stage, err := Build("ffmpeg", "in.mkv", d, hwaccel.BackendCPU, "out.mkv.tmp", Options{Container: "mkv"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stage != StageRemux {
		t.Errorf("stage = %q, want REMUX", stage)
	}
	if !containsSeq(args, "-c:v", "copy") || !containsSeq(args, "-c:a", "copy") {
		t.Errorf("expected copy codecs, got %v", args)
	}
}

func TestBuildTranscodeUsesBackendArgs(t *testing.T) {
	d := decision.Decision{NeedVideo: true, AudioIndex: -1, SubtitleIndex: -1}
	opt := Options{Container: "mkv", Preset: "medium", CRF: 20}
	args, stage, err := Build("ffmpeg", "in.mkv", d, hwaccel.BackendCPU, "out.mkv.tmp", opt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if stage != StageTranscode {
		t.Errorf("stage = %q, want TRANSCODE", stage)
	}
	if !containsSeq(args, "-c:v", "libx264") || !containsSeq(args, "-crf", "20") {
		t.Errorf("expected libx264 crf args, got %v", args)
	}
}

func TestBuildAddSilenceSynthesizesTrack(t *testing.T) {
	d := decision.Decision{AddSilence: true, AudioIndex: -1, SubtitleIndex: -1, NeedAudio: true}
	opt := Options{Container: "mkv", AudioBitrate: "192k"}
	args, _, err := Build("ffmpeg", "in.mkv", d, hwaccel.BackendCPU, "out.mkv.tmp", opt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !containsSeq(args, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=48000") {
		t.Errorf("expected silence source, got %v", args)
	}
	if !containsSeq(args, "-shortest") {
		t.Errorf("expected -shortest flag, got %v", args)
	}
}

func TestBuildAddSilenceHonorsNoSubtitles(t *testing.T) {
	d := decision.Decision{AddSilence: true, AudioIndex: -1, SubtitleIndex: -1, NeedAudio: true}
	opt := Options{Container: "mkv", AudioBitrate: "192k", NoSubtitles: true}
	args, _, err := Build("ffmpeg", "in.mkv", d, hwaccel.BackendCPU, "out.mkv.tmp", opt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if containsSeq(args, "-map", "0:s?") {
		t.Errorf("expected no subtitle map with NoSubtitles set, got %v", args)
	}
	if containsSeq(args, "-c:s") {
		t.Errorf("expected no -c:s flag when no subtitle is mapped, got %v", args)
	}
}

func TestBuildRejectsUnknownContainer(t *testing.T) {
	_, _, err := Build("ffmpeg", "in.mkv", decision.Decision{}, hwaccel.BackendCPU, "out.tmp", Options{Container: "avi"})
	if err == nil {
		t.Fatal("expected error for unsupported container")
	}
}

func TestBuildMp4UsesMovText(t *testing.T) {
	d := decision.Decision{AudioIndex: -1, SubtitleIndex: 2, SubtitleCodec: "subrip"}
	args, _, err := Build("ffmpeg", "in.mkv", d, hwaccel.BackendCPU, "out.mp4.tmp", Options{Container: "mp4"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !containsSeq(args, "-c:s", "mov_text") {
		t.Errorf("expected mov_text subtitle codec, got %v", args)
	}
	if !containsSeq(args, "-movflags", "+faststart") {
		t.Errorf("expected faststart flag, got %v", args)
	}
}

func TestBuildDropsIncompatibleSubtitleCodecForContainer(t *testing.T) {
	d := decision.Decision{AudioIndex: -1, SubtitleIndex: 3, SubtitleCodec: "hdmv_pgs_subtitle"}
	args, _, err := Build("ffmpeg", "in.mkv", d, hwaccel.BackendCPU, "out.mp4.tmp", Options{Container: "mp4"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if containsSeq(args, "-map", "0:3") {
		t.Errorf("expected PGS subtitle track not mapped into mp4, got %v", args)
	}
	if containsSeq(args, "-c:s") {
		t.Errorf("expected no -c:s flag when no subtitle is mapped, got %v", args)
	}
}

func TestBuildNVENCMapsPresetName(t *testing.T) {
	d := decision.Decision{NeedVideo: true, AudioIndex: -1, SubtitleIndex: -1}
	opt := Options{Container: "mkv", Preset: "slow", NVENCQuality: 23}
	args, _, err := Build("ffmpeg", "in.mkv", d, hwaccel.BackendNVENC, "out.mkv.tmp", opt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !containsSeq(args, "-preset", "p6") {
		t.Errorf("expected nvenc preset p6 for slow, got %v", args)
	}
}
