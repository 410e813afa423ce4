// Package command builds the ffmpeg argument vector for one transcode job.
// The per-backend quality blocks are grounded in
// link270-shrinkray/internal/ffmpeg/presets.go's encoderConfigs table shape;
// the overall argv assembly (stream mapping, silence synthesis, metadata,
// container-specific flags) is grounded in
// original_source/converter.py's build_transcode_cmd.
package command

import (
	"fmt"

	"github.com/voldardard/mkv2cast/internal/decision"
	"github.com/voldardard/mkv2cast/internal/hwaccel"
	"github.com/voldardard/mkv2cast/internal/subtitles"
)

// Stage names the kind of work the built command performs, used for
// progress-sink labeling and history records.
type Stage string

const (
	StageTranscode Stage = "TRANSCODE" // video needs encoding
	StageAudio     Stage = "AUDIO"     // video copies, only audio is touched
	StageRemux     Stage = "REMUX"     // both streams copy, container-only change
)

// Options carries the encode-time settings the builder consults, narrowed
// from the full config the way internal/decision narrows its own Options.
type Options struct {
	Container        string // "mkv" or "mp4"
	Preset           string // libx264 preset name, also mapped to hw presets
	CRF              int
	NVENCQuality     int
	QSVQuality       int
	VAAPIQuality     int
	AMFQuality       int
	VAAPIDevice      string
	AudioBitrate     string // e.g. "192k"
	KeepSurround     bool
	NoSubtitles      bool
	PreserveMetadata bool
	PreserveChapters bool
	PreserveAttach   bool
}

var nvencPresetMap = map[string]string{
	"ultrafast": "p1", "superfast": "p2", "veryfast": "p3",
	"faster": "p4", "fast": "p4", "medium": "p5",
	"slow": "p6", "slower": "p7", "veryslow": "p7",
}

var amfQualityMap = map[string]string{
	"ultrafast": "speed", "superfast": "speed", "veryfast": "speed",
	"faster": "balanced", "fast": "balanced", "medium": "balanced",
	"slow": "quality", "slower": "quality", "veryslow": "quality",
}

// videoArgsFor returns the encoder selection and quality flags for backend,
// matching converter.py's video_args_for per-backend argument blocks.
func videoArgsFor(backend hwaccel.Backend, opt Options) []string {
	switch backend {
	case hwaccel.BackendNVENC:
		preset := nvencPresetMap[opt.Preset]
		if preset == "" {
			preset = "p4"
		}
		return []string{
			"-c:v", "h264_nvenc",
			"-preset", preset,
			"-cq", fmt.Sprint(opt.NVENCQuality),
			"-profile:v", "high",
			"-level", "4.1",
			"-rc", "vbr",
			"-b:v", "0",
		}
	case hwaccel.BackendAMF:
		quality := amfQualityMap[opt.Preset]
		if quality == "" {
			quality = "balanced"
		}
		qp := fmt.Sprint(opt.AMFQuality)
		return []string{
			"-c:v", "h264_amf",
			"-quality", quality,
			"-rc", "cqp",
			"-qp_i", qp, "-qp_p", qp, "-qp_b", qp,
			"-profile:v", "high",
			"-level", "4.1",
		}
	case hwaccel.BackendQSV:
		return []string{
			"-vf", "format=nv12",
			"-c:v", "h264_qsv",
			"-global_quality", fmt.Sprint(opt.QSVQuality),
			"-profile:v", "high",
			"-level", "4.1",
		}
	case hwaccel.BackendVAAPI:
		device := opt.VAAPIDevice
		if device == "" {
			device = "/dev/dri/renderD128"
		}
		return []string{
			"-vaapi_device", device,
			"-vf", "format=nv12,hwupload",
			"-c:v", "h264_vaapi",
			"-qp", fmt.Sprint(opt.VAAPIQuality),
			"-profile:v", "high",
			"-level", "4.1",
		}
	default: // cpu
		return []string{
			"-c:v", "libx264",
			"-preset", opt.Preset,
			"-crf", fmt.Sprint(opt.CRF),
			"-pix_fmt", "yuv420p",
			"-profile:v", "high",
			"-level", "4.1",
		}
	}
}

// Build assembles the ffmpeg argv for transcoding input into tmpOut per d,
// using backend for any video encode, and reports which stage it performs.
func Build(ffmpegPath, input string, d decision.Decision, backend hwaccel.Backend, tmpOut string, opt Options) ([]string, Stage, error) {
	if opt.Container != "mkv" && opt.Container != "mp4" {
		return nil, "", fmt.Errorf("container must be mkv or mp4, got %q", opt.Container)
	}

	args := []string{ffmpegPath, "-hide_banner", "-y"}

	if opt.Container == "mkv" {
		args = append(args, "-f", "matroska")
	} else {
		args = append(args, "-f", "mp4", "-movflags", "+faststart")
	}

	// A subtitle track chosen by internal/decision still has to survive the
	// target container's codec rules (e.g. PGS can't go into an MP4 as
	// mov_text) or ffmpeg errors out mid-encode instead of just dropping it.
	subtitleMapped := false
	if d.AddSilence {
		args = append(args, "-i", input, "-f", "lavfi", "-i", "anullsrc=channel_layout=stereo:sample_rate=48000")
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
		switch {
		case d.SubtitleIndex >= 0 && subtitles.IsCompatible(d.SubtitleCodec, opt.Container):
			args = append(args, "-map", fmt.Sprintf("0:%d", d.SubtitleIndex))
			subtitleMapped = true
		case d.SubtitleIndex < 0 && !opt.NoSubtitles:
			args = append(args, "-map", "0:s?")
			subtitleMapped = true
		}
		args = append(args, "-shortest")
	} else {
		args = append(args, "-i", input, "-map", "0:v:0")
		if d.AudioIndex >= 0 {
			args = append(args, "-map", fmt.Sprintf("0:%d", d.AudioIndex))
		}
		switch {
		case d.SubtitleIndex >= 0 && subtitles.IsCompatible(d.SubtitleCodec, opt.Container):
			args = append(args, "-map", fmt.Sprintf("0:%d", d.SubtitleIndex))
			subtitleMapped = true
		case d.SubtitleIndex < 0 && !opt.NoSubtitles:
			args = append(args, "-map", "0:s?")
			subtitleMapped = true
		}
	}

	if !d.NeedVideo {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, videoArgsFor(backend, opt)...)
	}

	switch {
	case d.AddSilence:
		args = append(args, "-c:a", "aac", "-b:a", opt.AudioBitrate, "-ac", "2")
	case d.AudioIndex >= 0:
		if !d.NeedAudio {
			args = append(args, "-c:a", "copy")
		} else {
			args = append(args, "-c:a", "aac", "-b:a", opt.AudioBitrate)
			if !opt.KeepSurround {
				args = append(args, "-ac", "2")
			}
		}
	}

	if subtitleMapped {
		if opt.Container == "mkv" {
			args = append(args, "-c:s", "copy")
		} else {
			args = append(args, "-c:s", "mov_text")
		}
	}

	if opt.PreserveMetadata {
		args = append(args, "-map_metadata", "0")
	} else {
		args = append(args, "-map_metadata", "-1")
	}

	if opt.PreserveChapters {
		args = append(args, "-map_chapters", "0")
	} else {
		args = append(args, "-map_chapters", "-1")
	}

	if opt.PreserveAttach && opt.Container == "mkv" {
		args = append(args, "-map", "0:t?", "-c:t", "copy")
	}

	args = append(args, "-max_muxing_queue_size", "2048")
	args = append(args, tmpOut)

	stage := StageTranscode
	switch {
	case !d.NeedVideo && d.NeedAudio:
		stage = StageAudio
	case !d.NeedVideo && !d.NeedAudio:
		stage = StageRemux
	}

	return args, stage, nil
}
