// Package probe normalizes ffprobe's JSON output into a StreamInfo the rest
// of the pipeline consumes without ever touching a raw map. Grounded in
// link270-shrinkray/internal/ffmpeg/probe.go for the JSON decode shape and
// in original_source/converter.py's ffprobe_json/probe_duration_ms/
// parse_bitdepth_from_pix for the exact field semantics spec.md §4.2 names.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// VideoStream is the single video stream a source is expected to carry.
type VideoStream struct {
	CodecName      string
	PixelFormat    string
	Profile        string
	Level          int
	BitDepth       int
	ColorPrimaries string
	ColorTransfer  string
	ColorSpace     string
	IsHDR          bool
	Width, Height  int
	FrameRate      float64
}

// Disposition mirrors the handful of ffprobe disposition flags the decision
// engine inspects.
type Disposition struct {
	Forced         bool
	HearingImpaired bool
}

// AudioStream is one candidate audio track.
type AudioStream struct {
	Index       int
	CodecName   string
	Channels    int
	Language    string
	Title       string
	Disposition Disposition
}

// SubtitleStream is one candidate subtitle track.
type SubtitleStream struct {
	Index       int
	CodecName   string
	Language    string
	Title       string
	Disposition Disposition
}

// StreamInfo is the normalized view of a probed source file (spec.md §3).
type StreamInfo struct {
	FormatName string
	Video      VideoStream
	HasVideo   bool
	Audio      []AudioStream
	Subtitles  []SubtitleStream
	DurationMs int64
}

// ffprobe's raw JSON shape.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeDisposition struct {
	Forced          int `json:"forced"`
	HearingImpaired int `json:"hearing_impaired"`
}

type ffprobeTags struct {
	Language string `json:"language"`
	Title    string `json:"title"`
}

type ffprobeStream struct {
	Index            int                 `json:"index"`
	CodecType        string              `json:"codec_type"`
	CodecName        string              `json:"codec_name"`
	Width            int                 `json:"width"`
	Height           int                 `json:"height"`
	RFrameRate       string              `json:"r_frame_rate"`
	AvgFrameRate     string              `json:"avg_frame_rate"`
	Profile          string              `json:"profile"`
	PixelFormat      string              `json:"pix_fmt"`
	Level            int                 `json:"level"`
	Channels         int                 `json:"channels"`
	BitsPerRawSample string              `json:"bits_per_raw_sample"`
	ColorTransfer    string              `json:"color_transfer"`
	ColorPrimaries   string              `json:"color_primaries"`
	ColorSpace       string              `json:"color_space"`
	Disposition      ffprobeDisposition  `json:"disposition"`
	Tags             ffprobeTags         `json:"tags"`
	Duration         string              `json:"duration"`
}

// Prober wraps ffprobe invocation.
type Prober struct {
	FFprobePath string
}

// NewProber builds a Prober bound to the given ffprobe executable path.
func NewProber(ffprobePath string) *Prober {
	return &Prober{FFprobePath: ffprobePath}
}

// ProbeError wraps a failed or unparsable ffprobe invocation.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string { return fmt.Sprintf("probe %s: %v", e.Path, e.Err) }
func (e *ProbeError) Unwrap() error { return e.Err }

// Probe runs ffprobe and normalizes its output into a StreamInfo.
func (p *Prober) Probe(ctx context.Context, path string) (*StreamInfo, error) {
	cmd := exec.CommandContext(ctx, p.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, &ProbeError{Path: path, Err: err}
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, &ProbeError{Path: path, Err: fmt.Errorf("decode json: %w", err)}
	}

	info := &StreamInfo{FormatName: raw.Format.FormatName}
	if raw.Format.Duration != "" {
		if sec, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil && sec > 0 {
			info.DurationMs = int64(sec * 1000)
		}
	}

	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if info.HasVideo {
				continue // first video stream wins
			}
			info.HasVideo = true
			v := VideoStream{
				CodecName:      strings.ToLower(s.CodecName),
				PixelFormat:    strings.ToLower(s.PixelFormat),
				Profile:        strings.ToLower(s.Profile),
				Level:          s.Level,
				ColorPrimaries: strings.ToLower(s.ColorPrimaries),
				ColorTransfer:  strings.ToLower(s.ColorTransfer),
				ColorSpace:     strings.ToLower(s.ColorSpace),
				Width:          s.Width,
				Height:         s.Height,
			}
			if s.BitsPerRawSample != "" {
				v.BitDepth, _ = strconv.Atoi(s.BitsPerRawSample)
			}
			if v.BitDepth == 0 {
				v.BitDepth = InferBitDepth(v.PixelFormat)
			}
			v.IsHDR = DetectHDR(v.ColorPrimaries, v.ColorTransfer, v.BitDepth)
			v.FrameRate = parseFrameRate(s.RFrameRate)
			if v.FrameRate == 0 {
				v.FrameRate = parseFrameRate(s.AvgFrameRate)
			}
			info.Video = v

			if info.DurationMs == 0 && s.Duration != "" {
				if sec, err := strconv.ParseFloat(s.Duration, 64); err == nil && sec > 0 {
					info.DurationMs = int64(sec * 1000)
				}
			}
		case "audio":
			info.Audio = append(info.Audio, AudioStream{
				Index:     s.Index,
				CodecName: strings.ToLower(s.CodecName),
				Channels:  s.Channels,
				Language:  strings.ToLower(s.Tags.Language),
				Title:     s.Tags.Title,
				Disposition: Disposition{
					Forced:          s.Disposition.Forced == 1,
					HearingImpaired: s.Disposition.HearingImpaired == 1,
				},
			})
		case "subtitle":
			info.Subtitles = append(info.Subtitles, SubtitleStream{
				Index:     s.Index,
				CodecName: strings.ToLower(s.CodecName),
				Language:  strings.ToLower(s.Tags.Language),
				Title:     s.Tags.Title,
				Disposition: Disposition{
					Forced:          s.Disposition.Forced == 1,
					HearingImpaired: s.Disposition.HearingImpaired == 1,
				},
			})
		}
	}

	return info, nil
}

// DurationMs returns the container duration in milliseconds, using the
// format-level duration if present and falling back to the first video
// stream's own duration. Returns 0 if neither is positive (spec.md §4.2).
func (p *Prober) DurationMs(ctx context.Context, path string) (int64, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	return info.DurationMs, nil
}

// InferBitDepth scans a pixel format string for 10/12-bit markers, defaulting
// to 8. Matches original_source/converter.py's parse_bitdepth_from_pix.
func InferBitDepth(pixFmt string) int {
	pf := strings.ToLower(pixFmt)
	if strings.Contains(pf, "10le") || strings.Contains(pf, "10be") {
		return 10
	}
	if strings.Contains(pf, "p010") {
		return 10
	}
	if strings.Contains(pf, "12le") || strings.Contains(pf, "12be") {
		return 12
	}
	return 8
}

// DetectHDR applies spec.md §4.2's HDR rule: bt2020-family primaries, or a
// PQ/HLG transfer function.
func DetectHDR(colorPrimaries, colorTransfer string, bitDepth int) bool {
	switch colorPrimaries {
	case "bt2020", "bt2020nc", "bt2020c":
		return true
	}
	switch colorTransfer {
	case "smpte2084", "arib-std-b67":
		return true
	}
	return false
}

func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// IsVideoFile reports whether path's extension suggests a video container.
func IsVideoFile(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range []string{".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".mpeg", ".mpg", ".m2ts", ".ts"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
