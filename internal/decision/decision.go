// Package decision implements the pure mapping from a probed source file to
// what, if anything, needs transcoding. Grounded entirely in
// original_source/converter.py's Decision dataclass, decide_for,
// select_audio_track and select_subtitle_track — no decision ever shells out
// or touches a file, so it is exercised with plain table-driven tests.
package decision

import (
	"strings"

	"github.com/voldardard/mkv2cast/internal/probe"
)

// Options carries the subset of configuration the decision engine consults.
// Named fields instead of the full config struct so this package has no
// import-cycle dependence on internal/config.
type Options struct {
	ForceH264           bool
	AllowHEVC           bool
	ForceAAC            bool
	AddSilenceIfNoAudio bool
	AudioTrack          int // -1 means unset
	AudioLang           string
	SubtitleTrack       int // -1 means unset
	SubtitleLang        string
	NoSubtitles         bool
	PreferForcedSubs    bool
}

// Decision is what Evaluate concludes for one source file.
type Decision struct {
	NeedVideo   bool
	NeedAudio   bool
	AudioIndex  int // -1 if none selected
	AddSilence  bool
	VideoReason string

	VideoCodec   string
	PixelFormat  string
	BitDepth     int
	IsHDR        bool
	Profile      string
	Level        int

	AudioCodec string
	Channels   int
	AudioLang  string

	FormatName string

	SubtitleIndex  int // -1 if none selected
	SubtitleLang   string
	SubtitleForced bool
	SubtitleCodec  string
}

// IsAudioDescription flags a track title as an audio-description /
// visually-impaired narration track, matching converter.py's
// is_audio_description exactly.
func IsAudioDescription(title string) bool {
	t := strings.ToLower(title)
	for _, marker := range []string{
		"audio description",
		"audio-description",
		"audiodescription",
		"visual impaired",
		" v.i",
		" ad",
	} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

// SelectAudioTrack implements converter.py's select_audio_track priority
// chain: explicit index, language-priority list (AD-excluded pass then
// AD-included pass per language), French default, first track.
func SelectAudioTrack(streams []probe.AudioStream, opt Options) (*probe.AudioStream, string) {
	if len(streams) == 0 {
		return nil, ""
	}

	if opt.AudioTrack >= 0 && opt.AudioTrack < len(streams) {
		s := streams[opt.AudioTrack]
		return &s, s.Language
	}

	if opt.AudioLang != "" {
		for _, lang := range splitCSVLower(opt.AudioLang) {
			for i := range streams {
				s := &streams[i]
				if matchesLang(s.Language, lang) && !IsAudioDescription(s.Title) {
					return s, s.Language
				}
			}
			for i := range streams {
				s := &streams[i]
				if matchesLang(s.Language, lang) {
					return s, s.Language
				}
			}
		}
	}

	frLangs := map[string]bool{"fre": true, "fra": true, "fr": true}
	for i := range streams {
		s := &streams[i]
		if frLangs[s.Language] && !IsAudioDescription(s.Title) {
			return s, s.Language
		}
	}
	for i := range streams {
		s := &streams[i]
		if frLangs[s.Language] {
			return s, s.Language
		}
	}

	return &streams[0], streams[0].Language
}

// SelectSubtitleTrack implements converter.py's select_subtitle_track
// priority chain: disabled check, explicit index, forced-in-audio-language,
// language-priority list (forced pass, non-SDH pass, any pass), otherwise none.
func SelectSubtitleTrack(streams []probe.SubtitleStream, audioLang string, opt Options) (*probe.SubtitleStream, bool) {
	if opt.NoSubtitles || len(streams) == 0 {
		return nil, false
	}

	if opt.SubtitleTrack >= 0 && opt.SubtitleTrack < len(streams) {
		s := streams[opt.SubtitleTrack]
		return &s, s.Disposition.Forced
	}

	if opt.PreferForcedSubs && audioLang != "" {
		audioNorm := normalizeLang(audioLang)
		for i := range streams {
			s := &streams[i]
			if s.Disposition.Forced && (s.Language == audioLang || normalizeLang(s.Language) == audioNorm) {
				return s, true
			}
		}
	}

	if opt.SubtitleLang != "" {
		for _, lang := range splitCSVLower(opt.SubtitleLang) {
			for i := range streams {
				s := &streams[i]
				if matchesLang(s.Language, lang) && s.Disposition.Forced {
					return s, true
				}
			}
			for i := range streams {
				s := &streams[i]
				if matchesLang(s.Language, lang) && !isSDH(s) {
					return s, s.Disposition.Forced
				}
			}
			for i := range streams {
				s := &streams[i]
				if matchesLang(s.Language, lang) {
					return s, s.Disposition.Forced
				}
			}
		}
	}

	return nil, false
}

func isSDH(s *probe.SubtitleStream) bool {
	return s.Disposition.HearingImpaired || strings.Contains(strings.ToLower(s.Title), "sdh")
}

func matchesLang(streamLang, wanted string) bool {
	return streamLang == wanted || strings.HasPrefix(streamLang, wanted)
}

func normalizeLang(lang string) string {
	if len(lang) >= 2 {
		return lang[:2]
	}
	return lang
}

func splitCSVLower(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// h264 level 4.1 encoded the way ffprobe reports it (41, not 4.1).
const h264MaxCopyLevel = 41

var h264IncompatibleProfiles = map[string]bool{
	"high 10":      true,
	"high10":       true,
	"high 4:2:2":   true,
	"high 4:4:4":   true,
}

// Evaluate decides, for one probed source, whether its video and audio
// streams already satisfy the H.264/AAC target and can be copied, or need
// transcoding, plus which audio and subtitle tracks to carry forward.
// Grounded in converter.py's decide_for.
func Evaluate(info *probe.StreamInfo, filename string, opt Options) Decision {
	v := info.Video
	upperName := strings.ToUpper(filename)

	var videoOK bool
	var reason string

	switch {
	case v.CodecName == "av1" || strings.Contains(upperName, "AV1"):
		reason = "AV1 (or filename AV1) => forced transcode"
	case opt.ForceH264:
		reason = "--force-h264"
	case v.CodecName == "h264":
		if v.BitDepth <= 8 &&
			(v.PixelFormat == "yuv420p" || v.PixelFormat == "yuvj420p") &&
			!v.IsHDR &&
			!h264IncompatibleProfiles[v.Profile] &&
			(v.Level == 0 || v.Level <= h264MaxCopyLevel) {
			videoOK = true
			reason = "H264 8-bit SDR"
		} else {
			reason = "H264 constraints not OK"
		}
	case v.CodecName == "hevc" || v.CodecName == "h265":
		if opt.AllowHEVC && v.BitDepth <= 8 && !v.IsHDR {
			videoOK = true
			reason = "HEVC SDR 8-bit (allow-hevc)"
		} else {
			reason = "HEVC => transcode (default)"
		}
	default:
		reason = "video codec " + v.CodecName + " => transcode"
	}

	audioStream, audioLang := SelectAudioTrack(info.Audio, opt)
	audioIndex := -1
	audioCodec := ""
	channels := 0
	if audioStream != nil {
		audioIndex = audioStream.Index
		audioCodec = audioStream.CodecName
		channels = audioStream.Channels
	}

	subStream, subForced := SelectSubtitleTrack(info.Subtitles, audioLang, opt)
	subIndex := -1
	subLang := ""
	subCodec := ""
	if subStream != nil {
		subIndex = subStream.Index
		subLang = subStream.Language
		subCodec = subStream.CodecName
	}

	audioOK := audioCodec == "aac" || audioCodec == "mp3"
	needAudio := false
	switch {
	case audioIndex < 0:
		needAudio = false
	case opt.ForceAAC:
		needAudio = true
	case !audioOK:
		needAudio = true
	}

	addSilence := false
	if audioIndex < 0 && opt.AddSilenceIfNoAudio {
		addSilence = true
		needAudio = true
	}

	return Decision{
		NeedVideo:      !videoOK,
		NeedAudio:      needAudio,
		AudioIndex:     audioIndex,
		AddSilence:     addSilence,
		VideoReason:    reason,
		VideoCodec:     v.CodecName,
		PixelFormat:    v.PixelFormat,
		BitDepth:       v.BitDepth,
		IsHDR:          v.IsHDR,
		Profile:        v.Profile,
		Level:          v.Level,
		AudioCodec:     audioCodec,
		Channels:       channels,
		AudioLang:      audioLang,
		FormatName:     info.FormatName,
		SubtitleIndex:  subIndex,
		SubtitleLang:   subLang,
		SubtitleForced: subForced,
		SubtitleCodec:  subCodec,
	}
}
