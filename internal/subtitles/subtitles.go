// Package subtitles filters probed subtitle streams down to codecs that can
// be safely muxed into the chosen output container.
package subtitles

import "strings"

// Stream is the minimal subtitle stream shape the filter needs.
type Stream struct {
	Index     int
	CodecName string
}

// mkvCompatibleCodecs lists subtitle codecs that can be muxed to MKV.
// Based on FFmpeg's matroska.c ff_mkv_codec_tags mapping.
var mkvCompatibleCodecs = map[string]bool{
	"subrip":             true, // S_TEXT/UTF8
	"srt":                true, // alias for subrip
	"ass":                true, // S_TEXT/ASS
	"ssa":                true, // S_TEXT/SSA
	"text":               true, // S_TEXT/UTF8
	"dvd_subtitle":       true, // S_VOBSUB
	"dvb_subtitle":       true, // S_DVBSUB
	"hdmv_pgs_subtitle":  true, // S_HDMV/PGS (Blu-ray)
	"hdmv_text_subtitle": true, // S_HDMV/TEXTST
	"arib_caption":       true, // S_ARIBSUB
	"webvtt":             true, // D_WEBVTT/*
}

// mp4CompatibleCodecs lists subtitle codecs ffmpeg can convert to mov_text.
var mp4CompatibleCodecs = map[string]bool{
	"subrip": true,
	"srt":    true,
	"text":   true,
	"ass":    true,
	"ssa":    true,
}

// IsCompatible reports whether codecName can be carried (copy or converted
// to mov_text) in the given container ("mkv" or "mp4").
func IsCompatible(codecName, container string) bool {
	name := strings.ToLower(strings.TrimSpace(codecName))
	if container == "mp4" {
		return mp4CompatibleCodecs[name]
	}
	return mkvCompatibleCodecs[name]
}

// FilterCompatible partitions subtitle streams into indices safe to map for
// the target container and the unique codec names that had to be dropped
// (de-duplicated, for a single warning line per codec rather than per track).
//
// nil input yields nil output (no subtitle streams at all — the caller maps
// nothing). A non-nil input always yields a non-nil, possibly empty, slice of
// indices: that distinguishes "map all surviving indices" from "map none".
func FilterCompatible(streams []Stream, container string) (compatibleIndices []int, droppedCodecs []string) {
	if streams == nil {
		return nil, nil
	}

	compatibleIndices = make([]int, 0, len(streams))
	seen := make(map[string]bool)

	for _, s := range streams {
		if IsCompatible(s.CodecName, container) {
			compatibleIndices = append(compatibleIndices, s.Index)
			continue
		}
		if !seen[s.CodecName] {
			seen[s.CodecName] = true
			droppedCodecs = append(droppedCodecs, s.CodecName)
		}
	}
	return compatibleIndices, droppedCodecs
}
