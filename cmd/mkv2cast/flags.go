// Flag registration for the hardware-quality, codec-policy,
// audio/subtitle-selection, integrity, and pipeline-toggle controls that
// sit alongside main.go's primary scan/backend/worker flags. Kept in its
// own file the way backmassage-Muxmaster/internal/config/flags.go separates
// flag registration from the rest of config: a single define func registers
// everything on the default flag.CommandLine, and an apply func copies the
// parsed values onto cfg afterward so an unset flag's zero value never
// clobbers whatever Default()/the config file already set.
package main

import (
	"flag"
	"strings"

	"github.com/voldardard/mkv2cast/internal/config"
)

// stringListFlag collects every occurrence of a repeatable flag (e.g.
// -I/--ignore-pattern passed more than once) into a slice.
type stringListFlag struct{ values *[]string }

func (s stringListFlag) String() string {
	if s.values == nil {
		return ""
	}
	return strings.Join(*s.values, ",")
}

func (s stringListFlag) Set(v string) error {
	*s.values = append(*s.values, v)
	return nil
}

// extraFlags holds every flag this file registers. applyExtraOverrides
// reads it back onto a *config.Config after flag.Parse runs.
type extraFlags struct {
	ignorePatterns  []string
	includePatterns []string
	ignorePaths     []string
	includePaths    []string

	vaapiDevice string
	vaapiQP     int
	qsvQuality  int
	nvencCQ     int
	abr         string

	forceH264    bool
	allowHEVC    bool
	forceAAC     bool
	keepSurround bool
	noSilence    bool

	audioLang        string
	audioTrack       int
	subtitleLang     string
	subtitleTrack    int
	preferForcedSubs bool
	noForcedSubs     bool
	noSubtitles      bool

	integrityCheck   bool
	noIntegrityCheck bool
	stableWait       int
	deepCheck        bool

	pipeline   bool
	noPipeline bool
}

// defineExtraFlags registers this file's flags and returns the values for
// applyExtraOverrides to read back once flag.Parse has run.
func defineExtraFlags() *extraFlags {
	e := &extraFlags{
		audioTrack:    -1,
		subtitleTrack: -1,
	}

	flag.Var(stringListFlag{&e.ignorePatterns}, "ignore-pattern", "glob pattern to ignore (repeatable)")
	flag.Var(stringListFlag{&e.ignorePatterns}, "I", "same as -ignore-pattern")
	flag.Var(stringListFlag{&e.includePatterns}, "include-pattern", "glob pattern to include (repeatable)")
	flag.Var(stringListFlag{&e.includePatterns}, "i", "same as -include-pattern")
	flag.Var(stringListFlag{&e.ignorePaths}, "ignore-path", "directory name or path fragment to ignore (repeatable)")
	flag.Var(stringListFlag{&e.includePaths}, "include-path", "directory name or path fragment to include (repeatable)")

	flag.StringVar(&e.vaapiDevice, "vaapi-device", "", "override the VAAPI render node device")
	flag.IntVar(&e.vaapiQP, "vaapi-qp", 0, "override VAAPI quality (QP, 0 keeps config value)")
	flag.IntVar(&e.qsvQuality, "qsv-quality", 0, "override QSV global_quality (0 keeps config value)")
	flag.IntVar(&e.nvencCQ, "nvenc-cq", 0, "override NVENC constant quality (0 keeps config value)")
	flag.StringVar(&e.abr, "abr", "", "override the AAC audio bitrate (e.g. 192k)")

	flag.BoolVar(&e.forceH264, "force-h264", false, "always transcode video, even if already H.264")
	flag.BoolVar(&e.allowHEVC, "allow-hevc", false, "allow copying 8-bit SDR HEVC instead of transcoding")
	flag.BoolVar(&e.forceAAC, "force-aac", false, "always transcode audio, even if already AAC")
	flag.BoolVar(&e.keepSurround, "keep-surround", false, "keep surround layouts instead of downmixing to stereo")
	flag.BoolVar(&e.noSilence, "no-silence", false, "never synthesize a silent track for video-only sources")

	flag.StringVar(&e.audioLang, "audio-lang", "", "comma-separated preferred audio languages")
	flag.IntVar(&e.audioTrack, "audio-track", -1, "explicit audio stream index (-1 = auto-select)")
	flag.StringVar(&e.subtitleLang, "subtitle-lang", "", "comma-separated preferred subtitle languages")
	flag.IntVar(&e.subtitleTrack, "subtitle-track", -1, "explicit subtitle stream index (-1 = auto-select)")
	flag.BoolVar(&e.preferForcedSubs, "prefer-forced-subs", false, "prefer a forced subtitle track matching the audio language")
	flag.BoolVar(&e.noForcedSubs, "no-forced-subs", false, "disable forced-subtitle preference")
	flag.BoolVar(&e.noSubtitles, "no-subtitles", false, "never carry any subtitle track into the output")

	flag.BoolVar(&e.integrityCheck, "integrity-check", false, "enable the pre-encode integrity check")
	flag.BoolVar(&e.noIntegrityCheck, "no-integrity-check", false, "disable the pre-encode integrity check")
	flag.IntVar(&e.stableWait, "stable-wait", 0, "seconds a growing file must be unchanged before it's stable (0 keeps config value)")
	flag.BoolVar(&e.deepCheck, "deep-check", false, "after probing, fully decode the video stream to catch corruption")

	flag.BoolVar(&e.pipeline, "pipeline", false, "run the two-stage integrity/encode pipeline (default: on)")
	flag.BoolVar(&e.noPipeline, "no-pipeline", false, "collapse to a single worker per stage instead of auto-detected concurrency")

	return e
}

// applyExtraOverrides copies every flag defineExtraFlags registered onto
// cfg, touching only the fields an explicit flag actually set — the same
// rule applyOverrides follows for the primary flag set.
func applyExtraOverrides(cfg *config.Config, e *extraFlags) {
	if len(e.ignorePatterns) > 0 {
		cfg.Scan.IgnorePatterns = append(cfg.Scan.IgnorePatterns, e.ignorePatterns...)
	}
	if len(e.includePatterns) > 0 {
		cfg.Scan.IncludePatterns = append(cfg.Scan.IncludePatterns, e.includePatterns...)
	}
	if len(e.ignorePaths) > 0 {
		cfg.Scan.IgnorePaths = append(cfg.Scan.IgnorePaths, e.ignorePaths...)
	}
	if len(e.includePaths) > 0 {
		cfg.Scan.IncludePaths = append(cfg.Scan.IncludePaths, e.includePaths...)
	}

	if e.vaapiDevice != "" {
		cfg.Encoding.VAAPIDevice = e.vaapiDevice
	}
	if e.vaapiQP > 0 {
		cfg.Encoding.VAAPIQP = e.vaapiQP
	}
	if e.qsvQuality > 0 {
		cfg.Encoding.QSVQuality = e.qsvQuality
	}
	if e.nvencCQ > 0 {
		cfg.Encoding.NVENCCQ = e.nvencCQ
	}
	if e.abr != "" {
		cfg.Encoding.ABR = e.abr
	}

	if e.forceH264 {
		cfg.Encoding.ForceH264 = true
	}
	if e.allowHEVC {
		cfg.Encoding.AllowHEVC = true
	}
	if e.forceAAC {
		cfg.Encoding.ForceAAC = true
	}
	if e.keepSurround {
		cfg.Encoding.KeepSurround = true
	}
	if e.noSilence {
		cfg.Encoding.AddSilenceIfNoAudio = false
	}

	if e.audioLang != "" {
		cfg.Audio.Lang = e.audioLang
	}
	if e.audioTrack >= 0 {
		cfg.Audio.Track = e.audioTrack
	}
	if e.subtitleLang != "" {
		cfg.Subtitle.Lang = e.subtitleLang
	}
	if e.subtitleTrack >= 0 {
		cfg.Subtitle.Track = e.subtitleTrack
	}
	if e.preferForcedSubs {
		cfg.Subtitle.PreferForcedSubs = true
	}
	if e.noForcedSubs {
		cfg.Subtitle.PreferForcedSubs = false
	}
	if e.noSubtitles {
		cfg.Subtitle.Disabled = true
	}

	if e.integrityCheck {
		cfg.Integrity.Enabled = true
	}
	if e.noIntegrityCheck {
		cfg.Integrity.Enabled = false
	}
	if e.stableWait > 0 {
		cfg.Integrity.StableWait = e.stableWait
	}
	if e.deepCheck {
		cfg.Integrity.DeepCheck = true
	}

	if e.pipeline {
		cfg.Workers.Pipeline = true
	}
	if e.noPipeline {
		cfg.Workers.Pipeline = false
	}
}
