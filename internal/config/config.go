// Package config loads and merges this tool's on-disk configuration:
// system-wide defaults under /etc/mkv2cast, a per-user override under the
// XDG config directory, and (applied by the caller afterward) CLI flags on
// top of both. Adapted from link270-shrinkray/internal/config/config.go's
// DefaultConfig/Load/Save shape, swapped from its flat YAML file onto
// TOML and a two-layer system/user merge the way
// original_source/config.py's load_config_file does. Every field here
// mirrors a field of original_source/config.py's Config dataclass.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/voldardard/mkv2cast/internal/command"
	"github.com/voldardard/mkv2cast/internal/decision"
	"github.com/voldardard/mkv2cast/internal/hwaccel"
	"github.com/voldardard/mkv2cast/internal/integrity"
	"github.com/voldardard/mkv2cast/internal/pipeline"
	"github.com/voldardard/mkv2cast/internal/scan"
)

// Output holds the [output] TOML table.
type Output struct {
	Suffix    string `toml:"suffix"`
	Container string `toml:"container"`

	PreserveMetadata bool `toml:"preserve_metadata"`
	PreserveChapters bool `toml:"preserve_chapters"`
	PreserveAttach   bool `toml:"preserve_attachments"`
}

// Scan holds the [scan] TOML table.
type Scan struct {
	Recursive       bool     `toml:"recursive"`
	IgnorePatterns  []string `toml:"ignore_patterns"`
	IgnorePaths     []string `toml:"ignore_paths"`
	IncludePatterns []string `toml:"include_patterns"`
	IncludePaths    []string `toml:"include_paths"`
}

// Encoding holds the [encoding] TOML table.
type Encoding struct {
	Backend string `toml:"backend"` // auto, nvenc, amf, qsv, vaapi, cpu
	CRF     int    `toml:"crf"`
	Preset  string `toml:"preset"`
	ABR     string `toml:"abr"`

	VAAPIDevice string `toml:"vaapi_device"`
	VAAPIQP     int    `toml:"vaapi_qp"`
	QSVQuality  int    `toml:"qsv_quality"`
	NVENCCQ     int    `toml:"nvenc_cq"`
	AMFQuality  int    `toml:"amf_quality"`

	ForceH264           bool `toml:"force_h264"`
	AllowHEVC           bool `toml:"allow_hevc"`
	ForceAAC            bool `toml:"force_aac"`
	KeepSurround        bool `toml:"keep_surround"`
	AddSilenceIfNoAudio bool `toml:"add_silence_if_no_audio"`
}

// Audio holds the [audio] TOML table.
type Audio struct {
	Lang  string `toml:"lang"`
	Track int    `toml:"track"` // -1 means unset
}

// Subtitle holds the [subtitle] TOML table.
type Subtitle struct {
	Lang             string `toml:"lang"`
	Track            int    `toml:"track"` // -1 means unset
	PreferForcedSubs bool   `toml:"prefer_forced"`
	Disabled         bool   `toml:"disabled"`
}

// Workers holds the [workers] TOML table. 0 means auto-detect.
type Workers struct {
	Encode    int `toml:"encode"`
	Integrity int `toml:"integrity"`

	// Pipeline toggles the two-stage worker pool. false collapses both
	// stages to a single worker each instead of auto-detected concurrency —
	// a degenerate case of the same orchestrator, not a separate code path.
	Pipeline bool `toml:"pipeline"`
}

// Integrity holds the [integrity] TOML table.
type Integrity struct {
	Enabled    bool `toml:"enabled"`
	StableWait int  `toml:"stable_wait"` // seconds
	DeepCheck  bool `toml:"deep_check"`
}

// Retry holds the [retry] TOML table.
type Retry struct {
	Attempts   int `toml:"attempts"`
	DelayMs    int `toml:"delay_ms"`
	FallbackCPU bool `toml:"fallback_cpu"`
}

// Quota holds the [quota] TOML table guarding disk space and output size.
type Quota struct {
	MinFreeOutputMB int64   `toml:"min_free_output_mb"`
	MinFreeTmpMB    int64   `toml:"min_free_tmp_mb"`
	MaxOutputMB     int64   `toml:"max_output_mb"`
	MaxOutputRatio  float64 `toml:"max_output_ratio"`
}

// Notifications holds the [notifications] TOML table.
type Notifications struct {
	Enabled   bool `toml:"enabled"`
	OnSuccess bool `toml:"on_success"`
	OnFailure bool `toml:"on_failure"`
}

// I18N holds the [i18n] TOML table.
type I18N struct {
	Lang string `toml:"lang"`
}

// Watch holds the [watch] TOML table.
type Watch struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// Config is everything load-able from config.toml, mirroring
// original_source/config.py's Config dataclass field-for-field within
// TOML's table structure.
type Config struct {
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`
	TempDir     string `toml:"temp_dir"` // "" means the XDG cache tmp dir (see buildOrchestrator)

	SkipWhenOK bool `toml:"skip_when_ok"`
	DryRun     bool `toml:"dryrun"`

	LogLevel    string `toml:"log_level"`
	JSONOutput  bool   `toml:"json_progress"`

	Output        Output        `toml:"output"`
	Scan          Scan          `toml:"scan"`
	Encoding      Encoding      `toml:"encoding"`
	Audio         Audio         `toml:"audio"`
	Subtitle      Subtitle      `toml:"subtitle"`
	Workers       Workers       `toml:"workers"`
	Integrity     Integrity     `toml:"integrity"`
	Retry         Retry         `toml:"retry"`
	Quota         Quota         `toml:"quota"`
	Notifications Notifications `toml:"notifications"`
	I18N          I18N          `toml:"i18n"`
	Watch         Watch         `toml:"watch"`
}

// Default returns a Config with the same defaults original_source/config.py's
// Config dataclass assigns its fields.
func Default() *Config {
	return &Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		SkipWhenOK:  true,
		LogLevel:    "info",
		Output: Output{
			Suffix:           ".cast",
			Container:        "mkv",
			PreserveMetadata: true,
			PreserveChapters: true,
			PreserveAttach:   true,
		},
		Scan: Scan{
			Recursive: true,
		},
		Encoding: Encoding{
			Backend:             "auto",
			CRF:                 20,
			Preset:              "slow",
			ABR:                 "192k",
			VAAPIDevice:         "/dev/dri/renderD128",
			VAAPIQP:             23,
			QSVQuality:          23,
			NVENCCQ:             23,
			AMFQuality:          23,
			AddSilenceIfNoAudio: true,
		},
		Audio: Audio{
			Track: -1,
		},
		Subtitle: Subtitle{
			Track:            -1,
			PreferForcedSubs: true,
		},
		Integrity: Integrity{
			Enabled:    true,
			StableWait: 3,
		},
		Workers: Workers{
			Pipeline: true,
		},
		Retry: Retry{
			Attempts: 0,
			DelayMs:  2000,
		},
		Notifications: Notifications{
			Enabled:   true,
			OnSuccess: true,
			OnFailure: true,
		},
		Watch: Watch{
			IntervalSeconds: 5,
		},
	}
}

// Load merges the optional system-wide config at /etc/mkv2cast/config.toml
// with the user config at the XDG config path, user values taking
// precedence, then onto a Default() base. A missing file at either layer
// is not an error, matching load_config_file's optional-system-config
// behavior.
func Load() (*Config, error) {
	cfg := Default()

	if err := mergeDir(cfg, "/etc/mkv2cast"); err != nil {
		return nil, fmt.Errorf("system config: %w", err)
	}

	dirs, err := AppDirs()
	if err != nil {
		return cfg, nil
	}
	if err := mergeDir(cfg, dirs.Config); err != nil {
		return nil, fmt.Errorf("user config: %w", err)
	}
	return cfg, nil
}

// LoadFrom merges Default() with a single explicit config file path,
// bypassing the system/user XDG layering Load performs — for
// --config-style CLI overrides of the config file location. The file's
// extension picks the format: .ini for the legacy fallback format, TOML
// otherwise.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".ini") {
		data, err := parseINI(path)
		if err != nil {
			return nil, err
		}
		if err := applyINI(cfg, data); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile decodes path directly onto cfg if it exists, so only the keys
// present in the file override whatever cfg already held (TOML decode
// leaves unset struct fields untouched).
func mergeFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	_, err := toml.DecodeFile(path, cfg)
	return err
}

// mergeDir looks for config.toml in dir, preferring it the way
// _load_single_config does when a TOML library is available, and falls
// back to config.ini (spec.md §6's legacy format) only when no TOML file
// exists. Neither file existing is not an error.
func mergeDir(cfg *Config, dir string) error {
	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		return mergeFile(cfg, tomlPath)
	}

	iniPath := filepath.Join(dir, "config.ini")
	if _, err := os.Stat(iniPath); err != nil {
		return nil
	}
	data, err := parseINI(iniPath)
	if err != nil {
		return err
	}
	return applyINI(cfg, data)
}

// Save writes cfg as the default user config.toml if one doesn't already
// exist, mirroring save_default_config's "only create if missing" rule so
// a second run never clobbers the user's edits.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(c)
}

// Dirs are this application's XDG Base Directory locations, created on
// first access. Mirrors get_app_dirs.
type Dirs struct {
	Config string
	State  string
	Logs   string
	Cache  string
	Tmp    string
}

// AppDirs resolves and creates every XDG-relative directory mkv2cast uses.
func AppDirs() (Dirs, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Dirs{}, err
	}

	configHome := envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	stateHome := envOr("XDG_STATE_HOME", filepath.Join(home, ".local", "state"))
	cacheHome := envOr("XDG_CACHE_HOME", filepath.Join(home, ".cache"))

	d := Dirs{
		Config: filepath.Join(configHome, "mkv2cast"),
		State:  filepath.Join(stateHome, "mkv2cast"),
		Logs:   filepath.Join(stateHome, "mkv2cast", "logs"),
		Cache:  filepath.Join(cacheHome, "mkv2cast"),
		Tmp:    filepath.Join(cacheHome, "mkv2cast", "tmp"),
	}
	for _, dir := range []string{d.Config, d.State, d.Logs, d.Cache, d.Tmp} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Dirs{}, err
		}
	}
	return d, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ToDecisionOptions projects the relevant fields onto decision.Options.
func (c *Config) ToDecisionOptions() decision.Options {
	return decision.Options{
		ForceH264:           c.Encoding.ForceH264,
		AllowHEVC:           c.Encoding.AllowHEVC,
		ForceAAC:            c.Encoding.ForceAAC,
		AddSilenceIfNoAudio: c.Encoding.AddSilenceIfNoAudio,
		AudioTrack:          c.Audio.Track,
		AudioLang:           c.Audio.Lang,
		SubtitleTrack:       c.Subtitle.Track,
		SubtitleLang:        c.Subtitle.Lang,
		NoSubtitles:         c.Subtitle.Disabled,
		PreferForcedSubs:    c.Subtitle.PreferForcedSubs,
	}
}

// ToCommandOptions projects the relevant fields onto command.Options.
func (c *Config) ToCommandOptions() command.Options {
	return command.Options{
		Container:        c.Output.Container,
		Preset:           c.Encoding.Preset,
		CRF:              c.Encoding.CRF,
		NVENCQuality:     c.Encoding.NVENCCQ,
		QSVQuality:       c.Encoding.QSVQuality,
		VAAPIQuality:     c.Encoding.VAAPIQP,
		AMFQuality:       c.Encoding.AMFQuality,
		VAAPIDevice:      c.Encoding.VAAPIDevice,
		AudioBitrate:     c.Encoding.ABR,
		KeepSurround:     c.Encoding.KeepSurround,
		NoSubtitles:      c.Subtitle.Disabled,
		PreserveMetadata: c.Output.PreserveMetadata,
		PreserveChapters: c.Output.PreserveChapters,
		PreserveAttach:   c.Output.PreserveAttach,
	}
}

// ToIntegrityOptions projects the relevant fields onto integrity.Options.
// FFmpegPath/FFprobePath are copied as configured; Progress is left for the
// caller to fill in, since it is a sink-bound callback this package doesn't
// own.
func (c *Config) ToIntegrityOptions() integrity.Options {
	return integrity.Options{
		FFprobePath: c.FFprobePath,
		FFmpegPath:  c.FFmpegPath,
		Enabled:     c.Integrity.Enabled,
		StableWait:  secondsToDuration(c.Integrity.StableWait),
		DeepCheck:   c.Integrity.DeepCheck,
	}
}

// ToScanOptions projects the relevant fields onto scan.Options.
func (c *Config) ToScanOptions() scan.Options {
	return scan.Options{
		Recursive:       c.Scan.Recursive,
		IncludePatterns: c.Scan.IncludePatterns,
		IncludePaths:    c.Scan.IncludePaths,
		IgnorePatterns:  c.Scan.IgnorePatterns,
		IgnorePaths:     c.Scan.IgnorePaths,
		Suffix:          c.Output.Suffix,
	}
}

// ToPipelineConfig projects the relevant fields onto pipeline.Config.
// EncodeWorkers/IntegrityWorkers are left at 0 (auto-detect) when the
// config says 0, matching original_source/cli.py's auto_detect_workers
// convention; the caller resolves 0 into an actual worker count.
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		FFmpegPath:       c.FFmpegPath,
		FFprobePath:      c.FFprobePath,
		TempDir:          c.TempDir,
		EncodeWorkers:    c.Workers.Encode,
		IntegrityWorkers: c.Workers.Integrity,
		ForcedBackend:    ResolveBackend(c.Encoding.Backend),
		RetryAttempts:    c.Retry.Attempts,
		RetryDelay:       time.Duration(c.Retry.DelayMs) * time.Millisecond,
		RetryFallbackCPU: c.Retry.FallbackCPU,
		SkipWhenOK:       c.SkipWhenOK,
		DryRun:           c.DryRun,
		MinFreeOutputMB:  c.Quota.MinFreeOutputMB,
		MinFreeTmpMB:     c.Quota.MinFreeTmpMB,
		MaxOutputMB:      c.Quota.MaxOutputMB,
		MaxOutputRatio:   c.Quota.MaxOutputRatio,
		Suffix:           c.Output.Suffix,
		Decision:         c.ToDecisionOptions(),
		Command:          c.ToCommandOptions(),
	}
}

// ResolveBackend maps the config file's "auto"/"" sentinel onto hwaccel's
// empty-string "let the selector pick" convention, and any named backend
// onto its hwaccel.Backend constant.
func ResolveBackend(name string) hwaccel.Backend {
	switch name {
	case "", "auto":
		return ""
	default:
		return hwaccel.Backend(name)
	}
}

func secondsToDuration(s int) time.Duration {
	return time.Duration(s) * time.Second
}
