package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/voldardard/mkv2cast/internal/hwaccel"
)

func TestDefaultMatchesKnownBaseline(t *testing.T) {
	c := Default()
	if c.Output.Suffix != ".cast" {
		t.Errorf("suffix = %q, want .cast", c.Output.Suffix)
	}
	if c.Output.Container != "mkv" {
		t.Errorf("container = %q, want mkv", c.Output.Container)
	}
	if !c.Scan.Recursive {
		t.Error("expected recursive scan by default")
	}
	if c.Audio.Track != -1 || c.Subtitle.Track != -1 {
		t.Errorf("expected unset track sentinels, got audio=%d subtitle=%d", c.Audio.Track, c.Subtitle.Track)
	}
	if c.Encoding.Backend != "auto" {
		t.Errorf("backend = %q, want auto", c.Encoding.Backend)
	}
}

func TestMergeFileOverridesOnlyPresentKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := []byte(`
[output]
suffix = ".converted"

[encoding]
crf = 18
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := mergeFile(cfg, path); err != nil {
		t.Fatal(err)
	}

	if cfg.Output.Suffix != ".converted" {
		t.Errorf("suffix = %q, want .converted", cfg.Output.Suffix)
	}
	if cfg.Encoding.CRF != 18 {
		t.Errorf("crf = %d, want 18", cfg.Encoding.CRF)
	}
	// Untouched keys keep their defaults.
	if cfg.Output.Container != "mkv" {
		t.Errorf("container = %q, want mkv (unchanged)", cfg.Output.Container)
	}
	if cfg.Encoding.Preset != "slow" {
		t.Errorf("preset = %q, want slow (unchanged)", cfg.Encoding.Preset)
	}
}

func TestMergeFileMissingIsNotAnError(t *testing.T) {
	cfg := Default()
	if err := mergeFile(cfg, "/nonexistent/config.toml"); err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
}

func TestSaveThenMergeRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Encoding.CRF = 22
	cfg.Output.Suffix = ".x"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded := Default()
	if err := mergeFile(loaded, path); err != nil {
		t.Fatal(err)
	}
	if loaded.Encoding.CRF != 22 || loaded.Output.Suffix != ".x" {
		t.Errorf("round trip = %+v", loaded)
	}
}

func TestDefaultPreservesMetadataChaptersAttachments(t *testing.T) {
	c := Default()
	if !c.Output.PreserveMetadata || !c.Output.PreserveChapters || !c.Output.PreserveAttach {
		t.Errorf("expected preserve_* to default true, got %+v", c.Output)
	}
}

func TestLoadFromINIAppliesLegacyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.ini")
	data := []byte(`# mkv2cast configuration file
[output]
suffix = .converted
preserve_metadata = false

[scan]
recursive = false
ignore_patterns = *.sample.mkv, *.trailer.mkv

[encoding]
crf = 18
backend = vaapi

[integrity]
enabled = true
stable_wait = 5
deep_check = true
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Output.Suffix != ".converted" {
		t.Errorf("suffix = %q, want .converted", cfg.Output.Suffix)
	}
	if cfg.Output.PreserveMetadata {
		t.Error("expected preserve_metadata = false from INI")
	}
	if cfg.Scan.Recursive {
		t.Error("expected recursive = false from INI")
	}
	if len(cfg.Scan.IgnorePatterns) != 2 || cfg.Scan.IgnorePatterns[0] != "*.sample.mkv" {
		t.Errorf("ignore_patterns = %v", cfg.Scan.IgnorePatterns)
	}
	if cfg.Encoding.CRF != 18 {
		t.Errorf("crf = %d, want 18", cfg.Encoding.CRF)
	}
	if cfg.Encoding.Backend != "vaapi" {
		t.Errorf("backend = %q, want vaapi", cfg.Encoding.Backend)
	}
	if cfg.Integrity.StableWait != 5 || !cfg.Integrity.DeepCheck {
		t.Errorf("integrity = %+v", cfg.Integrity)
	}
	// Untouched sections keep their defaults.
	if cfg.Encoding.Preset != "slow" {
		t.Errorf("preset = %q, want slow (unchanged)", cfg.Encoding.Preset)
	}
}

func TestMergeDirPrefersTOMLOverINI(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[output]\nsuffix = \".toml-won\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.ini"), []byte("[output]\nsuffix = .ini-lost\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := mergeDir(cfg, dir); err != nil {
		t.Fatal(err)
	}
	if cfg.Output.Suffix != ".toml-won" {
		t.Errorf("suffix = %q, want .toml-won", cfg.Output.Suffix)
	}
}

func TestParseINIValueCoercesTypes(t *testing.T) {
	cases := map[string]any{
		"true":        true,
		"yes":         true,
		"false":       false,
		"no":          false,
		"20":          20,
		"1.5":         1.5,
		"a, b, c":     []string{"a", "b", "c"},
		"plain":       "plain",
	}
	for raw, want := range cases {
		got := parseINIValue(raw)
		if fmtEqual(got, want) {
			continue
		}
		t.Errorf("parseINIValue(%q) = %#v, want %#v", raw, got, want)
	}
}

func fmtEqual(a, b any) bool {
	as, aok := a.([]string)
	bs, bok := b.([]string)
	if aok && bok {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if as[i] != bs[i] {
				return false
			}
		}
		return true
	}
	return a == b
}

func TestResolveBackend(t *testing.T) {
	if got := ResolveBackend(""); got != "" {
		t.Errorf("ResolveBackend(\"\") = %q, want empty", got)
	}
	if got := ResolveBackend("auto"); got != "" {
		t.Errorf("ResolveBackend(auto) = %q, want empty", got)
	}
	if got := ResolveBackend("nvenc"); got != hwaccel.BackendNVENC {
		t.Errorf("ResolveBackend(nvenc) = %q, want %q", got, hwaccel.BackendNVENC)
	}
}

func TestToPipelineConfigProjectsFields(t *testing.T) {
	cfg := Default()
	cfg.Encoding.Backend = "vaapi"
	cfg.Retry.Attempts = 3

	pc := cfg.ToPipelineConfig()
	if pc.ForcedBackend != hwaccel.BackendVAAPI {
		t.Errorf("ForcedBackend = %q, want vaapi", pc.ForcedBackend)
	}
	if pc.RetryAttempts != 3 {
		t.Errorf("RetryAttempts = %d, want 3", pc.RetryAttempts)
	}
	if pc.Suffix != ".cast" {
		t.Errorf("Suffix = %q, want .cast", pc.Suffix)
	}
	if pc.Command.Container != "mkv" {
		t.Errorf("Command.Container = %q, want mkv", pc.Command.Container)
	}
	if pc.Decision.AudioTrack != -1 {
		t.Errorf("Decision.AudioTrack = %d, want -1", pc.Decision.AudioTrack)
	}
}

func TestAppDirsCreatesDirectories(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "")

	dirs, err := AppDirs()
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{dirs.Config, dirs.State, dirs.Logs, dirs.Cache, dirs.Tmp} {
		if info, err := os.Stat(d); err != nil || !info.IsDir() {
			t.Errorf("expected directory at %s", d)
		}
	}
}
