// Package scan walks a directory tree (or resolves a single file) into the
// list of .mkv inputs a run should process, applying the same include/ignore
// filtering original_source/cli.py's collect_targets/should_process_file
// perform, and skipping anything that looks like this tool's own prior
// output. Adapted from link270-shrinkray/internal/browse/browse.go's
// filepath.WalkDir-based traversal, stripped of its HTTP-serving concerns
// (no caching, no singleflight, no background warming — a batch run scans
// once and is done).
package scan

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Options controls which files a Walk or Single call accepts, mirroring
// Config's scan-related fields in original_source/config.py.
type Options struct {
	Recursive       bool
	IncludePatterns []string
	IncludePaths    []string
	IgnorePatterns  []string
	IgnorePaths     []string
	Suffix          string // this run's own output suffix, to recognize its outputs
}

// Ignored records a path collect_targets chose not to queue, and why.
type Ignored struct {
	Path   string
	Reason string
}

// Result is everything Walk or Single found.
type Result struct {
	Targets []string
	Ignored []Ignored
}

// Single resolves a single explicit file path into a Result of at most one
// target, applying the same filters Walk would. Mirrors collect_targets'
// single-file branch.
func Single(path string, opt Options) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Result{}, fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return Result{}, fmt.Errorf("%s is a directory, not a file", abs)
	}
	if !strings.EqualFold(filepath.Ext(abs), ".mkv") {
		return Result{}, fmt.Errorf("only .mkv files are supported")
	}

	name := filepath.Base(abs)
	if strings.HasPrefix(name, ".") || isOwnOutputOrTemp(name, opt.Suffix) {
		return Result{}, nil
	}

	ok, reason := shouldProcess(abs, opt)
	if !ok {
		return Result{Ignored: []Ignored{{Path: abs, Reason: reason}}}, nil
	}
	return Result{Targets: []string{abs}}, nil
}

// Walk scans root for .mkv inputs, recursing into subdirectories when
// opt.Recursive is set, and returns them sorted for deterministic ordering
// across runs. Hidden entries (dotfiles, dot-directories) are always
// skipped, matching collect_targets.
func Walk(root string, opt Options) (Result, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		abs = filepath.Clean(root)
	}

	var res Result

	if !opt.Recursive {
		entries, err := os.ReadDir(abs)
		if err != nil {
			return Result{}, fmt.Errorf("read dir %s: %w", abs, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !strings.EqualFold(filepath.Ext(e.Name()), ".mkv") {
				continue
			}
			consider(filepath.Join(abs, e.Name()), opt, &res)
		}
		sortResult(&res)
		return res, nil
	}

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == abs {
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			ok, _ := shouldProcess(path, opt)
			if !ok {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(name), ".mkv") {
			return nil
		}
		consider(path, opt, &res)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("walk %s: %w", abs, err)
	}

	sortResult(&res)
	return res, nil
}

func consider(path string, opt Options, res *Result) {
	name := filepath.Base(path)
	if isOwnOutputOrTemp(name, opt.Suffix) {
		return
	}
	ok, reason := shouldProcess(path, opt)
	if !ok {
		res.Ignored = append(res.Ignored, Ignored{Path: path, Reason: reason})
		return
	}
	res.Targets = append(res.Targets, path)
}

func sortResult(res *Result) {
	sort.Strings(res.Targets)
	sort.Slice(res.Ignored, func(i, j int) bool { return res.Ignored[i].Path < res.Ignored[j].Path })
}

// isOwnOutputOrTemp reports whether name looks like output this tool already
// produced (or a leftover partial temp file), mirroring
// original_source/cli.py's is_our_output_or_tmp.
func isOwnOutputOrTemp(name string, suffix string) bool {
	if strings.Contains(name, ".tmp.") {
		return true
	}
	if suffix != "" && strings.Contains(name, suffix) {
		return true
	}
	if strings.Contains(name, ".h264.") || strings.Contains(name, ".aac.") || strings.Contains(name, ".remux.") {
		return true
	}
	return false
}

// shouldProcess applies include/ignore filtering, mirroring
// original_source/cli.py's should_process_file.
func shouldProcess(path string, opt Options) (bool, string) {
	if len(opt.IncludePatterns) > 0 || len(opt.IncludePaths) > 0 {
		if !matchesPattern(path, opt.IncludePatterns) && !matchesPath(path, opt.IncludePaths) {
			return false, "no include match"
		}
	}
	if matchesPattern(path, opt.IgnorePatterns) {
		return false, "matches ignore pattern"
	}
	if matchesPath(path, opt.IgnorePaths) {
		return false, "in ignored path"
	}
	return true, ""
}

// matchesPattern reports whether filepath.Base(path) matches any of
// patterns, tried both as a literal glob and, for plain substrings (no glob
// metacharacters), as a "contains" match — mirroring _matches_pattern's
// fnmatch-then-substring fallback.
func matchesPattern(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	name := strings.ToLower(filepath.Base(path))
	for _, pattern := range patterns {
		p := strings.ToLower(pattern)
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if !strings.ContainsAny(p, "*?[") && strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// matchesPath reports whether path contains any of paths as a path
// component, mirroring _matches_path.
func matchesPath(path string, paths []string) bool {
	if len(paths) == 0 {
		return false
	}
	for _, check := range paths {
		c := strings.Trim(check, "/\\")
		if c == "" {
			continue
		}
		if !strings.ContainsAny(c, "/\\") {
			if strings.Contains(path, string(filepath.Separator)+c+string(filepath.Separator)) {
				return true
			}
			if strings.HasSuffix(path, string(filepath.Separator)+c) {
				return true
			}
			continue
		}
		if strings.Contains(path, c) {
			return true
		}
	}
	return false
}
