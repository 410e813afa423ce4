// Command mkv2cast batch-converts MKV files into Chromecast-friendly
// H.264/AAC, driving ffmpeg and ffprobe through the two-stage integrity and
// encode pipeline in internal/pipeline. Adapted from
// link270-shrinkray/cmd/shrinkray/main.go's flag parsing, banner, and
// graceful-shutdown shape, restructured from an HTTP server entrypoint into
// a batch CLI entrypoint the way original_source/cli.py's main/parse_args
// drive this tool's Python counterpart.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/voldardard/mkv2cast/internal/config"
	"github.com/voldardard/mkv2cast/internal/history"
	"github.com/voldardard/mkv2cast/internal/hwaccel"
	"github.com/voldardard/mkv2cast/internal/integrity"
	"github.com/voldardard/mkv2cast/internal/logger"
	"github.com/voldardard/mkv2cast/internal/pipeline"
	"github.com/voldardard/mkv2cast/internal/probe"
	"github.com/voldardard/mkv2cast/internal/scan"
	"github.com/voldardard/mkv2cast/internal/sink"
	"github.com/voldardard/mkv2cast/internal/watch"
)

const (
	exitOK          = 0
	exitFailures    = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgFile       = flag.String("config", "", "path to config.toml (default: XDG user config dir)")
		singleFile    = flag.String("file", "", "convert a single .mkv file instead of scanning a directory")
		dir           = flag.String("dir", ".", "directory to scan for .mkv files")
		recursive     = flag.Bool("recursive", true, "scan subdirectories")
		skipWhenOK    = flag.Bool("skip-when-ok", true, "skip files already compatible with the target format")
		dryRun        = flag.Bool("dryrun", false, "scan and decide, but never invoke ffmpeg")
		backendFlag   = flag.String("hw", "", "force a hardware backend: nvenc, amf, qsv, vaapi, cpu (default: auto)")
		crf           = flag.Int("crf", 0, "override CRF (0 keeps the config value)")
		preset        = flag.String("preset", "", "override the encoder preset")
		suffix        = flag.String("suffix", "", "override the output filename suffix")
		encodeWorkers = flag.Int("encode-workers", 0, "concurrent encode workers (0 = auto-detect)")
		integWorkers  = flag.Int("integrity-workers", 0, "concurrent integrity workers (0 = auto-detect)")
		watchMode     = flag.Bool("watch", false, "keep running, converting new files as they appear")
		watchInterval = flag.Duration("watch-interval", 0, "polling fallback interval when watching (0 = config default)")
		jsonOutput    = flag.Bool("json", false, "emit NDJSON progress on stdout instead of log lines")
		logLevel      = flag.String("log-level", "", "debug, info, warn, error (default: config value)")
		showHistory   = flag.Int("history", 0, "print the N most recent conversions and exit")
		historyStats  = flag.Bool("history-stats", false, "print aggregate conversion stats and exit")
		cleanHistory  = flag.Int("clean-history", 0, "delete history entries older than N days and exit")
		showDirs      = flag.Bool("show-dirs", false, "print config/state/cache directories and exit")
		checkReqs     = flag.Bool("check-requirements", false, "check for ffmpeg/ffprobe and hardware encoders and exit")
		cleanTmp      = flag.Bool("clean-tmp", false, "remove leftover temp files from interrupted encodes and exit")
		cleanLogs     = flag.Int("clean-logs", -1, "delete per-job log files older than N days and exit")
	)
	extra := defineExtraFlags()
	flag.Parse()

	cfg, err := loadConfig(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return exitFailures
	}

	if *checkReqs {
		return checkRequirements(cfg)
	}
	applyOverrides(cfg, overrides{
		recursive:     *recursive,
		skipWhenOK:    *skipWhenOK,
		dryRun:        *dryRun,
		backend:       *backendFlag,
		crf:           *crf,
		preset:        *preset,
		suffix:        *suffix,
		encodeWorkers: *encodeWorkers,
		integWorkers:  *integWorkers,
		jsonOutput:    *jsonOutput,
		logLevel:      *logLevel,
	})
	applyExtraOverrides(cfg, extra)

	logger.Init(cfg.LogLevel)

	dirs, err := config.AppDirs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not resolve app directories: %v\n", err)
		return exitFailures
	}

	if *showDirs {
		return printDirs(dirs)
	}
	if *cleanTmp {
		return cleanTmpFiles(dirs)
	}
	if *cleanLogs >= 0 {
		return cleanOldLogs(dirs, *cleanLogs)
	}

	hist, err := history.Open(filepath.Join(dirs.State, "history.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not open history database: %v\n", err)
		return exitFailures
	}
	defer hist.Close()

	switch {
	case *showHistory > 0:
		return printRecentHistory(hist, *showHistory)
	case *historyStats:
		return printHistoryStats(hist)
	case *cleanHistory > 0:
		return cleanOldHistory(hist, *cleanHistory)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("received interrupt, shutting down")
		cancel()
	}()

	orch := buildOrchestrator(cfg, hist, dirs)

	if *watchMode {
		return runWatch(ctx, orch, cfg, *dir, *watchInterval)
	}
	return runBatch(ctx, orch, cfg, *dir, *singleFile)
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath == "" {
		return config.Load()
	}
	return config.LoadFrom(explicitPath)
}

type overrides struct {
	recursive     bool
	skipWhenOK    bool
	dryRun        bool
	backend       string
	crf           int
	preset        string
	suffix        string
	encodeWorkers int
	integWorkers  int
	jsonOutput    bool
	logLevel      string
}

func applyOverrides(cfg *config.Config, o overrides) {
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["recursive"] {
		cfg.Scan.Recursive = o.recursive
	}
	if set["skip-when-ok"] {
		cfg.SkipWhenOK = o.skipWhenOK
	}
	if set["dryrun"] {
		cfg.DryRun = o.dryRun
	}
	if o.backend != "" {
		cfg.Encoding.Backend = o.backend
	}
	if o.crf > 0 {
		cfg.Encoding.CRF = o.crf
	}
	if o.preset != "" {
		cfg.Encoding.Preset = o.preset
	}
	if o.suffix != "" {
		cfg.Output.Suffix = o.suffix
	}
	if o.encodeWorkers > 0 {
		cfg.Workers.Encode = o.encodeWorkers
	}
	if o.integWorkers > 0 {
		cfg.Workers.Integrity = o.integWorkers
	}
	cfg.JSONOutput = cfg.JSONOutput || o.jsonOutput
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
}

func buildOrchestrator(cfg *config.Config, hist *history.DB, dirs config.Dirs) *pipeline.Orchestrator {
	pc := cfg.ToPipelineConfig()
	pc.LogDir = dirs.Logs
	if pc.TempDir == "" {
		pc.TempDir = dirs.Tmp
	}
	resolveWorkerCounts(&pc, cfg.Workers.Pipeline)

	hub := sink.NewHub()
	if cfg.JSONOutput {
		hub.Register(sink.NewJSONSink(os.Stdout))
	} else {
		hub.Register(sink.NewLinearSink())
		hub.Register(sink.NewMultiRowSink(os.Stderr))
	}

	prober := probe.NewProber(pc.FFprobePath)
	checker := integrity.NewChecker(cfg.ToIntegrityOptions())
	selector := hwaccel.NewSelector(pc.FFmpegPath, cfg.Encoding.VAAPIDevice)
	exec := pipeline.NewProcExecutor(0)

	return pipeline.New(pc, prober, checker, selector, hist, hub, exec)
}

// resolveWorkerCounts fills in 0 (auto) worker counts the way
// auto_detect_workers does, simplified to CPU core count since this
// environment has no portable way to read GPU VRAM or total system RAM the
// way the original's /sys and /proc introspection does. pipelineEnabled
// false (--no-pipeline) collapses both stages to a single worker each,
// the degenerate case of the same orchestrator rather than a separate
// sequential code path.
func resolveWorkerCounts(pc *pipeline.Config, pipelineEnabled bool) {
	if !pipelineEnabled {
		pc.EncodeWorkers = 1
		pc.IntegrityWorkers = 1
		return
	}
	cores := runtime.NumCPU()
	if pc.EncodeWorkers <= 0 {
		switch {
		case pc.ForcedBackend != "" && pc.ForcedBackend != hwaccel.BackendCPU:
			pc.EncodeWorkers = 2
		case cores >= 16:
			pc.EncodeWorkers = 2
		default:
			pc.EncodeWorkers = 1
		}
	}
	if pc.IntegrityWorkers <= 0 {
		if cores >= 8 {
			pc.IntegrityWorkers = 2
		} else {
			pc.IntegrityWorkers = 1
		}
	}
}

func runBatch(ctx context.Context, orch *pipeline.Orchestrator, cfg *config.Config, dir, singleFile string) int {
	inputs, err := collectTargets(cfg, dir, singleFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitFailures
	}
	if len(inputs) == 0 {
		logger.Info("no input files found")
		return exitOK
	}

	summary := orch.Run(ctx, inputs)
	logger.Info("run complete", "ok", summary.OK, "skipped", summary.Skipped, "failed", summary.Failed, "interrupted", summary.Interrupted)

	switch {
	case summary.Interrupted:
		return exitInterrupted
	case summary.Failed > 0:
		return exitFailures
	default:
		return exitOK
	}
}

func runWatch(ctx context.Context, orch *pipeline.Orchestrator, cfg *config.Config, dir string, interval time.Duration) int {
	if interval <= 0 {
		interval = time.Duration(cfg.Watch.IntervalSeconds) * time.Second
	}
	stableWait := time.Duration(cfg.Integrity.StableWait) * time.Second
	w := watch.New(dir, cfg.ToScanOptions(), interval, stableWait)

	handle := func(ctx context.Context, path string) {
		orch.Run(ctx, []string{path})
	}

	if err := w.Run(ctx, handle); err != nil {
		fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		return exitFailures
	}
	return exitOK
}

func collectTargets(cfg *config.Config, dir, singleFile string) ([]string, error) {
	opt := cfg.ToScanOptions()
	if singleFile != "" {
		res, err := scan.Single(singleFile, opt)
		if err != nil {
			return nil, err
		}
		return res.Targets, nil
	}

	res, err := scan.Walk(dir, opt)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	for _, ig := range res.Ignored {
		logger.Debug("ignored file", "file", ig.Path, "reason", ig.Reason)
	}
	return res.Targets, nil
}

func printRecentHistory(hist *history.DB, limit int) int {
	entries, err := hist.GetRecent(limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history error: %v\n", err)
		return exitFailures
	}
	for _, e := range entries {
		fmt.Printf("%-8s %-10s %s -> %s\n", e.Status, e.Backend, e.InputPath, e.OutputPath)
	}
	return exitOK
}

func printHistoryStats(hist *history.DB) int {
	stats, err := hist.GetStats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "history error: %v\n", err)
		return exitFailures
	}
	for status, count := range stats.ByStatus {
		fmt.Printf("%-12s %d\n", status, count)
	}
	fmt.Printf("avg encode time:   %.1fs\n", stats.AvgEncodeTimeS)
	fmt.Printf("total encode time: %.1fs\n", stats.TotalEncodeTimeS)
	fmt.Printf("total input size:  %d bytes\n", stats.TotalInputSize)
	fmt.Printf("total output size: %d bytes\n", stats.TotalOutputSize)
	return exitOK
}

func cleanOldHistory(hist *history.DB, days int) int {
	n, err := hist.CleanOld(days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "history error: %v\n", err)
		return exitFailures
	}
	fmt.Printf("removed %d entries older than %d days\n", n, days)
	return exitOK
}

func printDirs(dirs config.Dirs) int {
	fmt.Println("mkv2cast directories:")
	fmt.Printf("  config: %s\n", dirs.Config)
	fmt.Printf("  state:  %s\n", dirs.State)
	fmt.Printf("  logs:   %s\n", dirs.Logs)
	fmt.Printf("  cache:  %s\n", dirs.Cache)
	fmt.Printf("  tmp:    %s\n", dirs.Tmp)
	return exitOK
}

// cleanTmpFiles removes leftover partial-encode temp files, matching
// get_tmp_path's "*.tmp.<pid>.<worker>.*" naming.
func cleanTmpFiles(dirs config.Dirs) int {
	entries, err := os.ReadDir(dirs.Tmp)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("removed 0 temp files")
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "clean-tmp error: %v\n", err)
		return exitFailures
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), ".tmp.") {
			continue
		}
		if err := os.Remove(filepath.Join(dirs.Tmp, e.Name())); err == nil {
			removed++
		}
	}
	fmt.Printf("removed %d temp files\n", removed)
	return exitOK
}

// cleanOldLogs deletes per-job log files (internal/joblog) older than days.
func cleanOldLogs(dirs config.Dirs, days int) int {
	cutoff := time.Now().AddDate(0, 0, -days)
	entries, err := os.ReadDir(dirs.Logs)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("removed 0 log files")
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "clean-logs error: %v\n", err)
		return exitFailures
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".log" {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dirs.Logs, e.Name())); err == nil {
			removed++
		}
	}
	fmt.Printf("removed %d log files older than %d days\n", removed, days)
	return exitOK
}

// checkRequirements reports whether ffmpeg/ffprobe are reachable and which
// hardware encoders are usable, mirroring original_source/cli.py's
// check_requirements without its Python-runtime or optional-package checks,
// which have no Go equivalent.
func checkRequirements(cfg *config.Config) int {
	fmt.Println("mkv2cast requirements check")
	fmt.Println(strings.Repeat("=", 40))

	ok := true
	ok = checkBinary(cfg.FFmpegPath, "ffmpeg") && ok
	ok = checkBinary(cfg.FFprobePath, "ffprobe") && ok

	fmt.Println()
	fmt.Println("hardware acceleration:")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	selector := hwaccel.NewSelector(cfg.FFmpegPath, cfg.Encoding.VAAPIDevice)
	var gpuBackends []hwaccel.Backend
	for _, b := range hwaccel.Priority {
		if b != hwaccel.BackendCPU {
			gpuBackends = append(gpuBackends, b)
		}
	}
	results := selector.ProbeAll(ctx, gpuBackends)
	for _, b := range gpuBackends {
		mark := "-"
		if results[b] {
			mark = "+"
		}
		fmt.Printf("  [%s] %s\n", mark, b)
	}

	fmt.Println()
	if ok {
		fmt.Println("all requirements satisfied")
		return exitOK
	}
	fmt.Println("some requirements missing")
	return exitFailures
}

func checkBinary(path, label string) bool {
	if path == "" {
		path = label
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		fmt.Printf("  [-] %s: NOT FOUND\n", label)
		return false
	}
	fmt.Printf("  [+] %s: %s\n", label, resolved)
	return true
}
