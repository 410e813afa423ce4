// Package hwaccel selects which hardware encoder backend to target for the
// H.264 output this pipeline always produces. Adapted from
// link270-shrinkray/internal/ffmpeg/hwaccel.go's detect-then-cache shape,
// re-pointed at the backend set and priority order (nvenc, amf, qsv, vaapi,
// cpu) that original_source/converter.py's pick_backend/test_*/have_encoder
// functions use — the teacher targets hevc/av1 on videotoolbox/nvenc/qsv/
// vaapi; this module targets h264 only and adds amf, which the teacher never
// probed for.
package hwaccel

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Backend identifies a candidate H.264 encode path.
type Backend string

const (
	BackendNVENC Backend = "nvenc"
	BackendAMF   Backend = "amf"
	BackendQSV   Backend = "qsv"
	BackendVAAPI Backend = "vaapi"
	BackendCPU   Backend = "cpu"
)

// Priority is the fallback order the selector walks: nvenc, amf, qsv,
// vaapi, cpu (converter.py's pick_backend). The pipeline's retry loop does
// not walk it; its only fallback is a switch to cpu on the final attempt.
var Priority = []Backend{BackendNVENC, BackendAMF, BackendQSV, BackendVAAPI, BackendCPU}

func encoderNameFor(b Backend) string {
	switch b {
	case BackendNVENC:
		return "h264_nvenc"
	case BackendAMF:
		return "h264_amf"
	case BackendQSV:
		return "h264_qsv"
	case BackendVAAPI:
		return "h264_vaapi"
	default:
		return "libx264"
	}
}

// Selector probes and caches which backends actually work on this host.
type Selector struct {
	FFmpegPath  string
	VAAPIDevice string

	mu       sync.Mutex
	tested   map[Backend]bool
	listed   map[string]bool
	listedOK bool
}

// NewSelector builds a Selector bound to an ffmpeg binary and a VAAPI render
// node (used for both the vaapi and qsv-via-vaapi test paths).
func NewSelector(ffmpegPath, vaapiDevice string) *Selector {
	if vaapiDevice == "" {
		vaapiDevice = "/dev/dri/renderD128"
	}
	return &Selector{
		FFmpegPath:  ffmpegPath,
		VAAPIDevice: vaapiDevice,
		tested:      make(map[Backend]bool),
	}
}

// Pick returns the highest-priority backend that actually encodes on this
// host, or forced if forced is non-empty (the explicit --hw override).
func (s *Selector) Pick(ctx context.Context, forced Backend) Backend {
	if forced != "" {
		return forced
	}
	for _, b := range Priority {
		if b == BackendCPU {
			return BackendCPU // always available, never needs testing
		}
		if s.Available(ctx, b) {
			return b
		}
	}
	return BackendCPU
}

// Fallback returns the next backend in priority order after current, for the
// retry loop's "drop to the next tier" behavior. Returns BackendCPU if
// current is already BackendCPU or unrecognized.
func Fallback(current Backend) Backend {
	for i, b := range Priority {
		if b == current {
			if i+1 < len(Priority) {
				return Priority[i+1]
			}
			return BackendCPU
		}
	}
	return BackendCPU
}

// Available reports whether backend's encoder is both listed by ffmpeg and
// passes a short synthetic test encode, caching the result.
func (s *Selector) Available(ctx context.Context, b Backend) bool {
	s.mu.Lock()
	if ok, done := s.tested[b]; done {
		s.mu.Unlock()
		return ok
	}
	s.mu.Unlock()

	ok := s.haveEncoder(ctx, encoderNameFor(b)) && s.testEncode(ctx, b)

	s.mu.Lock()
	s.tested[b] = ok
	s.mu.Unlock()
	return ok
}

// ProbeAll reports Available for every backend in backends, running the test
// encodes concurrently (bounded to two in flight, since each spins up a real
// ffmpeg process) instead of walking the priority list one at a time.
// Grounded in link270-shrinkray/internal/browse/browse.go's semaphore-bounded
// concurrent WalkDir, applied here to bounding concurrent hardware probes
// instead of directory scans.
func (s *Selector) ProbeAll(ctx context.Context, backends []Backend) map[Backend]bool {
	sem := semaphore.NewWeighted(2)
	results := make(map[Backend]bool, len(backends))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, b := range backends {
		b := b
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			results[b] = false
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			ok := s.Available(ctx, b)
			mu.Lock()
			results[b] = ok
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (s *Selector) haveEncoder(ctx context.Context, name string) bool {
	s.mu.Lock()
	if !s.listedOK {
		s.mu.Unlock()
		s.loadEncoderList(ctx)
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	return s.listed[name]
}

func (s *Selector) loadEncoderList(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.FFmpegPath, "-hide_banner", "-encoders").Output()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listed = make(map[string]bool)
	s.listedOK = true
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			s.listed[fields[1]] = true
		}
	}
}

func (s *Selector) testEncode(ctx context.Context, b Backend) bool {
	ctx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()

	switch b {
	case BackendNVENC:
		if !nvidiaPresent(ctx) {
			return false
		}
		return runQuiet(ctx, s.FFmpegPath, []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "lavfi", "-i", "testsrc2=size=128x128:rate=30",
			"-t", "0.2",
			"-c:v", "h264_nvenc", "-preset", "p4", "-cq", "23",
			"-an", "-f", "null", "-",
		})
	case BackendAMF:
		return runQuiet(ctx, s.FFmpegPath, []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "lavfi", "-i", "testsrc2=size=128x128:rate=30",
			"-t", "0.2",
			"-c:v", "h264_amf", "-quality", "balanced", "-rc", "cqp",
			"-qp_i", "23", "-qp_p", "23", "-qp_b", "23",
			"-an", "-f", "null", "-",
		})
	case BackendQSV:
		if _, err := os.Stat(s.VAAPIDevice); err != nil {
			return false
		}
		return runQuiet(ctx, s.FFmpegPath, []string{
			"-hide_banner", "-loglevel", "error",
			"-init_hw_device", "qsv=hw:" + s.VAAPIDevice,
			"-filter_hw_device", "hw",
			"-f", "lavfi", "-i", "testsrc2=size=128x128:rate=30",
			"-t", "0.2", "-vf", "format=nv12",
			"-c:v", "h264_qsv", "-global_quality", "35",
			"-an", "-f", "null", "-",
		})
	case BackendVAAPI:
		if _, err := os.Stat(s.VAAPIDevice); err != nil {
			return false
		}
		return runQuiet(ctx, s.FFmpegPath, []string{
			"-hide_banner", "-loglevel", "error",
			"-vaapi_device", s.VAAPIDevice,
			"-f", "lavfi", "-i", "testsrc2=size=128x128:rate=30",
			"-t", "0.2", "-vf", "format=nv12,hwupload",
			"-c:v", "h264_vaapi", "-qp", "35",
			"-an", "-f", "null", "-",
		})
	default:
		return true
	}
}

func nvidiaPresent(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "nvidia-smi").Run() == nil
}

func runQuiet(ctx context.Context, ffmpegPath string, args []string) bool {
	return exec.CommandContext(ctx, ffmpegPath, args...).Run() == nil
}

// DetectVAAPIDevice returns the first /dev/dri/renderD* node found, or "" if
// none exists.
func DetectVAAPIDevice() string {
	entries, err := os.ReadDir("/dev/dri")
	if err != nil {
		return ""
	}
	var devices []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "renderD") {
			devices = append(devices, filepath.Join("/dev/dri", e.Name()))
		}
	}
	sort.Strings(devices)
	if len(devices) == 0 {
		return ""
	}
	return devices[0]
}
