// Package commit handles everything between "ffmpeg finished writing a temp
// file" and "the final output exists at its destination": disk-space
// preflight, the unique temp-path scheme, output-quota postflight, and the
// atomic (same-filesystem rename, cross-filesystem copy) finalize step.
// Grounded in link270-shrinkray/internal/ffmpeg/transcode.go's
// BuildTempPath/FinalizeTranscode/copyFile for the path scheme and the
// copy-then-remove finalize pattern, and in
// original_source/converter.py's check_disk_space/enforce_output_quota for
// the guard thresholds.
package commit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// TempPath builds the unique scratch path a worker writes its output to
// before it is committed, so two workers racing on the same stem never
// collide: {basedir}/{stem}{stageTag}{suffix}.tmp.{pid}.{workerID}.{ext}
func TempPath(baseDir, inputPath, stageTag, suffix, ext string, pid, workerID int) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name := fmt.Sprintf("%s%s%s.tmp.%d.%d.%s", stem, stageTag, suffix, pid, workerID, ext)
	return filepath.Join(baseDir, name)
}

// OutputTag derives the descriptive suffix (".h264", ".aac", ".h264.aac", or
// ".remux") used in the final filename, matching converter.py's
// get_output_tag.
func OutputTag(needVideo, needAudio bool) string {
	tag := ""
	if needVideo {
		tag += ".h264"
	}
	if needAudio {
		tag += ".aac"
	}
	if tag == "" {
		tag = ".remux"
	}
	return tag
}

func mbToBytes(mb int64) int64 { return mb * 1024 * 1024 }

// CheckDiskSpace returns a non-empty reason if writing estimatedBytes more
// into outputDir (and, if tmpDir is on a different filesystem, into tmpDir)
// would breach the configured minimum-free thresholds. A zero threshold
// disables that check, matching converter.py's check_disk_space.
func CheckDiskSpace(outputDir, tmpDir string, estimatedBytes int64, minFreeOutputMB, minFreeTmpMB int64) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	if minFreeOutputMB > 0 {
		free, err := freeBytes(outputDir)
		if err == nil && free-estimatedBytes < mbToBytes(minFreeOutputMB) {
			return fmt.Sprintf("insufficient free space in %s (min %d MB)", outputDir, minFreeOutputMB), nil
		}
	}

	if tmpDir != "" && minFreeTmpMB > 0 {
		outInfo, errOut := os.Stat(outputDir)
		tmpInfo, errTmp := os.Stat(tmpDir)
		if errOut == nil && errTmp == nil && !sameDevice(outInfo, tmpInfo) {
			free, err := freeBytes(tmpDir)
			if err == nil && free-estimatedBytes < mbToBytes(minFreeTmpMB) {
				return fmt.Sprintf("insufficient temp space in %s (min %d MB)", tmpDir, minFreeTmpMB), nil
			}
		}
	}

	return "", nil
}

func freeBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}

func sameDevice(a, b os.FileInfo) bool {
	as, aok := a.Sys().(*syscall.Stat_t)
	bs, bok := b.Sys().(*syscall.Stat_t)
	if !aok || !bok {
		return false
	}
	return as.Dev == bs.Dev
}

// EnforceOutputQuota returns a non-empty reason if the file at outputPath
// exceeds the configured absolute cap or input-size ratio cap. A zero
// threshold disables that check, matching converter.py's
// enforce_output_quota.
func EnforceOutputQuota(outputPath string, inputSize int64, maxOutputMB int64, maxOutputRatio float64) (string, error) {
	info, err := os.Stat(outputPath)
	if err != nil {
		return "", nil // nothing written yet, nothing to enforce
	}
	outSize := info.Size()

	if maxOutputMB > 0 && outSize > mbToBytes(maxOutputMB) {
		return fmt.Sprintf("output exceeds max size (%d MB)", maxOutputMB), nil
	}

	if maxOutputRatio > 0 && inputSize > 0 && outSize > int64(float64(inputSize)*maxOutputRatio) {
		return fmt.Sprintf("output exceeds max ratio (%.2fx)", maxOutputRatio), nil
	}

	return "", nil
}

// Commit moves tmpPath to finalPath, preferring a same-filesystem rename and
// falling back to copy-then-remove across filesystems (teacher's copyFile
// pattern), then preserves the original file's modification time on the
// result.
func Commit(tmpPath, finalPath string, originalModTime func() error) error {
	if err := os.Rename(tmpPath, finalPath); err != nil {
		if !isCrossDevice(err) {
			return fmt.Errorf("rename %s to %s: %w", tmpPath, finalPath, err)
		}
		if err := copyFile(tmpPath, finalPath); err != nil {
			return fmt.Errorf("copy %s to %s: %w", tmpPath, finalPath, err)
		}
		if err := os.Remove(tmpPath); err != nil {
			return fmt.Errorf("remove temp file %s: %w", tmpPath, err)
		}
	}
	if originalModTime != nil {
		return originalModTime()
	}
	return nil
}

func isCrossDevice(err error) bool {
	le, ok := err.(*os.LinkError)
	return ok && le.Err == syscall.EXDEV
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// Cleanup removes path if it exists, swallowing a not-exist error. The
// encode worker calls it on its temp path after a failed attempt, an
// interrupt, a quota rejection or a failed commit, so those paths leave no
// scratch files behind.
func Cleanup(path string) {
	if path == "" {
		return
	}
	_ = os.Remove(path)
}
