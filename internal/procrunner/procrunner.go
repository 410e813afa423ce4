// Package procrunner launches ffmpeg/ffprobe child processes and tracks
// every live one in a process-wide registry so a single cancellation signal
// can reach all of them. Grounded in original_source/pipeline.py's
// register_process/unregister_process/terminate_all_processes trio, ported
// to os/exec and a process-group kill instead of Python's subprocess.Popen.
package procrunner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/voldardard/mkv2cast/internal/logger"
)

// Handle is a live or finished child process tracked by the registry.
type Handle struct {
	cmd  *exec.Cmd
	mu   sync.Mutex
	done bool

	waitDone chan struct{} // closed once cmd.Wait has returned
	waitErr  error         // cmd.Wait's result, valid after waitDone closes
}

var (
	registryMu sync.Mutex
	registry   = make(map[*Handle]struct{})
)

func register(h *Handle) {
	registryMu.Lock()
	registry[h] = struct{}{}
	registryMu.Unlock()
}

func unregister(h *Handle) {
	registryMu.Lock()
	delete(registry, h)
	registryMu.Unlock()
}

// LaunchError is returned when the child process could not even be started.
type LaunchError struct {
	Argv []string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch failed for %v: %v", e.Argv, e.Err)
}
func (e *LaunchError) Unwrap() error { return e.Err }

// LineSink receives one line of output at a time, stripped of its trailing
// newline. It must not block for long — it runs on the reader goroutine.
type LineSink func(line string)

// Start launches argv as a child process in its own process group (POSIX),
// streaming stdout and stderr line-by-line to the given sinks. Either sink
// may be nil to discard that stream. Start is non-blocking: it registers the
// handle and returns once the process has begun executing.
func Start(ctx context.Context, argv []string, stdoutSink, stderrSink LineSink) (*Handle, error) {
	if len(argv) == 0 {
		return nil, &LaunchError{Argv: argv, Err: fmt.Errorf("empty argument vector")}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.SysProcAttr = processGroupAttr()

	var stdout, stderr io.ReadCloser
	var err error
	if stdoutSink != nil {
		stdout, err = cmd.StdoutPipe()
		if err != nil {
			return nil, &LaunchError{Argv: argv, Err: err}
		}
	}
	if stderrSink != nil {
		stderr, err = cmd.StderrPipe()
		if err != nil {
			return nil, &LaunchError{Argv: argv, Err: err}
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Argv: argv, Err: err}
	}

	h := &Handle{cmd: cmd, waitDone: make(chan struct{})}
	register(h)

	var wg sync.WaitGroup
	pump := func(r io.ReadCloser, sink LineSink) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			sink(scanner.Text())
		}
		// A broken pipe or closed reader surfaces here as end-of-stream,
		// never as an error the caller needs to handle.
	}
	if stdout != nil {
		wg.Add(1)
		go pump(stdout, stdoutSink)
	}
	if stderr != nil {
		wg.Add(1)
		go pump(stderr, stderrSink)
	}

	// Reap the process only after both pumps hit end-of-stream: cmd.Wait
	// closes the pipes, so calling it earlier would drop unread output.
	go func() {
		wg.Wait()
		h.waitErr = cmd.Wait()
		h.markDone()
		close(h.waitDone)
	}()

	return h, nil
}

// Wait blocks until the process exits or deadline elapses, whichever is
// first, returning the exit code or ErrTimeout.
var ErrTimeout = fmt.Errorf("process wait timed out")

func (h *Handle) Wait(deadline time.Duration) (int, error) {
	select {
	case <-h.waitDone:
		unregister(h)
		err := h.waitErr
		if err == nil {
			return 0, nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	case <-time.After(deadline):
		return 0, ErrTimeout
	}
}

func (h *Handle) markDone() {
	h.mu.Lock()
	h.done = true
	h.mu.Unlock()
}

func (h *Handle) isDone() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

// Terminate sends a graceful stop to the process group. Safe to call
// repeatedly and safe to call after the process has already exited — a
// terminate race against natural exit is not an error.
func (h *Handle) Terminate() {
	if h.isDone() || h.cmd.Process == nil {
		return
	}
	_ = signalGroup(h.cmd.Process.Pid, syscall.SIGTERM)
}

// Kill forcibly ends the process group.
func (h *Handle) Kill() {
	if h.isDone() || h.cmd.Process == nil {
		return
	}
	_ = signalGroup(h.cmd.Process.Pid, syscall.SIGKILL)
}

// TerminateAll iterates every registered handle, terminates it, waits up to
// 500ms, then kills any survivor, then joins each for up to 5s. This is the
// only function the signal handler is meant to call directly (spec §4.1,
// §5 "Cancellation semantics").
func TerminateAll() {
	registryMu.Lock()
	handles := make([]*Handle, 0, len(registry))
	for h := range registry {
		handles = append(handles, h)
	}
	registryMu.Unlock()

	for _, h := range handles {
		h.Terminate()
	}

	time.Sleep(500 * time.Millisecond)

	for _, h := range handles {
		if !h.isDone() {
			h.Kill()
		}
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if _, err := h.Wait(5 * time.Second); err != nil {
				logger.Warn("process did not exit within grace window", "error", err)
			}
		}(h)
	}
	wg.Wait()
}

// Count reports how many processes are currently registered; used by tests
// and diagnostics only.
func Count() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(registry)
}
