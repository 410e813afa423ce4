package procrunner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestStartCapturesStdout(t *testing.T) {
	var lines []string
	h, err := Start(context.Background(), []string{"echo", "hello world"}, func(l string) {
		lines = append(lines, l)
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	code, err := h.Wait(2 * time.Second)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if len(lines) != 1 || strings.TrimSpace(lines[0]) != "hello world" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestStartLaunchError(t *testing.T) {
	_, err := Start(context.Background(), []string{"definitely-not-a-real-binary-xyz"}, nil, nil)
	if err == nil {
		t.Fatal("expected launch error for missing binary")
	}
	if _, ok := err.(*LaunchError); !ok {
		t.Fatalf("expected *LaunchError, got %T", err)
	}
}

func TestStartEmptyArgv(t *testing.T) {
	_, err := Start(context.Background(), nil, nil, nil)
	if err == nil {
		t.Fatal("expected error for empty argv")
	}
}

func TestTerminateAllOnLongRunningProcess(t *testing.T) {
	h, err := Start(context.Background(), []string{"sleep", "30"}, nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if Count() == 0 {
		t.Fatal("expected registry to contain the started process")
	}

	done := make(chan struct{})
	go func() {
		TerminateAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(6 * time.Second):
		t.Fatal("TerminateAll did not return within its grace window")
	}

	code, err := h.Wait(time.Second)
	if err != nil {
		t.Fatalf("Wait after TerminateAll: %v", err)
	}
	if code == 0 {
		t.Fatal("expected non-zero exit code for a terminated sleep")
	}
}

func TestWaitTimeout(t *testing.T) {
	h, err := Start(context.Background(), []string{"sleep", "2"}, nil, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Kill()

	_, err = h.Wait(50 * time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
