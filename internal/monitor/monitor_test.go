package monitor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunForegroundCapturesOutputAndExitCode(t *testing.T) {
	m := New()
	res, err := m.RunForeground(context.Background(), "sh", []string{"-c", "echo hello; echo bad 1>&2; exit 0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "hello\n" {
		t.Fatalf("expected stdout %q, got %q", "hello\n", res.Stdout)
	}
	if res.Stderr != "bad\n" {
		t.Fatalf("expected stderr %q, got %q", "bad\n", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
}

func TestRunForegroundNonZeroExit(t *testing.T) {
	m := New()
	res, err := m.RunForeground(context.Background(), "sh", []string{"-c", "exit 3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
}

func TestBackgroundSubprocessDrain(t *testing.T) {
	m := New()
	ctx := context.Background()
	err := m.RunBackground(ctx, "sh", []string{"-c", "echo hello; sleep 0.2; echo world"}, 0)
	if err != nil {
		t.Fatalf("unexpected error starting background process: %v", err)
	}

	var first string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.HasNewStdout() {
			first = m.DrainStdout()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if first != "hello\n" {
		t.Fatalf("expected first drain %q, got %q", "hello\n", first)
	}
	if m.IsFinished() {
		t.Fatalf("expected process still running after first drain")
	}

	stdout, _, exitCode, err := m.WaitAndDrain(ctx)
	if err != nil {
		t.Fatalf("unexpected error waiting: %v", err)
	}
	if stdout != "world\n" {
		t.Fatalf("expected second drain %q, got %q", "world\n", stdout)
	}
	if !m.IsFinished() {
		t.Fatalf("expected process finished after wait")
	}
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
}

func TestDrainOnlyReturnsUnreadBytesOnce(t *testing.T) {
	m := New()
	ctx := context.Background()
	if err := m.RunBackground(ctx, "sh", []string{"-c", "echo once"}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !m.IsFinished() {
		time.Sleep(10 * time.Millisecond)
	}

	first := m.DrainStdout()
	second := m.DrainStdout()
	if first != "once\n" {
		t.Fatalf("expected %q, got %q", "once\n", first)
	}
	if second != "" {
		t.Fatalf("expected empty second drain, got %q", second)
	}
}

func TestRunBackgroundRejectsConcurrentStart(t *testing.T) {
	m := New()
	ctx := context.Background()
	if err := m.RunBackground(ctx, "sh", []string{"-c", "sleep 0.3"}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.WaitAndDrain(ctx)

	if err := m.RunBackground(ctx, "sh", []string{"-c", "echo again"}, 0); err != ErrAlreadyRunning {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestWriteStdinFeedsRunningProcess(t *testing.T) {
	m := New()
	ctx := context.Background()
	if err := m.RunBackground(ctx, "sh", []string{"-c", "read line; echo \"got:$line\""}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.WriteStdin("ping\n"); err != nil {
		t.Fatalf("unexpected error writing stdin: %v", err)
	}

	stdout, _, _, err := m.WaitAndDrain(ctx)
	if err != nil {
		t.Fatalf("unexpected error waiting: %v", err)
	}
	if !strings.Contains(stdout, "got:ping") {
		t.Fatalf("expected stdout to contain %q, got %q", "got:ping", stdout)
	}
}
