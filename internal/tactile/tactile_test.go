package tactile

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestDirectExecutor_Execute(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	executor := NewDirectExecutor()

	result, err := executor.Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo hello; echo oops >&2"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result)
	}
	if !strings.Contains(result.Stdout, "hello") || !strings.Contains(result.Stderr, "oops") {
		t.Errorf("unexpected output: %q / %q", result.Stdout, result.Stderr)
	}
	if got := result.Output(); got != "hello\n\noops\n" {
		t.Errorf("Output() = %q", got)
	}
}

func TestDirectExecutor_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	result, err := NewDirectExecutor().Execute(context.Background(), Command{
		Binary:    "sh",
		Arguments: []string{"-c", "echo no printer >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("non-zero exit must not be an execution error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", result.ExitCode)
	}
	if result.Err() == nil || !strings.Contains(result.Err().Error(), "no printer") {
		t.Errorf("Err() = %v", result.Err())
	}
}

func TestDirectExecutor_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sleep")
	}
	result, err := NewDirectExecutor().Execute(context.Background(), Command{
		Binary:    "sleep",
		Arguments: []string{"10"},
		Timeout:   200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !result.Killed {
		t.Fatalf("expected the process to be killed, got %+v", result)
	}
	if result.Succeeded() || result.Err() == nil {
		t.Error("a killed process is not a success")
	}
}

func TestDirectExecutor_MissingBinary(t *testing.T) {
	_, err := NewDirectExecutor().Execute(context.Background(), Command{Binary: "definitely-not-a-real-binary-xyz"})
	if err == nil {
		t.Fatal("expected start failure")
	}
	if _, err := NewDirectExecutor().Execute(context.Background(), Command{}); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

func TestLimitedWriter(t *testing.T) {
	var sb strings.Builder
	lw := &limitedWriter{w: &sb, max: 5}
	n, err := lw.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	n, _ = lw.Write([]byte("defgh"))
	if n != 5 {
		t.Errorf("partial write must report full length, got %d", n)
	}
	lw.Write([]byte("ij"))
	if sb.String() != "abcde" || !lw.truncated || lw.discarded != 5 {
		t.Errorf("got %q truncated=%v discarded=%d", sb.String(), lw.truncated, lw.discarded)
	}
}

func TestRecordingExecutor(t *testing.T) {
	rec := &RecordingExecutor{}
	cmd := Command{Binary: "driver", Arguments: []string{"-silent", "a.pdf"}}
	result, err := rec.Execute(context.Background(), cmd)
	if err != nil || !result.Succeeded() {
		t.Fatalf("unexpected %v %v", result, err)
	}
	if got := rec.Commands(); len(got) != 1 || got[0].CommandString() != "driver -silent a.pdf" {
		t.Errorf("recorded %v", got)
	}

	rec.Err = errors.New("spawn failed")
	if _, err := rec.Execute(context.Background(), cmd); err == nil {
		t.Error("expected configured error")
	}
}
