package minion

import (
	"os"
	"testing"

	"shuttle/internal/wire"
)

func TestBreakpointRoundTrip(t *testing.T) {
	t.Cleanup(func() { os.Remove(breakpointFile) })

	if _, _, ok, err := readBreakpoint(); err != nil || ok {
		t.Fatalf("readBreakpoint() on a fresh directory should report absent, got ok=%v err=%v", ok, err)
	}

	task := wire.TaskInfo{TaskID: 7, AttemptID: 2}
	if err := writeBreakpoint(task); err != nil {
		t.Fatalf("writeBreakpoint() = %v", err)
	}

	taskID, attemptID, ok, err := readBreakpoint()
	if err != nil || !ok {
		t.Fatalf("readBreakpoint() = %d, %d, %v, %v", taskID, attemptID, ok, err)
	}
	if taskID != 7 || attemptID != 2 {
		t.Fatalf("readBreakpoint() = (%d, %d), want (7, 2)", taskID, attemptID)
	}

	data, err := os.ReadFile(breakpointFile)
	if err != nil {
		t.Fatalf("reading breakpoint file directly: %v", err)
	}
	if string(data) != "7 2" {
		t.Fatalf("breakpoint file content = %q, want two whitespace-separated ints %q", string(data), "7 2")
	}

	if err := clearBreakpoint(); err != nil {
		t.Fatalf("clearBreakpoint() = %v", err)
	}
	if _, _, ok, _ := readBreakpoint(); ok {
		t.Fatal("breakpoint should be gone after clearBreakpoint")
	}
	if err := clearBreakpoint(); err != nil {
		t.Fatalf("clearBreakpoint() on an already-absent file should be a no-op, got %v", err)
	}
}
