package plugin

import (
	"strings"
	"testing"
	"time"
)

func drainUntilEOF(t *testing.T, r *Reader) ([]string, bool) {
	t.Helper()
	var lines []string
	overflowed := false

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stat, err := r.Receive()
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		switch stat {
		case Okay:
			got, ov := r.Drain()
			overflowed = overflowed || ov
			for _, l := range got {
				lines = append(lines, string(l))
			}
		case BufferFull:
			got, ov := r.Drain()
			overflowed = overflowed || ov
			for _, l := range got {
				lines = append(lines, string(l))
			}
		case Eof:
			got, ov := r.Drain()
			overflowed = overflowed || ov
			for _, l := range got {
				lines = append(lines, string(l))
			}
			return lines, overflowed
		case Blocked:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatal("timed out waiting for plugin EOF")
	return nil, false
}

func TestReaderReceivesCompleteLines(t *testing.T) {
	r, err := Spawn("/bin/sh", []string{"-c", "printf 'one\\ntwo\\nthree\\n'"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer r.Close()

	lines, overflowed := drainUntilEOF(t, r)
	if overflowed {
		t.Fatal("did not expect overflow")
	}
	got := strings.Join(lines, "|")
	if got != "one|two|three" {
		t.Fatalf("lines = %q", got)
	}
}

func TestReaderExitStatusReportsCleanExit(t *testing.T) {
	r, err := Spawn("/bin/sh", []string{"-c", "exit 0"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer r.Close()

	drainUntilEOF(t, r)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if exited, err := r.ExitStatus(); exited {
			if err != nil {
				t.Fatalf("exit error = %v, want nil", err)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for exit status")
}

func TestReaderExitStatusReportsNonzeroExit(t *testing.T) {
	r, err := Spawn("/bin/sh", []string{"-c", "exit 3"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer r.Close()

	drainUntilEOF(t, r)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if exited, err := r.ExitStatus(); exited {
			if err == nil {
				t.Fatal("expected a non-nil exit error")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for exit status")
}

func TestReaderOverflowDiscardsStalledLine(t *testing.T) {
	// Emit 600 bytes with no newline; the 512-byte buffer must saturate
	// and report overflow rather than wedge.
	script := "yes x | tr -d '\\n' | head -c 600"
	r, err := Spawn("/bin/sh", []string{"-c", script})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer r.Close()

	_, overflowed := drainUntilEOF(t, r)
	if !overflowed {
		t.Fatal("expected the oversized line to trigger overflow recovery")
	}
}

func TestReaderResyncsOnNextDelimiterAfterOverflow(t *testing.T) {
	// 600 bytes of undelimited garbage (overflows the 512-byte buffer),
	// then a real newline, then a well-formed line. The garbage bytes
	// that didn't fit in the forced-newline chunk must be discarded, not
	// stitched onto "REAL" or framed as a bogus line of their own.
	script := "yes x | tr -d '\\n' | head -c 600; printf '\\nREAL\\n'"
	r, err := Spawn("/bin/sh", []string{"-c", script})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer r.Close()

	lines, overflowed := drainUntilEOF(t, r)
	if !overflowed {
		t.Fatal("expected the oversized line to trigger overflow recovery")
	}
	if len(lines) == 0 || lines[len(lines)-1] != "REAL" {
		t.Fatalf("lines = %q, want last entry to be the intact %q", lines, "REAL")
	}
	count := 0
	for _, l := range lines {
		if l == "REAL" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one intact %q line, got %d among %q", "REAL", count, lines)
	}
}
