package eventloop

import (
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestSignalSourceDeliversTaggedSignal(t *testing.T) {
	s, err := NewSignalSource(unix.SIGUSR1)
	if err != nil {
		t.Fatalf("NewSignalSource: %v", err)
	}
	defer s.Close()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sigs := s.Drain()
		for _, sig := range sigs {
			if sig == syscall.SIGUSR1 {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("did not observe SIGUSR1 through the self-pipe")
}

func TestSignalSourceFdIsPollable(t *testing.T) {
	s, err := NewSignalSource(unix.SIGUSR2)
	if err != nil {
		t.Fatalf("NewSignalSource: %v", err)
	}
	defer s.Close()

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()

	if err := p.Add(s.Fd(), Readable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	syscall.Kill(syscall.Getpid(), syscall.SIGUSR2)

	buf := make([]unix.EpollEvent, 4)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		evs, err := p.Wait(buf, 100)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if len(evs) > 0 {
			return
		}
	}
	t.Fatal("signal source fd never became readable")
}
