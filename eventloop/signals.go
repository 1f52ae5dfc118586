package eventloop

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"
)

// SignalSource turns OS signal delivery into a readable fd a Poller can
// watch. Go's runtime already owns signal delivery internally, so a
// second signalfd-based mechanism would race with it; instead this uses
// the classic self-pipe trick, with a dedicated goroutine receiving from
// signal.Notify and writing one tagged byte per signal into a
// non-blocking pipe.
type SignalSource struct {
	readFd  int
	writeFd int
	ch      chan os.Signal
}

// NewSignalSource installs signal.Notify for sigs and returns a source
// whose Fd is ready for reading whenever one of them arrives.
func NewSignalSource(sigs ...os.Signal) (*SignalSource, error) {
	r, w, err := unix.Pipe2(unix.O_NONBLOCK | unix.O_CLOEXEC)
	if err != nil {
		return nil, err
	}

	s := &SignalSource{readFd: r, writeFd: w, ch: make(chan os.Signal, 16)}
	signal.Notify(s.ch, sigs...)
	go s.pump()
	return s, nil
}

func (s *SignalSource) pump() {
	for sig := range s.ch {
		if ss, ok := sig.(syscall.Signal); ok {
			unix.Write(s.writeFd, []byte{byte(ss)})
		}
	}
}

// Fd is the read end to register with a Poller.
func (s *SignalSource) Fd() int { return s.readFd }

// Drain reads and discards pending wakeups, returning the distinct set
// of signals observed since the last Drain.
func (s *SignalSource) Drain() []syscall.Signal {
	var buf [64]byte
	seen := map[syscall.Signal]bool{}
	for {
		n, err := unix.Read(s.readFd, buf[:])
		for i := 0; i < n; i++ {
			seen[syscall.Signal(buf[i])] = true
		}
		if err != nil || n == 0 {
			break
		}
	}
	out := make([]syscall.Signal, 0, len(seen))
	for sig := range seen {
		out = append(out, sig)
	}
	return out
}

// Close stops signal delivery and releases the pipe.
func (s *SignalSource) Close() error {
	signal.Stop(s.ch)
	close(s.ch)
	unix.Close(s.writeFd)
	return unix.Close(s.readFd)
}
