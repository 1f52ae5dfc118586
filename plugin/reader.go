// Package plugin runs an out-of-process command as a line-oriented plugin:
// stdin is attached to /dev/null, stderr is inherited so plugin
// diagnostics land on the parent's own stderr untouched, and stdout is
// read through a dedicated non-blocking pipe that the Reader exclusively
// owns.
package plugin

import (
	"errors"
	"os"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"
)

// ReadStat classifies the outcome of one Receive call.
type ReadStat int

const (
	// Okay means bytes were read; more may be available.
	Okay ReadStat = iota
	// Eof means the plugin's stdout was closed (read returned 0).
	Eof
	// Blocked means no data was currently available (EAGAIN).
	Blocked
	// BufferFull means the 512-byte buffer has no room left and must be
	// drained before another Receive can make progress.
	BufferFull
)

const bufSize = 512

// Reader owns one plugin child process and the non-blocking pipe its
// stdout is read through.
type Reader struct {
	cmd    *exec.Cmd
	readFd int

	buf  [bufSize]byte
	head int

	// discardOut is set once a line has overflowed the 512-byte buffer.
	// While set, Receive discards bytes rather than buffering them until
	// it finds the next delimiter, resynchronizing on the start of the
	// next real line instead of framing the overlong line's tail as a
	// bogus new one.
	discardOut bool
	// overflowed latches across the BufferFull->Drain handoff so Drain
	// can report that the line it is about to deliver was forcibly
	// terminated rather than naturally delimited.
	overflowed bool

	mu      sync.Mutex
	exited  bool
	exitErr error
}

// Spawn starts name with args: stdin is /dev/null, stderr is inherited,
// and stdout is redirected to a non-blocking pipe owned by the returned
// Reader. A waiter goroutine reaps the child and records its exit status
// so ExitStatus never blocks.
func Spawn(name string, args []string) (*Reader, error) {
	rfd, wfd, err := unix.Pipe2(unix.O_NONBLOCK | unix.O_CLOEXEC)
	if err != nil {
		return nil, err
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		return nil, err
	}
	defer devNull.Close()

	wf := os.NewFile(uintptr(wfd), "plugin-stdout")

	cmd := exec.Command(name, args...)
	cmd.Stdin = devNull
	cmd.Stdout = wf
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		wf.Close()
		unix.Close(rfd)
		return nil, err
	}
	// The child has its own copy of the write end from fork; drop ours so
	// the pipe's read side sees EOF once the child's last copy closes.
	wf.Close()

	p := &Reader{cmd: cmd, readFd: rfd}
	go p.wait()

	return p, nil
}

func (p *Reader) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.exitErr = err
	p.mu.Unlock()
}

// Fd returns the read end of the plugin's stdout pipe, for registration
// with a readiness poller.
func (p *Reader) Fd() int { return p.readFd }

// ExitStatus reports whether the plugin process has exited and, if so,
// the error *exec.Cmd.Wait returned (nil on a clean exit 0).
func (p *Reader) ExitStatus() (exited bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, p.exitErr
}

// Receive performs one non-blocking read into the plugin's buffer. If the
// buffer is already full with no delimiter anywhere in it, this is a line
// overflowing 512 bytes: the final byte is overwritten with a forced '\n'
// so the caller's Drain still delivers a (mangled) line instead of wedging
// forever, and discardOut is set so the genuinely unread remainder of that
// same line is discarded rather than framed as a new line once it arrives.
func (p *Reader) Receive() (ReadStat, error) {
	if p.head == len(p.buf) {
		if !containsDelim(p.buf[:p.head]) {
			p.buf[len(p.buf)-1] = '\n'
			p.discardOut = true
			p.overflowed = true
		}
		return BufferFull, nil
	}

	n, err := unix.Read(p.readFd, p.buf[p.head:])
	switch {
	case err != nil && (errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)):
		return Blocked, nil
	case n == 0:
		return Eof, nil
	case err != nil:
		return 0, err
	}

	if p.discardOut {
		chunk := p.buf[p.head : p.head+n]
		idx := indexDelim(chunk)
		if idx < 0 {
			// Still inside the overlong line; nothing to keep.
			return Okay, nil
		}
		tail := chunk[idx+1:]
		p.head = copy(p.buf[:], tail)
		p.discardOut = false
		return Okay, nil
	}

	p.head += n
	return Okay, nil
}

func containsDelim(b []byte) bool {
	for _, c := range b {
		if isDelim(c) {
			return true
		}
	}
	return false
}

func indexDelim(b []byte) int {
	for i, c := range b {
		if isDelim(c) {
			return i
		}
	}
	return -1
}

func isDelim(b byte) bool { return b == '\r' || b == '\n' }

// Drain tokenizes the buffered bytes into complete lines and compacts any
// undelimited remainder to the front of the buffer, the same discipline
// the core line iterator applies to socket reads. overflowed reports that
// the line about to be delivered was forcibly terminated by Receive's
// overflow recovery rather than naturally delimited by the plugin.
func (p *Reader) Drain() (lines [][]byte, overflowed bool) {
	overflowed = p.overflowed
	p.overflowed = false

	buf := p.buf[:p.head]

	partialStart := -1
	pos := 0
	for pos < len(buf) {
		for pos < len(buf) && isDelim(buf[pos]) {
			pos++
		}
		if pos >= len(buf) {
			break
		}
		lineStart := pos
		end := -1
		for i := pos; i < len(buf); i++ {
			if isDelim(buf[i]) {
				end = i
				break
			}
		}
		if end < 0 {
			partialStart = lineStart
			break
		}
		line := make([]byte, end-lineStart)
		copy(line, buf[lineStart:end])
		lines = append(lines, line)
		pos = end + 1
	}

	if partialStart < 0 {
		p.head = 0
	} else {
		p.head = copy(p.buf[:], buf[partialStart:])
	}

	return lines, overflowed
}

// Close closes the reader's end of the plugin's stdout pipe. It does not
// signal or wait for the child process.
func (p *Reader) Close() error {
	return unix.Close(p.readFd)
}
