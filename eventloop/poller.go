// Package eventloop multiplexes one IRC connection, its signal source,
// and any number of plugin pipes on a single epoll instance, the way a
// single-threaded, non-blocking, OS-readiness-driven core is meant to
// run: the loop itself is one goroutine, readiness in and writes out. The
// only other goroutine is SignalSource's pump, which turns signal.Notify's
// channel into bytes on a pipe the loop polls like any other fd.
package eventloop

import "golang.org/x/sys/unix"

// Interest is a bitmask of the readiness directions a registration cares
// about.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) toEpollEvents() uint32 {
	var ev uint32
	if i&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd       int32
	Readable bool
	Writable bool
	Error    bool
	Hangup   bool
}

// Poller wraps a single epoll instance.
type Poller struct {
	epfd int
}

// NewPoller creates a fresh, close-on-exec epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{epfd: fd}, nil
}

// Add registers fd for the given interest.
func (p *Poller) Add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: interest.toEpollEvents(), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Modify changes fd's registered interest, used to toggle write
// readiness on and off as the write queue empties and refills.
func (p *Poller) Modify(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: interest.toEpollEvents(), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters fd.
func (p *Poller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks (timeoutMs < 0 means forever) until at least one
// registered fd is ready, or a signal interrupts the call.
func (p *Poller) Wait(buf []unix.EpollEvent, timeoutMs int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := buf[i]
		out = append(out, Event{
			Fd:       e.Fd,
			Readable: e.Events&unix.EPOLLIN != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Error:    e.Events&unix.EPOLLERR != 0,
			Hangup:   e.Events&unix.EPOLLHUP != 0,
		})
	}
	return out, nil
}

// Close closes the underlying epoll fd.
func (p *Poller) Close() error {
	return unix.Close(p.epfd)
}
