package eventloop

import (
	"io"

	"github.com/inconshreveable/log15"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/hlandau/ircplug/config"
	"github.com/hlandau/ircplug/irc"
	"github.com/hlandau/ircplug/plugin"
)

// ExitReason classifies why Run returned, driving the CLI's exit code.
type ExitReason int

const (
	// ExitClean is a graceful shutdown: peer closed the connection, stdin
	// reached EOF, or a SIGINT/TERM/QUIT arrived.
	ExitClean ExitReason = iota
	// ExitConnectError is a transport-level failure: dial, epoll, or
	// socket write/read error unrelated to protocol content.
	ExitConnectError
	// ExitProtocolError is a fatal *irc.ProtocolError outcome: server
	// ERROR, rejected password, ban, failed CAP negotiation, or SASL
	// numeric. A read buffer that fills without ever completing a line is
	// not reported here; Run panics on it.
	ExitProtocolError
)

// fdConn adapts a raw non-blocking fd to io.Reader/io.Writer so
// irc.Client can treat it like any other transport.
type fdConn struct{ fd int }

func (c fdConn) Read(p []byte) (int, error)  { return unix.Read(c.fd, p) }
func (c fdConn) Write(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

var _ io.ReadWriter = fdConn{}

type pluginSlot struct {
	reader *plugin.Reader
	fd     int
}

// Loop owns the connection's fd, the signal self-pipe, and every spawned
// plugin's pipe, multiplexed on one epoll instance. It is not safe for
// concurrent use; it is meant to run on a single dedicated goroutine for
// its entire lifetime.
type Loop struct {
	poller *Poller
	sock   int
	sigs   *SignalSource
	client *irc.Client
	cfg    *config.Config
	cfgPath string
	logger log15.Logger

	plugins map[int]*pluginSlot

	connected   bool
	sockWriting bool
}

// New dials cfg.ConnectString(), builds the session, and registers the
// socket and signal sources with a fresh epoll instance. The socket is
// still connecting (EINPROGRESS) when New returns; Run confirms
// completion on the first writable notification.
func New(cfg *config.Config, cfgPath string, logger log15.Logger) (*Loop, error) {
	poller, err := NewPoller()
	if err != nil {
		return nil, errors.Wrap(err, "creating epoll instance")
	}

	fd, err := DialNonblocking(cfg.ConnectString())
	if err != nil {
		poller.Close()
		return nil, errors.Wrap(err, "dialing")
	}

	sigs, err := NewSignalSource(unix.SIGINT, unix.SIGTERM, unix.SIGQUIT, unix.SIGUSR1, unix.SIGUSR2)
	if err != nil {
		unix.Close(fd)
		poller.Close()
		return nil, errors.Wrap(err, "installing signal handling")
	}

	client := irc.NewClient(cfg.Nick, cfg.Channels, cfg.NickservPassword, logger)

	l := &Loop{
		poller:      poller,
		sock:        fd,
		sigs:        sigs,
		client:      client,
		cfg:         cfg,
		cfgPath:     cfgPath,
		logger:      logger,
		plugins:     map[int]*pluginSlot{},
		sockWriting: true,
	}

	if err := poller.Add(fd, Readable|Writable); err != nil {
		l.Close()
		return nil, errors.Wrap(err, "registering socket")
	}
	if err := poller.Add(sigs.Fd(), Readable); err != nil {
		l.Close()
		return nil, errors.Wrap(err, "registering signal source")
	}

	// Watching stdin for EOF gives a clean way to shut down under a
	// supervisor that closes it, matching the CLI's documented exit
	// conditions (shutdown signal or stdin EOF).
	if err := unix.SetNonblock(unix.Stdin, true); err != nil {
		l.Close()
		return nil, errors.Wrap(err, "setting stdin non-blocking")
	}
	if err := poller.Add(unix.Stdin, Readable); err != nil {
		l.Close()
		return nil, errors.Wrap(err, "registering stdin")
	}

	return l, nil
}

// SpawnPlugin starts name/args and registers its stdout pipe with the
// poller so its output is folded into the write queue as it arrives.
func (l *Loop) SpawnPlugin(name string, args []string) error {
	r, err := plugin.Spawn(name, args)
	if err != nil {
		return errors.Wrapf(err, "spawning plugin %s", name)
	}
	fd := r.Fd()
	if err := l.poller.Add(fd, Readable); err != nil {
		r.Close()
		return errors.Wrap(err, "registering plugin pipe")
	}
	l.plugins[fd] = &pluginSlot{reader: r, fd: fd}
	return nil
}

// Run drives the event loop until the connection closes cleanly, a
// protocol or transport error terminates it, or a shutdown signal
// arrives.
func (l *Loop) Run() (ExitReason, error) {
	buf := make([]unix.EpollEvent, 16)
	for {
		evs, err := l.poller.Wait(buf, -1)
		if err != nil {
			return ExitConnectError, errors.Wrap(err, "epoll wait")
		}
		for _, ev := range evs {
			if reason, err, done := l.handleEvent(ev); done {
				return reason, err
			}
		}
	}
}

func (l *Loop) handleEvent(ev Event) (ExitReason, error, bool) {
	fd := int(ev.Fd)
	switch {
	case fd == l.sock:
		return l.handleSocketEvent(ev)
	case fd == l.sigs.Fd():
		return l.handleSignalEvent()
	case fd == unix.Stdin:
		return l.handleStdinEvent()
	default:
		if slot, ok := l.plugins[fd]; ok {
			return l.handlePluginEvent(slot)
		}
		l.logger.Warn("readiness event for unregistered fd", "fd", fd)
		return 0, nil, false
	}
}

func (l *Loop) handleSocketEvent(ev Event) (ExitReason, error, bool) {
	if !l.connected {
		if ev.Error || ev.Hangup {
			return ExitConnectError, errors.New("connect failed"), true
		}
		if err := ConnectError(l.sock); err != nil {
			return ExitConnectError, errors.Wrap(err, "connect"), true
		}
		l.connected = true
		l.logger.Info("connected", "addr", l.cfg.ConnectString())
	}

	if ev.Readable {
	readLoop:
		for {
			outcome, err := l.client.Receive(fdConn{l.sock})
			if err != nil {
				var perr *irc.ProtocolError
				if !errors.As(err, &perr) {
					return ExitConnectError, errors.Wrap(err, "reading from socket"), true
				}
				l.logger.Error("protocol error", "err", err.Error())
				return ExitProtocolError, err, true
			}
			switch outcome {
			case irc.ReadBufferFull:
				// The 16KiB socket buffer filling without ever completing
				// a line can't happen from a conforming server (IRC lines
				// are capped at 512 bytes); treat it as a programming
				// error rather than a recoverable transport condition.
				panic("irc: read buffer filled without completing a line")
			case irc.ReadEOF:
				l.logger.Info("connection closed by peer")
				return ExitClean, nil, true
			case irc.ReadBlocked:
				break readLoop
			}
		}
	}

	if err := l.flushSocket(); err != nil {
		return ExitConnectError, err, true
	}
	return 0, nil, false
}

func (l *Loop) flushSocket() error {
	for l.client.WriteQueued() > 0 {
		outcome, err := l.client.Write(fdConn{l.sock})
		if err != nil {
			return errors.Wrap(err, "writing to socket")
		}
		if outcome == irc.WriteBlocked {
			break
		}
	}

	wantWrite := l.client.WriteQueued() > 0
	if wantWrite == l.sockWriting {
		return nil
	}
	l.sockWriting = wantWrite

	interest := Readable
	if wantWrite {
		interest |= Writable
	}
	return errors.Wrap(l.poller.Modify(l.sock, interest), "updating socket write interest")
}

func (l *Loop) handleSignalEvent() (ExitReason, error, bool) {
	for _, sig := range l.sigs.Drain() {
		switch sig {
		case unix.SIGINT, unix.SIGTERM, unix.SIGQUIT:
			l.logger.Info("shutdown signal received", "signal", sig.String())
			return ExitClean, nil, true
		case unix.SIGUSR1, unix.SIGUSR2:
			l.logger.Info("reload signal received", "signal", sig.String())
			if reloaded, err := l.cfg.Reload(l.cfgPath); err != nil {
				l.logger.Warn("config reload failed, keeping existing config", "err", err.Error())
			} else {
				*l.cfg = *reloaded
			}
		}
	}
	return 0, nil, false
}

func (l *Loop) handleStdinEvent() (ExitReason, error, bool) {
	var buf [512]byte
	for {
		n, err := unix.Read(unix.Stdin, buf[:])
		switch {
		case err != nil && err == unix.EAGAIN:
			return 0, nil, false
		case n == 0:
			l.logger.Info("stdin closed, shutting down")
			return ExitClean, nil, true
		case err != nil:
			return ExitConnectError, errors.Wrap(err, "reading stdin"), true
		}
	}
}

func (l *Loop) handlePluginEvent(slot *pluginSlot) (ExitReason, error, bool) {
	hasData, err := l.client.ProcessPlugin(slot.reader)
	if err != nil {
		l.logger.Warn("plugin pipe error, detaching", "err", err.Error())
		l.removePlugin(slot)
		return 0, nil, false
	}

	if hasData {
		if err := l.flushSocket(); err != nil {
			return ExitConnectError, err, true
		}
	}

	if exited, _ := slot.reader.ExitStatus(); exited {
		l.removePlugin(slot)
	}
	return 0, nil, false
}

func (l *Loop) removePlugin(slot *pluginSlot) {
	l.poller.Remove(slot.fd)
	slot.reader.Close()
	delete(l.plugins, slot.fd)
}

// Close tears down every registered fd: plugins, signal source, socket,
// and finally the epoll instance itself.
func (l *Loop) Close() {
	for _, slot := range l.plugins {
		l.poller.Remove(slot.fd)
		slot.reader.Close()
	}
	l.sigs.Close()
	unix.Close(l.sock)
	l.poller.Close()
}
