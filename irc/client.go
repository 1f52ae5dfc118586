package irc

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"strings"
	"syscall"
	"time"

	"github.com/inconshreveable/log15"

	"github.com/hlandau/ircplug/plugin"
)

// ReadyState is the session's position in the connect/register/negotiate
// sequence.
type ReadyState int

const (
	// Unknown is the state before any server reply has been seen.
	Unknown ReadyState = iota
	// PreAuth has sent the login preamble and is waiting on 001-004.
	PreAuth
	// Authenticated has seen 004 and is waiting on 005 (ISUPPORT).
	Authenticated
	// Ready has applied ISUPPORT and joined its configured channels.
	Ready
)

// ModePrefixPair is one (mode letter, display prefix) pair parsed out of
// ISUPPORT's PREFIX=(modes)prefixes token, e.g. ('o', '@').
type ModePrefixPair struct {
	Mode, Prefix byte
}

// State is the session state a Client tracks across the connection's
// lifetime: identity, channel membership, and the server's advertised
// capabilities.
type State struct {
	Nick         string
	OriginalNick string
	Channels     []string
	ReadyState   ReadyState
	CaseMapping  CaseMapping
	ChanTypes    []byte
	ModePrefix   []ModePrefixPair
}

// ProtocolError is a fatal, named protocol outcome: a server ERROR line,
// a rejected password, a ban, a failed capability negotiation, or an
// unsupported SASL challenge. The event loop logs its Reason and tears
// the connection down; it is not a transport failure.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "irc: " + e.Reason }

// ReadOutcome classifies the result of a Client.Receive call.
type ReadOutcome int

const (
	// ReadOkay means bytes were consumed; the connection stays open.
	ReadOkay ReadOutcome = iota
	// ReadHasWritableData means handling the received bytes queued data
	// to write; the caller should arm write-readiness.
	ReadHasWritableData
	// ReadBlocked means no bytes were currently available.
	ReadBlocked
	// ReadEOF means the peer closed the connection.
	ReadEOF
	// ReadBufferFull means the 16KiB read buffer has no room left without
	// a line ever having completed; the caller must treat this as fatal.
	ReadBufferFull
)

// WriteOutcome classifies the result of a Client.Write call.
type WriteOutcome int

const (
	// WriteOkay means some queued bytes were written and more remain
	// queued.
	WriteOkay WriteOutcome = iota
	// WriteBlocked means the write would have blocked; nothing was lost,
	// the unwritten bytes were requeued.
	WriteBlocked
	// WriteDrained means the write queue is now empty; the caller should
	// stop watching for write-readiness.
	WriteDrained
)

const readBufSize = 16 * 1024

func isWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// writeQueue is an ordered FIFO of pending outbound bytes. Drain and
// PutBack together let a short or blocked write return its unsent
// suffix to the front of the queue without disturbing order.
type writeQueue struct {
	buf []byte
}

func (q *writeQueue) Enqueue(b []byte) { q.buf = append(q.buf, b...) }
func (q *writeQueue) Len() int         { return len(q.buf) }

func (q *writeQueue) Drain(max int) []byte {
	n := max
	if n > len(q.buf) {
		n = len(q.buf)
	}
	out := make([]byte, n)
	copy(out, q.buf[:n])
	q.buf = q.buf[n:]
	return out
}

func (q *writeQueue) PutBack(b []byte) {
	nb := make([]byte, 0, len(b)+len(q.buf))
	nb = append(nb, b...)
	nb = append(nb, q.buf...)
	q.buf = nb
}

// Client is a single IRC session: the 16KiB read buffer, the pending
// write queue, and the State the wire protocol mutates as messages
// arrive. It owns no I/O itself; callers supply an io.Reader/io.Writer
// (a raw non-blocking socket in production, a bytes.Buffer or small
// hand-written fakes in tests) and Client classifies what happened.
type Client struct {
	State State

	readBuf [readBufSize]byte
	readHead int
	writeBuf writeQueue

	configuredChannels []string
	nickservPassword   string
	identified         bool

	rng    *rand.Rand
	logger log15.Logger
}

// NewClient builds a session for nick, queues the login preamble (CAP
// REQ, NICK, USER), and remembers channels/nickservPassword for use once
// the server advertises readiness.
func NewClient(nick string, channels []string, nickservPassword string, logger log15.Logger) *Client {
	c := &Client{
		State: State{
			Nick:        nick,
			ReadyState:  Unknown,
			CaseMapping: Rfc1459,
			ChanTypes:   []byte{'#', '&'},
		},
		configuredChannels: channels,
		nickservPassword:   nickservPassword,
		rng:                rand.New(rand.NewSource(time.Now().Unix())),
		logger:             logger,
	}
	c.writeBuf.Enqueue([]byte("CAP REQ :multi-prefix\r\nNICK " + nick + "\r\nUSER " + nick + " +i * :" + nick + "\r\n"))
	c.State.ReadyState = PreAuth
	return c
}

// WriteQueued reports how many bytes are currently queued to write.
// Exported for eventloop's write-interest bookkeeping.
func (c *Client) WriteQueued() int { return c.writeBuf.Len() }

// Receive performs one read from r into the session's 16KiB buffer and
// processes whatever complete lines that produced.
func (c *Client) Receive(r io.Reader) (ReadOutcome, error) {
	if c.readHead == len(c.readBuf) {
		return ReadBufferFull, nil
	}

	n, err := r.Read(c.readBuf[c.readHead:])
	switch {
	case err != nil && isWouldBlock(err):
		return ReadBlocked, nil
	case n == 0:
		return ReadEOF, nil
	case err != nil:
		return 0, err
	}

	return c.handleData(n + c.readHead)
}

func (c *Client) handleData(total int) (ReadOutcome, error) {
	outcome := ReadOkay
	buf := c.readBuf[:total]
	it := NewLineIterator(buf)

	partialStart, partialEnd := -1, -1
	for {
		tok, ok := it.Next()
		if !ok {
			break
		}
		if tok.Kind == Partial {
			partialStart, partialEnd = tok.Start, tok.End
			break
		}

		msg := ParseMessage(tok.Data)
		if msg.IsEmpty() {
			continue
		}
		wrote, err := c.dispatch(&msg)
		if err != nil {
			c.readHead = 0
			return ReadOkay, err
		}
		if wrote {
			outcome = ReadHasWritableData
		}
	}

	if partialStart < 0 {
		c.readHead = 0
	} else {
		c.readHead = copy(c.readBuf[:], buf[partialStart:partialEnd])
	}

	return outcome, nil
}

// dispatch handles one parsed message, mutating session state and
// possibly queuing a reply. It returns whether bytes were queued to
// write, and a non-nil *ProtocolError for any outcome the session cannot
// recover from.
func (c *Client) dispatch(msg *Message) (bool, error) {
	cmd := string(msg.Command)

	if !msg.HasNick() {
		switch cmd {
		case cmdPing:
			c.writeBuf.Enqueue([]byte("PONG "))
			if p := msg.RawParams(); p != nil {
				c.writeBuf.Enqueue(p)
			}
			c.writeBuf.Enqueue([]byte("\r\n"))
			return true, nil
		case cmdError:
			reason := ""
			if p := msg.RawParams(); p != nil {
				reason = string(bytes.TrimPrefix(p, []byte(":")))
			}
			return false, &ProtocolError{Reason: reason}
		default:
			c.logger.Warn("unhandled unprefixed command", "command", cmd)
			return false, nil
		}
	}

	switch {
	case cmd == cmdNick:
		c.handleNick(msg)
		return false, nil
	case cmd == cmdPrivmsg:
		return c.handlePrivmsg(msg), nil
	case cmd == cmdJoin:
		c.handleJoinPart(msg, true)
		return false, nil
	case cmd == cmdPart:
		c.handleJoinPart(msg, false)
		return false, nil
	case cmd == cmdKick:
		c.handleKick(msg)
		return false, nil
	case cmd == cmdInvite:
		// Reserved seam: invites are visible to plugins via the raw line
		// passthrough but the core does nothing with them on its own.
		return false, nil
	case cmd == numYourHost:
		c.State.ReadyState = Authenticated
		c.State.Channels = nil
		c.writeBuf.Enqueue(PackChannelList("JOIN", c.configuredChannels))
		return true, nil
	case cmd == numISupport:
		c.applyISupport(msg)
		c.State.ReadyState = Ready
		c.maybeIdentify()
		return c.WriteQueued() > 0, nil
	case cmd == numNickInUse || cmd == numNickColl:
		c.collideNick()
		return true, nil
	case cmd == numBadPass:
		return false, &ProtocolError{Reason: "server rejected connection password"}
	case cmd == numBanned:
		return false, &ProtocolError{Reason: "banned from server"}
	case cmd == cmdCap:
		return c.handleCap(msg)
	case saslNumerics[cmd]:
		return false, &ProtocolError{Reason: "server requires SASL authentication"}
	case cmd == cmdPong:
		c.logger.Debug("pong received", "from", string(msg.Nick))
		return false, nil
	default:
		c.logger.Warn("unhandled command", "command", cmd, "sender", string(msg.Nick))
		return false, nil
	}
}

func (c *Client) handleNick(msg *Message) {
	if !CaseEqual(c.State.CaseMapping, msg.Nick, []byte(c.State.Nick)) {
		return
	}
	newNick, ok := msg.Params().Next()
	if !ok {
		return
	}
	c.State.Nick = string(newNick)
	c.logger.Info("nick changed", "new_nick", c.State.Nick)
}

func (c *Client) handlePrivmsg(msg *Message) bool {
	it := msg.Params()
	target, ok := it.Next()
	if !ok {
		return false
	}
	body, ok := it.Next()
	if !ok {
		return false
	}
	if !CaseEqual(c.State.CaseMapping, target, []byte(c.State.Nick)) {
		return false
	}
	if !bytes.Equal(body, []byte(ctcpVersion)) {
		return false
	}

	c.writeBuf.Enqueue([]byte("NOTICE "))
	c.writeBuf.Enqueue(msg.Nick)
	c.writeBuf.Enqueue([]byte(" :\x01" + productName + ": v" + productVers + "\x01\r\n"))
	return true
}

func (c *Client) handleJoinPart(msg *Message, joining bool) {
	self := CaseEqual(c.State.CaseMapping, msg.Nick, []byte(c.State.Nick))
	if !self {
		return
	}
	channel, ok := msg.Params().Next()
	if !ok {
		return
	}
	ch := string(channel)
	if joining {
		c.State.Channels = append(c.State.Channels, ch)
	} else {
		c.removeChannel(ch)
	}
}

func (c *Client) handleKick(msg *Message) {
	it := msg.Params()
	channel, ok := it.Next()
	if !ok {
		return
	}
	victim, ok := it.Next()
	if !ok {
		return
	}
	if !CaseEqual(c.State.CaseMapping, victim, []byte(c.State.Nick)) {
		return
	}
	ch := string(channel)
	c.removeChannel(ch)
	if reason, ok := it.Next(); ok {
		c.logger.Info("kicked", "channel", ch, "reason", string(reason))
	} else {
		c.logger.Info("kicked", "channel", ch)
	}
}

func (c *Client) removeChannel(ch string) {
	out := c.State.Channels[:0]
	for _, existing := range c.State.Channels {
		if !CaseEqual(c.State.CaseMapping, []byte(existing), []byte(ch)) {
			out = append(out, existing)
		}
	}
	c.State.Channels = out
}

func (c *Client) collideNick() {
	if c.State.OriginalNick == "" {
		c.State.OriginalNick = c.State.Nick
	}
	suffix := make([]byte, 4)
	for i := range suffix {
		suffix[i] = byte('0' + c.rng.Intn(10))
	}
	c.State.Nick = c.State.Nick + "_" + string(suffix)
	c.writeBuf.Enqueue([]byte("NICK " + c.State.Nick + "\r\n"))
	c.logger.Warn("nick collision, retrying", "new_nick", c.State.Nick)
}

func (c *Client) handleCap(msg *Message) (bool, error) {
	switch CapSubcommand(msg) {
	case "ACK", "NAK":
		if !ParseCapAck(msg) {
			return false, &ProtocolError{Reason: "server did not acknowledge multi-prefix capability"}
		}
		c.writeBuf.Enqueue([]byte("CAP END\r\n"))
		return true, nil
	default:
		return false, nil
	}
}

func (c *Client) applyISupport(msg *Message) {
	it := msg.Params()
	if _, ok := it.Next(); !ok { // target nick
		return
	}
	for {
		tok, ok := it.Next()
		if !ok {
			break
		}
		s := string(tok)
		switch {
		case strings.HasPrefix(s, "CASEMAPPING="):
			c.applyCaseMapping(strings.TrimPrefix(s, "CASEMAPPING="))
		case strings.HasPrefix(s, "CHANTYPES="):
			c.State.ChanTypes = []byte(strings.TrimPrefix(s, "CHANTYPES="))
		case strings.HasPrefix(s, "PREFIX="):
			c.State.ModePrefix = parsePrefixToken(strings.TrimPrefix(s, "PREFIX="))
		}
	}
}

func (c *Client) applyCaseMapping(v string) {
	switch strings.ToLower(v) {
	case "ascii":
		c.State.CaseMapping = Ascii
	case "rfc1459", "":
		c.State.CaseMapping = Rfc1459
	case "unicode":
		c.logger.Warn("server advertises CASEMAPPING=unicode, which is unsupported; falling back to ascii folding")
		c.State.CaseMapping = Ascii
	}
}

func parsePrefixToken(tok string) []ModePrefixPair {
	if len(tok) == 0 || tok[0] != '(' {
		return nil
	}
	end := strings.IndexByte(tok, ')')
	if end < 0 {
		return nil
	}
	modes := tok[1:end]
	prefixes := tok[end+1:]
	n := len(modes)
	if len(prefixes) < n {
		n = len(prefixes)
	}
	pairs := make([]ModePrefixPair, 0, n)
	for i := 0; i < n; i++ {
		pairs = append(pairs, ModePrefixPair{Mode: modes[i], Prefix: prefixes[i]})
	}
	return pairs
}

func (c *Client) maybeIdentify() {
	if c.identified || c.nickservPassword == "" {
		return
	}
	c.identified = true
	c.writeBuf.Enqueue([]byte("PRIVMSG NickServ :IDENTIFY " + c.nickservPassword + "\r\n"))
}

// Write drains as much of the pending queue as w will accept in one call,
// up to 16KiB, requeuing whatever wasn't written (in order) on a short or
// blocked write.
func (c *Client) Write(w io.Writer) (WriteOutcome, error) {
	if c.writeBuf.Len() == 0 {
		return WriteDrained, nil
	}

	chunk := c.writeBuf.Drain(readBufSize)
	n, err := w.Write(chunk)
	if err != nil {
		if isWouldBlock(err) {
			c.writeBuf.PutBack(chunk)
			return WriteBlocked, nil
		}
		c.writeBuf.PutBack(chunk[n:])
		return 0, err
	}
	if n < len(chunk) {
		c.writeBuf.PutBack(chunk[n:])
	}
	if c.writeBuf.Len() == 0 {
		return WriteDrained, nil
	}
	return WriteOkay, nil
}

// ProcessPlugin drains whatever lines are currently available from p,
// queuing each as a raw outbound line, and reports whether anything was
// queued. It loops Receive until the plugin blocks or hits EOF, draining
// completed lines whenever the buffer fills and once more at the end.
func (c *Client) ProcessPlugin(p *plugin.Reader) (bool, error) {
	hasData := false

	for {
		stat, err := p.Receive()
		if err != nil {
			return hasData, err
		}
		switch stat {
		case plugin.Okay:
			continue
		case plugin.BufferFull:
			if c.drainPlugin(p) {
				hasData = true
			}
			continue
		default: // Eof or Blocked
		}
		break
	}

	if c.drainPlugin(p) {
		hasData = true
	}
	return hasData, nil
}

func (c *Client) drainPlugin(p *plugin.Reader) bool {
	lines, overflowed := p.Drain()
	if overflowed {
		c.logger.Warn("plugin line exceeded buffer, discarding")
	}
	for _, l := range lines {
		c.writeBuf.Enqueue(l)
		c.writeBuf.Enqueue([]byte("\r\n"))
	}
	return len(lines) > 0
}
