package irc

import "bytes"

// Message is a non-owning, zero-copy view of a single parsed IRC protocol
// line: Nick/User/Host/Command are optional byte ranges into the backing
// buffer, and Params covers from the first parameter byte to end-of-line
// (per-parameter splitting is deferred to Params' iterator). A Message
// must not outlive the buffer it was parsed from.
type Message struct {
	Nick    []byte
	User    []byte
	Host    []byte
	Command []byte
	params  []byte
	hasNick bool
	hasUser bool
	hasHost bool
	hasCmd  bool
	hasPrms bool
}

// IsEmpty reports whether none of nick/user/host/command/params were
// present in the parsed line.
func (m *Message) IsEmpty() bool {
	return !m.hasNick && !m.hasUser && !m.hasHost && !m.hasCmd && !m.hasPrms
}

// HasCommand reports whether a command token was parsed.
func (m *Message) HasCommand() bool { return m.hasCmd }

// HasNick reports whether a prefix with at least a nick/server field was
// parsed.
func (m *Message) HasNick() bool { return m.hasNick }

// RawParams returns the unsplit parameter range (nil if none was present).
// Used where a handler needs to pass the server's parameters through
// verbatim, such as echoing PING's params back in a PONG.
func (m *Message) RawParams() []byte { return m.params }

func splitPrefix(b []byte) (nick, user, host []byte, hasNick, hasUser, hasHost bool) {
	bang := bytes.IndexByte(b, '!')
	at := bytes.IndexByte(b, '@')

	switch {
	case bang < 0 && at < 0:
		return b, nil, nil, true, false, false
	case bang < 0: // only '@'
		return b[:at], nil, b[at+1:], true, false, true
	case at < 0: // only '!'
		return b[:bang], b[bang+1:], nil, true, true, false
	case bang < at: // standard nick!user@host
		return b[:bang], b[bang+1 : at], b[at+1:], true, true, true
	default: // swapped: nick@host!user
		return b[:at], b[bang+1:], b[at+1 : bang], true, true, true
	}
}

// ParseMessage parses a single delimiter-free IRC protocol line into a
// Message view. raw must not be reused for anything else while the
// returned Message (or its parameter iterator) is in use.
func ParseMessage(raw []byte) Message {
	var m Message

	state := 0 // 0=prefix, 1=command, 2=done consuming tokens
	pos := 0
	for state < 2 {
		for pos < len(raw) && raw[pos] == ' ' {
			pos++
		}
		if pos >= len(raw) {
			break
		}
		tokStart := pos
		for pos < len(raw) && raw[pos] != ' ' {
			pos++
		}
		tok := raw[tokStart:pos]

		switch state {
		case 0:
			if tok[0] == ':' {
				m.Nick, m.User, m.Host, m.hasNick, m.hasUser, m.hasHost = splitPrefix(tok[1:])
				state = 1
			} else {
				m.Command = tok
				m.hasCmd = true
				state = 2
			}
		case 1:
			m.Command = tok
			m.hasCmd = true
			state = 2
		}
	}

	if state == 2 {
		p := pos
		for p < len(raw) && raw[p] == ' ' {
			p++
		}
		if p < len(raw) {
			m.params = raw[p:]
			m.hasPrms = true
		}
	}

	return m
}

// ParamIter lazily splits a Message's raw parameter range on spaces,
// honoring IRC's trailing-parameter (":") rule: once a token begins with
// ':', the remainder of the range (including embedded spaces) is the
// final parameter.
type ParamIter struct {
	params []byte
	pos    int
	done   bool
}

// Params returns a fresh iterator over m's parameters.
func (m *Message) Params() *ParamIter {
	return &ParamIter{params: m.params}
}

// Next returns the next parameter, or ok == false when exhausted.
func (it *ParamIter) Next() (param []byte, ok bool) {
	if it.done || it.params == nil {
		return nil, false
	}
	if it.pos >= len(it.params) {
		it.done = true
		return nil, false
	}

	i := it.pos
	for i < len(it.params) && it.params[i] == ' ' {
		i++
	}

	if i < len(it.params) && it.params[i] == ':' {
		it.pos = len(it.params)
		it.done = true
		return it.params[i+1:], true
	}

	start := i
	for i < len(it.params) && it.params[i] != ' ' {
		i++
	}
	end := i

	if start >= end {
		it.done = true
		return nil, false
	}
	it.pos = end + 1
	return it.params[start:end], true
}

// Collect drains the iterator into a slice. Intended for tests and
// call-sites that need random access to a short, known parameter count.
func (it *ParamIter) Collect() [][]byte {
	var out [][]byte
	for {
		p, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, p)
	}
}
