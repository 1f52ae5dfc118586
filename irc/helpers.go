package irc

import "bytes"

// CaseMapping selects the byte-level uppercasing rule used to compare
// nicknames and channel names.
type CaseMapping int

const (
	// Rfc1459 additionally folds {|}^ into [\]~, the IRC default.
	Rfc1459 CaseMapping = iota
	// Ascii folds only a-z into A-Z.
	Ascii
	// Unicode is not implemented upstream; it is treated as Ascii with a
	// warning logged by the caller (spec §9).
	Unicode
)

// IRCUppercase returns an uppercased copy of s under the given case
// mapping. Always folds a..z; under Rfc1459 it additionally folds {|}^
// to [\]~. Ascii and Unicode fold only a..z.
func IRCUppercase(cm CaseMapping, s []byte) []byte {
	out := make([]byte, len(s))
	for i, c := range s {
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = c - 32
		case cm == Rfc1459 && c >= '{' && c <= '}':
			out[i] = c - 32
		case cm == Rfc1459 && c == '^':
			out[i] = c + 32
		default:
			out[i] = c
		}
	}
	return out
}

// CaseEqual reports whether a and b are equal under the given case
// mapping.
func CaseEqual(cm CaseMapping, a, b []byte) bool {
	return bytes.Equal(IRCUppercase(cm, a), IRCUppercase(cm, b))
}

// PackChannelList produces one or more "<command> c1,c2,...\r\n" lines,
// never letting an individual line reach 510 bytes (leaving room for the
// \r\n terminator under the 512-byte wire limit). Used for both JOIN and
// PART.
func PackChannelList(command string, channels []string) []byte {
	var out bytes.Buffer
	lineLen := 0
	first := true

	for _, ch := range channels {
		if lineLen+len(ch) >= 510 {
			out.WriteString("\r\n")
			lineLen = 0
			first = true
		}

		if first {
			out.WriteString(command)
			out.WriteByte(' ')
			lineLen = len(command) + 1
			first = false
		} else {
			out.WriteByte(',')
		}
		out.WriteString(ch)
		lineLen += len(ch) + 1
	}
	out.WriteString("\r\n")

	return out.Bytes()
}

// ParseCapAck reports whether msg carries at least three parameters (nick,
// ACK, capability-list) whose capability list includes "multi-prefix". It
// does not check that msg's command is CAP.
func ParseCapAck(msg *Message) bool {
	it := msg.Params()

	if _, ok := it.Next(); !ok {
		return false
	}
	ack, ok := it.Next()
	if !ok || !bytes.Equal(ack, []byte("ACK")) {
		return false
	}
	caplist, ok := it.Next()
	if !ok {
		return false
	}

	for _, cap := range bytes.Split(caplist, []byte(" ")) {
		if bytes.Equal(cap, []byte("multi-prefix")) {
			return true
		}
	}
	return false
}

// CapSubcommand returns the CAP message's sub-command (ACK, NAK, LS, ...)
// as the second parameter, or "" if absent.
func CapSubcommand(msg *Message) string {
	it := msg.Params()
	if _, ok := it.Next(); !ok {
		return ""
	}
	sub, ok := it.Next()
	if !ok {
		return ""
	}
	return string(sub)
}
