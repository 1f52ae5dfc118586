package irc

import (
	"bytes"
	"testing"
)

func TestParseMessageNoPrefixWithTrailing(t *testing.T) {
	m := ParseMessage([]byte("command 1 2 3 :trailing param."))
	if string(m.Command) != "command" {
		t.Fatalf("command = %q", m.Command)
	}
	if m.HasNick() {
		t.Fatal("expected no prefix")
	}
	params := m.Params().Collect()
	want := []string{"1", "2", "3", "trailing param."}
	if len(params) != len(want) {
		t.Fatalf("params = %v, want %v", stringsOf(params), want)
	}
	for i, w := range want {
		if string(params[i]) != w {
			t.Fatalf("param %d = %q, want %q", i, params[i], w)
		}
	}
}

func TestParseMessageStandardPrefix(t *testing.T) {
	m := ParseMessage([]byte(":nick!user@host PRIVMSG #chan :hello there"))
	if !m.HasNick() {
		t.Fatal("expected prefix")
	}
	if string(m.Nick) != "nick" || string(m.User) != "user" || string(m.Host) != "host" {
		t.Fatalf("prefix split = nick=%q user=%q host=%q", m.Nick, m.User, m.Host)
	}
	if string(m.Command) != "PRIVMSG" {
		t.Fatalf("command = %q", m.Command)
	}
	params := m.Params().Collect()
	if len(params) != 2 || string(params[0]) != "#chan" || string(params[1]) != "hello there" {
		t.Fatalf("params = %v", stringsOf(params))
	}
}

func TestParseMessageServerPrefixNoUserHost(t *testing.T) {
	m := ParseMessage([]byte(":irc.example.net 001 nick :Welcome"))
	if !m.HasNick() || m.User != nil || m.Host != nil {
		t.Fatalf("expected bare server prefix, got nick=%q user=%q host=%q", m.Nick, m.User, m.Host)
	}
	if string(m.Nick) != "irc.example.net" {
		t.Fatalf("nick = %q", m.Nick)
	}
}

func TestParseMessageSwappedPrefixTolerance(t *testing.T) {
	// bang appears after at: nick@host!user
	m := ParseMessage([]byte(":nick@host!user NOTICE x :y"))
	if string(m.Nick) != "nick" || string(m.User) != "user" || string(m.Host) != "host" {
		t.Fatalf("swapped prefix split = nick=%q user=%q host=%q", m.Nick, m.User, m.Host)
	}
}

func TestParseMessagePrefixOnlyAt(t *testing.T) {
	m := ParseMessage([]byte(":nick@host JOIN #chan"))
	if string(m.Nick) != "nick" || m.User != nil || string(m.Host) != "host" {
		t.Fatalf("at-only prefix = nick=%q user=%q host=%q", m.Nick, m.User, m.Host)
	}
}

func TestParseMessagePrefixOnlyBang(t *testing.T) {
	m := ParseMessage([]byte(":nick!user JOIN #chan"))
	if string(m.Nick) != "nick" || string(m.User) != "user" || m.Host != nil {
		t.Fatalf("bang-only prefix = nick=%q user=%q host=%q", m.Nick, m.User, m.Host)
	}
}

func TestParseMessageNoPrefix(t *testing.T) {
	m := ParseMessage([]byte("PING :PONG"))
	if m.HasNick() {
		t.Fatal("expected no prefix")
	}
	if string(m.Command) != "PING" {
		t.Fatalf("command = %q", m.Command)
	}
	params := m.Params().Collect()
	if len(params) != 1 || string(params[0]) != "PONG" {
		t.Fatalf("params = %v", stringsOf(params))
	}
}

func TestParseMessageTrailingOnly(t *testing.T) {
	m := ParseMessage([]byte("PING :"))
	params := m.Params().Collect()
	if len(params) != 1 || string(params[0]) != "" {
		t.Fatalf("expected one empty trailing param, got %v", stringsOf(params))
	}
}

func TestParseMessageCommandOnly(t *testing.T) {
	m := ParseMessage([]byte("PING"))
	if string(m.Command) != "PING" {
		t.Fatalf("command = %q", m.Command)
	}
	if m.Params().Collect() != nil {
		t.Fatal("expected no params")
	}
}

func TestParseMessagePrefixOnlyNoCommand(t *testing.T) {
	m := ParseMessage([]byte(":nick!user@host"))
	if !m.HasNick() || m.HasCommand() {
		t.Fatalf("expected prefix without command, got hasNick=%v hasCmd=%v", m.HasNick(), m.HasCommand())
	}
}

func TestParseMessageWeirdSpacing(t *testing.T) {
	m := ParseMessage([]byte("CMD   a   b  :trailer with  spaces"))
	params := m.Params().Collect()
	want := []string{"a", "b", "trailer with  spaces"}
	if len(params) != len(want) {
		t.Fatalf("params = %v, want %v", stringsOf(params), want)
	}
	for i, w := range want {
		if string(params[i]) != w {
			t.Fatalf("param %d = %q, want %q", i, params[i], w)
		}
	}
}

func TestParseMessageEmpty(t *testing.T) {
	m := ParseMessage(nil)
	if !m.IsEmpty() {
		t.Fatal("expected empty message from empty input")
	}
}

func TestParseMessageRawParamsNilWhenAbsent(t *testing.T) {
	m := ParseMessage([]byte("PING"))
	if m.RawParams() != nil {
		t.Fatalf("expected nil raw params, got %q", m.RawParams())
	}
}

func TestParseMessageRawParamsEchoesPingArgument(t *testing.T) {
	m := ParseMessage([]byte("PING :some.server.example"))
	if !bytes.Equal(m.RawParams(), []byte(":some.server.example")) {
		t.Fatalf("raw params = %q", m.RawParams())
	}
}

func stringsOf(bs [][]byte) []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = string(b)
	}
	return out
}
