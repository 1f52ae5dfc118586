package eventloop

import (
	"net"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDialNonblockingConnectsToLocalListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	fd, err := DialNonblocking(ln.Addr().String())
	if err != nil {
		t.Fatalf("DialNonblocking: %v", err)
	}
	defer unix.Close(fd)

	p, err := NewPoller()
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	defer p.Close()
	if err := p.Add(fd, Writable); err != nil {
		t.Fatalf("Add: %v", err)
	}

	buf := make([]unix.EpollEvent, 4)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		evs, err := p.Wait(buf, 100)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if len(evs) > 0 {
			if cerr := ConnectError(fd); cerr != nil {
				t.Fatalf("ConnectError: %v", cerr)
			}
			return
		}
	}
	t.Fatal("socket never became writable")
}

func TestDialNonblockingRejectsUnresolvableHost(t *testing.T) {
	_, err := DialNonblocking("this-host-does-not-resolve.invalid:6667")
	if err == nil {
		t.Fatal("expected an error resolving a bogus hostname")
	}
}
