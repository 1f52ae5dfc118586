package eventloop

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DialNonblocking resolves "host:port", then attempts a non-blocking,
// close-on-exec TCP connect against each candidate address in turn until
// one accepts the attempt, returning its raw fd. Go's net.Conn is
// avoided deliberately: pulling the fd back out via File() would reset
// it to blocking mode, and this fd needs to stay under the epoll loop's
// control for its entire lifetime. Completion of the connect (it returns
// EINPROGRESS immediately) is confirmed later by the caller polling the
// fd for writability and checking ConnectError.
func DialNonblocking(addr string) (int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return -1, errors.Wrapf(err, "parsing address %s", addr)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return -1, errors.Wrapf(err, "resolving %s", host)
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return -1, errors.Wrapf(err, "resolving port %s", portStr)
	}

	var lastErr error
	for _, ip := range ips {
		fd, err := dialOne(ip, port)
		if err == nil {
			return fd, nil
		}
		lastErr = err
	}
	return -1, errors.Wrapf(lastErr, "connecting to %s", addr)
}

func dialOne(ip net.IP, port int) (int, error) {
	var sa unix.Sockaddr
	domain := unix.AF_INET

	if v4 := ip.To4(); v4 != nil {
		addr := &unix.SockaddrInet4{Port: port}
		copy(addr.Addr[:], v4)
		sa = addr
	} else {
		domain = unix.AF_INET6
		addr := &unix.SockaddrInet6{Port: port}
		copy(addr.Addr[:], ip.To16())
		sa = addr
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}

	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// ConnectError reports the socket's pending error after a writable
// notification following a connect that returned EINPROGRESS. nil means
// the connection completed successfully.
func ConnectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}
