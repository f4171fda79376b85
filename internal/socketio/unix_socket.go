//go:build unix

// Non-blocking UDP socket over golang.org/x/sys/unix: unix.Socket,
// unix.SetNonblock, unix.Sendto/Recvfrom, unix.Poll, and EAGAIN/EINTR
// handling, in the style of a raw non-blocking datagram socket driven
// by a poll() timeout loop.
package socketio

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// UnixSocket is the production Socket backed by a non-blocking UDP/IPv4
// file descriptor.
type UnixSocket struct {
	fd int
}

// NewUnixSocket opens an unbound, non-blocking UDP/IPv4 socket (the
// source port is left to the kernel, matching the original sender,
// which never binds before sendmsg).
func NewUnixSocket() (*UnixSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socketio: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socketio: set nonblock: %w", err)
	}
	return &UnixSocket{fd: fd}, nil
}

func sockaddrFromUDP(addr *net.UDPAddr) (*unix.SockaddrInet4, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return nil, fmt.Errorf("socketio: %s is not an IPv4 address", addr.IP)
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	copy(sa.Addr[:], ip4)
	return sa, nil
}

// SendTo implements Socket. Sends with MSG_DONTWAIT only;
// MSG_NOSIGNAL is not set. EAGAIN/EINTR become ErrWouldBlock, any
// other error is returned as-is for the engine to treat as a hard
// send failure.
func (s *UnixSocket) SendTo(buf []byte, addr *net.UDPAddr) (int, error) {
	sa, err := sockaddrFromUDP(addr)
	if err != nil {
		return 0, err
	}
	err = unix.Sendto(s.fd, buf, unix.MSG_DONTWAIT, sa)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return len(buf), nil
}

// RecvFrom implements Socket, reading at most one pending datagram.
func (s *UnixSocket) RecvFrom(buf []byte) (int, *net.UDPAddr, error) {
	n, from, err := unix.Recvfrom(s.fd, buf, unix.MSG_DONTWAIT)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil, ErrWouldBlock
		}
		return 0, nil, err
	}
	sa4, ok := from.(*unix.SockaddrInet4)
	if !ok {
		return 0, nil, fmt.Errorf("socketio: unexpected sockaddr type %T", from)
	}
	addr := &net.UDPAddr{IP: net.IPv4(sa4.Addr[0], sa4.Addr[1], sa4.Addr[2], sa4.Addr[3]), Port: sa4.Port}
	return n, addr, nil
}

// WaitReadable implements Socket via unix.Poll.
func (s *UnixSocket) WaitReadable(timeoutMs int) (bool, error) {
	pfd := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, err
	}
	return n > 0 && pfd[0].Revents&unix.POLLIN != 0, nil
}

// Close implements Socket.
func (s *UnixSocket) Close() error {
	return unix.Close(s.fd)
}
