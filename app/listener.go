package app

import (
	"fmt"
	"net"
)

// ListenerFd is the descriptor number at which workers find the
// inherited listening socket.
const ListenerFd = 3

// listen opens the shared TCP listener. Go enables SO_REUSEADDR on
// listening sockets.
func listen(addr string) (*net.TCPListener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

// listenerFd runs fn with the listener's raw descriptor. Unlike
// TCPListener.File it never switches the shared socket to blocking mode.
func listenerFd(ln *net.TCPListener, fn func(fd uintptr) error) error {
	rc, err := ln.SyscallConn()
	if err != nil {
		return err
	}
	var fnErr error
	if err := rc.Control(func(fd uintptr) { fnErr = fn(fd) }); err != nil {
		return err
	}
	return fnErr
}
