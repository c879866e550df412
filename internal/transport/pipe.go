package transport

import "net"

// Pipe returns two connected in-memory Conns. Used by tests and by worker
// doubles that speak the protocol without a real socket.
func Pipe() (Conn, Conn) {
	a, b := net.Pipe()
	return NewConn(a), NewConn(b)
}
