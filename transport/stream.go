package transport

import (
	"net"

	"github.com/tsmaeder/message-rpc/mux"
)

// streamTransport wraps a net.Conn with the same length-prefixed framing
// as pipeTransport.
type streamTransport struct {
	*pipeTransport
	conn net.Conn
}

// NewStream wraps conn (a TCP or Unix domain socket connection) as a
// mux.Transport.
func NewStream(conn net.Conn) *streamTransport {
	return &streamTransport{pipeTransport: NewPipe(conn, conn), conn: conn}
}

// Close closes the underlying connection once, overriding pipeTransport's
// Close (which would otherwise close the same net.Conn twice, since it is
// both the reader and writer half).
func (s *streamTransport) Close() error {
	s.pipeTransport.closeMu.Lock()
	defer s.pipeTransport.closeMu.Unlock()
	if s.pipeTransport.closed {
		return nil
	}
	s.pipeTransport.closed = true
	return s.conn.Close()
}

// DialTCP connects to addr over TCP and returns a running Mux.
func DialTCP(addr string) (*mux.Mux, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newMuxRunning(NewStream(conn)), nil
}

// DialUnix connects to addr over a Unix domain socket and returns a
// running Mux.
func DialUnix(addr string) (*mux.Mux, error) {
	conn, err := net.Dial("unix", addr)
	if err != nil {
		return nil, err
	}
	return newMuxRunning(NewStream(conn)), nil
}

// Listener accepts incoming connections and wraps each as a mux.Mux.
type Listener struct {
	net.Listener
}

// ListenTCP listens on addr over TCP.
func ListenTCP(addr string) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: l}, nil
}

// ListenUnix listens on addr over a Unix domain socket.
func ListenUnix(addr string) (*Listener, error) {
	l, err := net.Listen("unix", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: l}, nil
}

// Accept waits for the next incoming connection and returns it as a
// running Mux.
func (l *Listener) Accept() (*mux.Mux, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return newMuxRunning(NewStream(conn)), nil
}

func newMuxRunning(t mux.Transport) *mux.Mux {
	m := mux.New(t)
	go m.Loop()
	return m
}
