// Package transport ships concrete mux.Transport implementations: an
// in-process pipe, length-prefixed TCP/Unix sockets, and a WebSocket
// binary-message transport, plus a name-keyed Dialer registry.
package transport

import (
	"encoding/binary"
	"io"
	"sync"
)

// pipeTransport frames an io.Reader/io.WriteCloser pair with a 4-byte
// big-endian length prefix per frame, the same prefixing convention the
// RPC frame layer uses for typed values, reused here at the transport
// boundary.
type pipeTransport struct {
	w io.WriteCloser
	r io.ReadCloser

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// NewPipe wraps out/in (e.g. the two ends of io.Pipe, or a subprocess's
// stdin/stdout) as a mux.Transport.
func NewPipe(out io.WriteCloser, in io.ReadCloser) *pipeTransport {
	return &pipeTransport{w: out, r: in}
}

func (p *pipeTransport) Send(frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(frame)))
	if _, err := p.w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := p.w.Write(frame)
	return err
}

func (p *pipeTransport) Recv() ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(p.r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *pipeTransport) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	rerr := p.r.Close()
	werr := p.w.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
