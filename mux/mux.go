// Package mux implements the channel multiplexer: many named logical
// channels sharing one underlying transport via a 4-opcode control
// protocol (Open, Close, AckOpen, Data).
package mux

import (
	"fmt"

	"github.com/tsmaeder/message-rpc/buffer"
)

// Opcode is the single control byte at the start of every transport frame.
type Opcode byte

const (
	OpOpen    Opcode = 1
	OpClose   Opcode = 2
	OpAckOpen Opcode = 3
	OpData    Opcode = 4
)

func (o Opcode) String() string {
	switch o {
	case OpOpen:
		return "Open"
	case OpClose:
		return "Close"
	case OpAckOpen:
		return "AckOpen"
	case OpData:
		return "Data"
	default:
		return fmt.Sprintf("Opcode(%d)", o)
	}
}

// Transport is the underlying collaborator that carries opaque frames for
// one multiplexer session. Recv returning io.EOF means the peer is gone;
// any other error is a transport error that does not by itself end the
// session.
type Transport interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

// FramingError reports a truncated buffer or unknown opcode on a frame
// received from the transport. It is fatal for that frame but does not
// mutate multiplexer state.
type FramingError struct {
	msg string
}

func (e *FramingError) Error() string { return "mux: framing: " + e.msg }

func framingErrorf(format string, args ...interface{}) *FramingError {
	return &FramingError{msg: fmt.Sprintf(format, args...)}
}

// ProtocolError reports a contract violation such as an AckOpen with no
// pending resolver.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return "mux: protocol: " + e.msg }

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// encodeHeader writes opcode:byte | id:lenstr and returns the bytes so far;
// callers append their payload before handing the result to the transport.
func encodeHeader(opcode Opcode, id string) *buffer.WriteBuffer {
	w := buffer.NewWriteBuffer(nil)
	w.WriteByte(byte(opcode))
	w.WriteString(id)
	return w
}

// decodeHeader reads opcode:byte | id:lenstr, leaving r positioned at the
// start of the payload (if any).
func decodeHeader(r *buffer.ReadBuffer) (Opcode, string, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, "", framingErrorf("read opcode: %v", err)
	}
	op := Opcode(b)
	switch op {
	case OpOpen, OpClose, OpAckOpen, OpData:
	default:
		return 0, "", framingErrorf("unknown opcode %d", b)
	}
	id, err := r.ReadString()
	if err != nil {
		return 0, "", framingErrorf("read channel id: %v", err)
	}
	return op, id, nil
}
