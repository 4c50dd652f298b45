// Package buffer implements the primitive framed-buffer encoding shared by
// the value codec and the channel multiplexer: fixed-width integers and
// doubles, varint lengths, and length-prefixed UTF-8 strings.
package buffer

import (
	"encoding/binary"
	"fmt"
	"math"
)

// initialCapacity is an implementation choice, not a wire contract; it is
// only observable in allocation count.
const initialCapacity = 256

// WriteBuffer is a growable byte region with a write offset. It is created
// per outgoing frame, populated by a sequence of primitive writes, and
// terminated exactly once by Commit.
type WriteBuffer struct {
	buf       []byte
	off       int
	committed bool
	onCommit  func([]byte) error
}

// NewWriteBuffer returns a buffer whose Commit hands the finished bytes to
// onCommit. onCommit may be nil, in which case Commit only freezes the
// buffer; the caller reads its contents with Bytes.
func NewWriteBuffer(onCommit func([]byte) error) *WriteBuffer {
	return &WriteBuffer{
		buf:      make([]byte, initialCapacity),
		onCommit: onCommit,
	}
}

func (w *WriteBuffer) grow(n int) {
	if w.off+n <= len(w.buf) {
		return
	}
	newCap := len(w.buf)
	if newCap == 0 {
		newCap = initialCapacity
	}
	for w.off+n > newCap {
		newCap *= 2
	}
	nb := make([]byte, newCap)
	copy(nb, w.buf[:w.off])
	w.buf = nb
}

func (w *WriteBuffer) checkLive() {
	if w.committed {
		panic(contractViolation("write after commit"))
	}
}

// WriteByte writes a single octet.
func (w *WriteBuffer) WriteByte(b byte) *WriteBuffer {
	w.checkLive()
	w.grow(1)
	w.buf[w.off] = b
	w.off++
	return w
}

// WriteInt writes v as 4 bytes, big-endian.
func (w *WriteBuffer) WriteInt(v uint32) *WriteBuffer {
	w.checkLive()
	w.grow(4)
	binary.BigEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
	return w
}

// WriteNumber writes v as 8 bytes, IEEE-754 double, big-endian.
func (w *WriteBuffer) WriteNumber(v float64) *WriteBuffer {
	w.checkLive()
	w.grow(8)
	binary.BigEndian.PutUint64(w.buf[w.off:], math.Float64bits(v))
	w.off += 8
	return w
}

// WriteLength writes n as a varint: 7 bits per byte, high bit set while more
// bytes follow.
func (w *WriteBuffer) WriteLength(n uint64) *WriteBuffer {
	w.checkLive()
	for {
		b := byte(n & 0x7F)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if n == 0 {
			return w
		}
	}
}

// WriteString encodes s as UTF-8, prefixed with its byte length as a 4-byte
// big-endian int32. The length is the byte count, not the character count.
func (w *WriteBuffer) WriteString(s string) *WriteBuffer {
	w.checkLive()
	w.WriteInt(uint32(len(s)))
	w.grow(len(s))
	copy(w.buf[w.off:], s)
	w.off += len(s)
	return w
}

// WriteBytes writes a varint length followed by the raw octets of b.
func (w *WriteBuffer) WriteBytes(b []byte) *WriteBuffer {
	w.checkLive()
	w.WriteLength(uint64(len(b)))
	w.grow(len(b))
	copy(w.buf[w.off:], b)
	w.off += len(b)
	return w
}

// Bytes returns the contents written so far, whether or not the buffer has
// been committed, without publishing them. It is meant for tests and
// callers that build a frame without an onCommit sink.
func (w *WriteBuffer) Bytes() []byte {
	return w.buf[:w.off]
}

// Commit publishes the buffer's contents to its observer and marks the
// buffer spent. Calling Commit twice, or writing after Commit, is a
// contract violation and panics.
func (w *WriteBuffer) Commit() error {
	if w.committed {
		panic(contractViolation("commit called twice"))
	}
	w.committed = true
	if w.onCommit == nil {
		return nil
	}
	return w.onCommit(w.buf[:w.off])
}

// contractViolation formats a panic message for callers that want to
// distinguish framing bugs from ordinary errors.
func contractViolation(format string, args ...interface{}) string {
	return fmt.Sprintf("buffer: "+format, args...)
}
