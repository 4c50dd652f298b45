package transport

import (
	"io"

	"github.com/tsmaeder/message-rpc/mux"
)

// Pair returns two connected, already-running Mux values wired together by
// an in-process pipe, for tests and local use that don't need a real
// socket.
func Pair() (a, b *mux.Mux) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	a = newMuxRunning(NewPipe(aw, ar))
	b = newMuxRunning(NewPipe(bw, br))
	return a, b
}
