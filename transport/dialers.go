package transport

import (
	"fmt"
	"io"
	"os"

	"github.com/tsmaeder/message-rpc/mux"
)

// Dialer connects to addr and returns a running Mux.
type Dialer func(addr string) (*mux.Mux, error)

// Dialers maps transport names to Dialers, and includes all builtin
// transports. Callers can select a transport from configuration rather
// than compiling it in.
var Dialers = map[string]Dialer{
	"tcp":  DialTCP,
	"unix": DialUnix,
	"ws":   DialWS,
	"pipe": func(_ string) (*mux.Mux, error) {
		return DialStdio()
	},
}

// Dial connects to addr using a registered transport name and returns a
// running Mux.
func Dial(transport, addr string) (*mux.Mux, error) {
	d, ok := Dialers[transport]
	if !ok {
		return nil, fmt.Errorf("transport: %q is not a registered transport", transport)
	}
	return d(addr)
}

// DialIO wraps out/in as a mux.Transport and returns a running Mux.
func DialIO(out io.WriteCloser, in io.ReadCloser) *mux.Mux {
	return newMuxRunning(NewPipe(out, in))
}

// DialStdio wraps os.Stdout/os.Stdin as a mux.Transport and returns a
// running Mux.
func DialStdio() (*mux.Mux, error) {
	return DialIO(os.Stdout, os.Stdin), nil
}
