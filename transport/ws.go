package transport

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/tsmaeder/message-rpc/mux"
)

// wsTransport wraps a WebSocket connection in binary-message mode. No
// extra length prefix is needed: a WebSocket message is already a
// discrete frame.
type wsTransport struct {
	ws *websocket.Conn

	closeMu sync.Mutex
	closed  bool
}

// NewWS switches ws to binary payloads (PayloadType = BinaryFrame) and
// wraps it as a mux.Transport.
func NewWS(ws *websocket.Conn) *wsTransport {
	ws.PayloadType = websocket.BinaryFrame
	return &wsTransport{ws: ws}
}

func (w *wsTransport) Send(frame []byte) error {
	return websocket.Message.Send(w.ws, frame)
}

func (w *wsTransport) Recv() ([]byte, error) {
	var frame []byte
	err := websocket.Message.Receive(w.ws, &frame)
	return frame, err
}

func (w *wsTransport) Close() error {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.ws.Close()
}

// DialWS establishes a mux session via WebSocket connection. addr must be
// a host and port; opening a WebSocket connection at a particular path is
// not supported.
func DialWS(addr string) (*mux.Mux, error) {
	ws, err := websocket.Dial(fmt.Sprintf("ws://%s/", addr), "", fmt.Sprintf("http://%s/", addr))
	if err != nil {
		return nil, err
	}
	return newMuxRunning(NewWS(ws)), nil
}

// WSListener is an HTTP+WebSocket server that hands each accepted
// connection to a NetListener-style Accept.
type WSListener struct {
	net.Listener
	accepted chan *mux.Mux
	errs     chan error
}

// ListenWS takes a TCP address and returns a WSListener with an
// HTTP+WebSocket server listening on the given address.
func ListenWS(addr string) (*WSListener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	wl := &WSListener{
		Listener: l,
		accepted: make(chan *mux.Mux),
		errs:     make(chan error, 1),
	}
	s := &http.Server{
		Addr: addr,
		Handler: websocket.Handler(func(ws *websocket.Conn) {
			m := mux.New(NewWS(ws))
			wl.accepted <- m
			m.Loop()
		}),
	}
	go func() {
		wl.errs <- s.Serve(l)
	}()
	return wl, nil
}

// Accept waits for and returns the next incoming WebSocket session.
func (wl *WSListener) Accept() (*mux.Mux, error) {
	select {
	case m := <-wl.accepted:
		return m, nil
	case err := <-wl.errs:
		return nil, err
	}
}
