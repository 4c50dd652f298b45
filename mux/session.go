package mux

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"

	"github.com/tsmaeder/message-rpc/buffer"
)

// opener is the resolver for a pending Open: a buffered channel of size 1
// carrying the newly opened Channel, selected against alongside
// ctx.Done() by the caller's Open call.
type opener chan *Channel

// Mux multiplexes many named logical channels over one Transport. All
// state mutation happens on the single goroutine running Loop, matching
// the single-threaded cooperative model the protocol is designed for; a
// mutex guards pendingOpen and openChannels so Open (called from any
// goroutine) can register a resolver safely.
type Mux struct {
	transport Transport

	mu          sync.Mutex
	pendingOpen map[string]opener
	openChans   map[string]*Channel

	listenersMu   sync.Mutex
	onOpenChannel []func(*Channel)

	closed   bool
	closedCh chan struct{}
}

// New returns a Mux running over t. Call Loop in its own goroutine to begin
// processing inbound frames; until Loop runs, Open blocks until its context
// is done and no inbound Open/Data/Close frames are dispatched.
func New(t Transport) *Mux {
	return &Mux{
		transport:   t,
		pendingOpen: make(map[string]opener),
		openChans:   make(map[string]*Channel),
		closedCh:    make(chan struct{}),
	}
}

// OnOpenChannel registers a listener invoked whenever a peer's Open frame
// creates a new logical channel on this side (a passive open, including
// one that also resolves a local simultaneous-open collision). Servers use
// this to discover inbound channels without a separate Accept call.
func (m *Mux) OnOpenChannel(fn func(*Channel)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.onOpenChannel = append(m.onOpenChannel, fn)
}

func (m *Mux) fireOpenChannel(ch *Channel) {
	m.listenersMu.Lock()
	listeners := append([]func(*Channel){}, m.onOpenChannel...)
	m.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(ch)
	}
}

// Open writes an Open frame for id and blocks until the peer's AckOpen
// arrives, a simultaneous peer Open for the same id arrives, or ctx is
// done.
func (m *Mux) Open(ctx context.Context, id string) (*Channel, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, io.ErrClosedPipe
	}
	ch := make(opener, 1)
	m.pendingOpen[id] = ch
	m.mu.Unlock()

	w := encodeHeader(OpOpen, id)
	if err := m.transport.Send(w.Bytes()); err != nil {
		m.mu.Lock()
		delete(m.pendingOpen, id)
		m.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c, ok := <-ch:
		if !ok {
			return nil, io.ErrClosedPipe
		}
		return c, nil
	}
}

// Loop processes inbound frames until the transport reports io.EOF or the
// Mux has been closed locally; it then runs the close cascade and returns
// nil. Other transport errors are fanned out to the open channels and the
// loop keeps reading. Run it in its own goroutine.
func (m *Mux) Loop() error {
	for {
		frame, err := m.transport.Recv()
		if err != nil {
			m.mu.Lock()
			closing := m.closed
			m.mu.Unlock()
			if closing || errors.Is(err, io.EOF) {
				m.cascadeClose()
				return nil
			}
			m.cascadeError(err)
			continue
		}
		if err := m.dispatch(frame); err != nil {
			log.Printf("mux: dispatch: %v", err)
		}
	}
}

func (m *Mux) dispatch(frame []byte) error {
	r := buffer.NewReadBuffer(frame)
	op, id, err := decodeHeader(r)
	if err != nil {
		return err
	}

	switch op {
	case OpAckOpen:
		return m.handleAckOpen(id)
	case OpOpen:
		return m.handleOpen(id)
	case OpClose:
		return m.handleClose(id)
	case OpData:
		return m.handleData(id, r)
	default:
		return framingErrorf("unhandled opcode %v", op)
	}
}

func (m *Mux) handleAckOpen(id string) error {
	m.mu.Lock()
	resolver, ok := m.pendingOpen[id]
	if !ok {
		m.mu.Unlock()
		return protocolErrorf("AckOpen for %q with no pending resolver", id)
	}
	delete(m.pendingOpen, id)
	ch := newChannel(id, m, Open)
	m.openChans[id] = ch
	m.mu.Unlock()

	resolver <- ch
	return nil
}

func (m *Mux) handleOpen(id string) error {
	m.mu.Lock()
	if _, exists := m.openChans[id]; exists {
		m.mu.Unlock()
		return nil
	}
	ch := newChannel(id, m, Open)
	m.openChans[id] = ch

	// Simultaneous-open collision: a local Open for the same id is
	// already pending. Satisfy it with the channel created here rather
	// than treating the remote Open as unrelated.
	resolver, collided := m.pendingOpen[id]
	if collided {
		delete(m.pendingOpen, id)
	}
	m.mu.Unlock()

	m.fireOpenChannel(ch)
	if collided {
		resolver <- ch
		return nil
	}

	// Ordinary passive open: the peer's Open has no matching local Open
	// to resolve, so acknowledge it directly. Without this the peer's
	// Open call would never see a response and block until its context
	// is done.
	w := encodeHeader(OpAckOpen, id)
	return m.transport.Send(w.Bytes())
}

func (m *Mux) handleClose(id string) error {
	m.mu.Lock()
	ch, ok := m.openChans[id]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.openChans, id)
	ch.mu.Lock()
	ch.state = Closed
	ch.mu.Unlock()
	m.mu.Unlock()

	ch.fireClosed()
	return nil
}

func (m *Mux) handleData(id string, r *buffer.ReadBuffer) error {
	m.mu.Lock()
	ch, ok := m.openChans[id]
	m.mu.Unlock()
	if !ok {
		// Data for an unknown id is silently dropped.
		return nil
	}
	ch.fireMessage(r)
	return nil
}

// removeOpen deletes id from openChans if present. Used by Channel.Close.
func (m *Mux) removeOpen(id string) {
	m.mu.Lock()
	delete(m.openChans, id)
	m.mu.Unlock()
}

// Lookup returns the currently open channel for id, or nil if none is
// open.
func (m *Mux) Lookup(id string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openChans[id]
}

// cascadeError fans the transport error out to every open channel's error
// signal without mutating multiplexer state; the transport decides whether
// to subsequently close.
func (m *Mux) cascadeError(err error) {
	m.mu.Lock()
	chans := make([]*Channel, 0, len(m.openChans))
	for _, ch := range m.openChans {
		chans = append(chans, ch)
	}
	m.mu.Unlock()
	for _, ch := range chans {
		ch.fireError(err)
	}
}

// cascadeClose clears pendingOpen (those Open calls are left to the
// caller's context or an external timeout policy) and closes every open
// channel, firing each one's closed signal exactly once.
func (m *Mux) cascadeClose() {
	m.mu.Lock()
	m.closed = true
	m.pendingOpen = make(map[string]opener)
	chans := make([]*Channel, 0, len(m.openChans))
	for _, ch := range m.openChans {
		chans = append(chans, ch)
	}
	m.openChans = make(map[string]*Channel)
	m.mu.Unlock()

	for _, ch := range chans {
		ch.mu.Lock()
		ch.state = Closed
		ch.mu.Unlock()
		ch.fireClosed()
	}
	close(m.closedCh)
}

// Close closes the underlying transport. Loop will observe the resulting
// EOF (or error) and run the close cascade.
func (m *Mux) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.transport.Close()
}

// Done returns a channel closed once the transport close cascade has run.
func (m *Mux) Done() <-chan struct{} {
	return m.closedCh
}
