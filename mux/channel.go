package mux

import (
	"sync"

	"github.com/tsmaeder/message-rpc/buffer"
)

// State is a Channel's lifecycle state.
type State int

const (
	PendingOpen State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case PendingOpen:
		return "PendingOpen"
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Channel is a named endpoint multiplexed over one Mux's transport. It
// exposes message-arrived, closed, and error signals as listener lists,
// since Go has no built-in EventEmitter.
type Channel struct {
	ID  string
	mux *Mux

	mu    sync.Mutex
	state State

	onMessage []func(*buffer.ReadBuffer)
	onClosed  []func()
	onError   []func(error)
}

func newChannel(id string, m *Mux, state State) *Channel {
	return &Channel{ID: id, mux: m, state: state}
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnMessage registers a listener invoked, in registration order, with a
// read buffer positioned just past the multiplexer header for every Data
// frame addressed to this channel.
func (c *Channel) OnMessage(fn func(*buffer.ReadBuffer)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = append(c.onMessage, fn)
}

// OnClosed registers a listener invoked exactly once when the channel
// transitions to Closed.
func (c *Channel) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = append(c.onClosed, fn)
}

// OnError registers a listener invoked when the underlying transport
// reports an error. Transport errors are fanned out to every open channel
// and do not themselves close the channel.
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = append(c.onError, fn)
}

// fireMessage, fireClosed, and fireError copy the relevant listener list
// before invoking it, so a listener that unsubscribes or registers more
// listeners mid-dispatch does not mutate the slice being iterated.
func (c *Channel) fireMessage(r *buffer.ReadBuffer) {
	c.mu.Lock()
	listeners := append([]func(*buffer.ReadBuffer){}, c.onMessage...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(r)
	}
}

func (c *Channel) fireClosed() {
	c.mu.Lock()
	listeners := append([]func(){}, c.onClosed...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (c *Channel) fireError(err error) {
	c.mu.Lock()
	listeners := append([]func(error){}, c.onError...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(err)
	}
}

// WriteBuffer acquires a fresh write buffer whose Commit prepends
// Data|id and publishes the result via the transport. The caller owns the
// buffer and must commit it exactly once before acquiring another.
func (c *Channel) WriteBuffer() *buffer.WriteBuffer {
	return buffer.NewWriteBuffer(func(payload []byte) error {
		w := encodeHeader(OpData, c.ID)
		frame := append(w.Bytes(), payload...)
		return c.mux.transport.Send(frame)
	})
}

// Close writes a Close frame for this channel, fires the local closed
// signal, and removes the channel from the multiplexer's open-channel
// table. Close is local-initiated; Close frames from the peer are handled
// by the Mux's dispatch loop instead.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Closed
	c.mu.Unlock()

	w := encodeHeader(OpClose, c.ID)
	err := c.mux.transport.Send(w.Bytes())

	c.mux.removeOpen(c.ID)
	c.fireClosed()
	return err
}
