package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/xid"

	"github.com/tsmaeder/message-rpc/buffer"
	"github.com/tsmaeder/message-rpc/mux"
	"github.com/tsmaeder/message-rpc/rpcmsg"
	"github.com/tsmaeder/message-rpc/value"
)

// Client makes RPC calls over a single logical channel shared by every
// call, with Request/Reply pairs correlated by call id rather than by
// opening one channel per call.
type Client struct {
	mx    *mux.Mux
	chID  string
	codec *value.Codec
	ids   IDGenerator

	mu      sync.Mutex
	ch      *mux.Channel
	pending map[int32]chan *rpcmsg.Message
}

// NewClient opens (lazily, on first Call/Notify) a logical channel on m
// identified by channelID, and returns a Client that multiplexes RPC calls
// over it. If codec is nil, value.NewCodec() is used. If ids is nil, a
// monotonic counter is used.
func NewClient(m *mux.Mux, channelID string, codec *value.Codec, ids IDGenerator) *Client {
	if codec == nil {
		codec = value.NewCodec()
	}
	if ids == nil {
		ids = NewCounterIDGenerator()
	}
	return &Client{
		mx:      m,
		codec:   codec,
		ids:     ids,
		pending: make(map[int32]chan *rpcmsg.Message),
		chID:    channelID,
	}
}

// NewChannelID returns a globally-unique channel id suitable for a fresh
// RPC session.
func NewChannelID() string {
	return xid.New().String()
}

func (c *Client) ensureChannel(ctx context.Context) (*mux.Channel, error) {
	c.mu.Lock()
	if c.ch != nil {
		ch := c.ch
		c.mu.Unlock()
		return ch, nil
	}
	c.mu.Unlock()

	ch, err := c.mx.Open(ctx, c.chID)
	if err != nil {
		return nil, err
	}
	ch.OnMessage(c.handleMessage)
	ch.OnClosed(c.handleClosed)

	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()
	return ch, nil
}

func (c *Client) handleMessage(r *buffer.ReadBuffer) {
	msg, err := rpcmsg.Decode(r, c.codec)
	if err != nil {
		return
	}
	if msg.Type != rpcmsg.Reply && msg.Type != rpcmsg.ReplyError {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Client) handleClosed() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int32]chan *rpcmsg.Message)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// Call writes a Request frame and blocks until a matching Reply/ReplyError
// arrives or ctx is done. On ctx cancellation a Cancel frame is written for
// the same id and the wait unblocks with ctx.Err().
func (c *Client) Call(ctx context.Context, method string, args []interface{}) (interface{}, error) {
	ch, err := c.ensureChannel(ctx)
	if err != nil {
		return nil, err
	}

	id := c.ids.Next()
	waiter := make(chan *rpcmsg.Message, 1)
	c.mu.Lock()
	c.pending[id] = waiter
	c.mu.Unlock()

	if err := c.send(ch, &rpcmsg.Message{Type: rpcmsg.Request, ID: id, Method: method, Args: args}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		// The Cancel write can block while the peer is busy dispatching, so
		// it is sent in the background and does not delay the return.
		go c.send(ch, &rpcmsg.Message{Type: rpcmsg.Cancel, ID: id})
		return nil, ctx.Err()
	case msg, ok := <-waiter:
		if !ok {
			return nil, fmt.Errorf("rpc: channel closed before reply for call %d", id)
		}
		if msg.Type == rpcmsg.ReplyError {
			return nil, msg.Err
		}
		return msg.Result, nil
	}
}

// Notify writes a Notification frame and returns without waiting for any
// reply.
func (c *Client) Notify(ctx context.Context, method string, args []interface{}) error {
	ch, err := c.ensureChannel(ctx)
	if err != nil {
		return err
	}
	return c.send(ch, &rpcmsg.Message{Type: rpcmsg.Notification, ID: c.ids.Next(), Method: method, Args: args})
}

func (c *Client) send(ch *mux.Channel, msg *rpcmsg.Message) error {
	w := ch.WriteBuffer()
	if err := rpcmsg.Encode(w, c.codec, msg); err != nil {
		return err
	}
	return w.Commit()
}
