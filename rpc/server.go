package rpc

import (
	"log"

	"github.com/tsmaeder/message-rpc/buffer"
	"github.com/tsmaeder/message-rpc/mux"
	"github.com/tsmaeder/message-rpc/rpcmsg"
	"github.com/tsmaeder/message-rpc/value"
)

// Server answers inbound Request and Notification frames on every channel a
// peer opens, dispatching by method name through a ServeMux. It discovers
// channels passively via Mux.OnOpenChannel rather than a separate accept
// step, since the substrate has none.
type Server struct {
	mx    *mux.Mux
	mux   *ServeMux
	codec *value.Codec
}

// NewServer attaches to m and answers calls routed through svcMux. If codec
// is nil, value.NewCodec() is used.
func NewServer(m *mux.Mux, svcMux *ServeMux, codec *value.Codec) *Server {
	if codec == nil {
		codec = value.NewCodec()
	}
	s := &Server{mx: m, mux: svcMux, codec: codec}
	m.OnOpenChannel(s.attach)
	return s
}

func (s *Server) attach(ch *mux.Channel) {
	ch.OnMessage(func(r *buffer.ReadBuffer) {
		s.handle(ch, r)
	})
}

func (s *Server) handle(ch *mux.Channel, r *buffer.ReadBuffer) {
	msg, err := rpcmsg.Decode(r, s.codec)
	if err != nil {
		log.Printf("rpc: decode: %v", err)
		return
	}

	switch msg.Type {
	case rpcmsg.Request:
		result, err := s.dispatch(msg.Method, msg.Args)
		var reply *rpcmsg.Message
		if err != nil {
			reply = &rpcmsg.Message{Type: rpcmsg.ReplyError, ID: msg.ID, Err: toRemoteError(err)}
		} else {
			reply = &rpcmsg.Message{Type: rpcmsg.Reply, ID: msg.ID, Result: result}
		}
		if err := s.send(ch, reply); err != nil {
			log.Printf("rpc: reply: %v", err)
		}
	case rpcmsg.Notification:
		if _, err := s.dispatch(msg.Method, msg.Args); err != nil {
			log.Printf("rpc: notification %q: %v", msg.Method, err)
		}
	case rpcmsg.Cancel:
		// No in-flight call bookkeeping on the server side to cancel; a
		// Request already dispatched runs to completion.
	default:
		log.Printf("rpc: unexpected message type %v from peer", msg.Type)
	}
}

func (s *Server) dispatch(method string, args []interface{}) (interface{}, error) {
	h, ok := s.mux.Lookup(method)
	if !ok {
		return nil, &rpcmsg.RemoteError{Name: "NotFound", Message: "rpc: no such method " + method}
	}
	return h.Serve(args)
}

func (s *Server) send(ch *mux.Channel, msg *rpcmsg.Message) error {
	w := ch.WriteBuffer()
	if err := rpcmsg.Encode(w, s.codec, msg); err != nil {
		return err
	}
	return w.Commit()
}

func toRemoteError(err error) *rpcmsg.RemoteError {
	if re, ok := err.(*rpcmsg.RemoteError); ok {
		return re
	}
	return &rpcmsg.RemoteError{Message: err.Error()}
}
