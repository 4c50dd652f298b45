// Package rpcmsg implements the thin RPC message frame layer above the
// typed-value codec: Request, Notification, Reply, ReplyError, and Cancel,
// each carrying a numeric call id.
package rpcmsg

import (
	"fmt"

	"github.com/tsmaeder/message-rpc/buffer"
	"github.com/tsmaeder/message-rpc/value"
)

// Type discriminates the five RPC message variants.
type Type byte

const (
	Request      Type = 1
	Notification Type = 2
	Reply        Type = 3
	ReplyError   Type = 4
	Cancel       Type = 5
)

func (t Type) String() string {
	switch t {
	case Request:
		return "Request"
	case Notification:
		return "Notification"
	case Reply:
		return "Reply"
	case ReplyError:
		return "ReplyError"
	case Cancel:
		return "Cancel"
	default:
		return fmt.Sprintf("Type(%d)", t)
	}
}

// RemoteError is a rehydrated application error carried on the wire as a
// Record with a marker flag plus name, message, and stack fields.
type RemoteError struct {
	Name    string
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	if e.Name != "" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}

// errorMarkerField is the record field that distinguishes a serialized
// RemoteError from an ordinary record.
const errorMarkerField = "$isError"

// NewErrorRecord turns err into the Record shape ReplyError expects on the
// wire.
func NewErrorRecord(err error) map[string]interface{} {
	re, ok := err.(*RemoteError)
	if !ok {
		re = &RemoteError{Message: err.Error()}
	}
	return map[string]interface{}{
		errorMarkerField: true,
		"name":           re.Name,
		"message":        re.Message,
		"stack":          re.Stack,
	}
}

func asRemoteError(v interface{}) (*RemoteError, bool) {
	rec, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	marker, _ := rec[errorMarkerField].(bool)
	if !marker {
		return nil, false
	}
	re := &RemoteError{}
	re.Name, _ = rec["name"].(string)
	re.Message, _ = rec["message"].(string)
	re.Stack, _ = rec["stack"].(string)
	return re, true
}

// Message is a tagged union of the five RPC message variants. Only the
// fields relevant to Type are meaningful.
type Message struct {
	Type Type
	ID   int32

	// Request, Notification
	Method string
	Args   []interface{}

	// Reply
	Result interface{}

	// ReplyError
	Err *RemoteError
}

// Encode writes msgType:byte | id:int32 | payload to w using codec for any
// typed-value payloads.
func Encode(w *buffer.WriteBuffer, codec *value.Codec, msg *Message) error {
	w.WriteByte(byte(msg.Type))
	w.WriteInt(uint32(msg.ID))

	switch msg.Type {
	case Request, Notification:
		w.WriteString(msg.Method)
		args := msg.Args
		if args == nil {
			args = []interface{}{}
		}
		return codec.Encode(w, toInterfaceSlice(args))
	case Reply:
		return codec.Encode(w, msg.Result)
	case ReplyError:
		var rec interface{}
		if msg.Err != nil {
			rec = NewErrorRecord(msg.Err)
		} else {
			rec = value.None
		}
		return codec.Encode(w, rec)
	case Cancel:
		return nil
	default:
		return fmt.Errorf("rpcmsg: unknown message type %d", msg.Type)
	}
}

func toInterfaceSlice(args []interface{}) interface{} {
	return []interface{}(args)
}

// Decode reads a leading type byte, dispatches to the matching parser, and
// yields a Message. Unknown types and truncated frames are surfaced as
// errors for the caller to log and discard.
func Decode(r *buffer.ReadBuffer, codec *value.Codec) (*Message, error) {
	tb, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("rpcmsg: read type: %w", err)
	}
	id, err := r.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("rpcmsg: read id: %w", err)
	}

	msg := &Message{Type: Type(tb), ID: int32(id)}

	switch msg.Type {
	case Request, Notification:
		method, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("rpcmsg: read method: %w", err)
		}
		msg.Method = method
		decoded, err := codec.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("rpcmsg: read args: %w", err)
		}
		args, _ := decoded.([]interface{})
		msg.Args = value.NormalizeArgs(args)
	case Reply:
		v, err := codec.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("rpcmsg: read result: %w", err)
		}
		msg.Result = v
	case ReplyError:
		v, err := codec.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("rpcmsg: read error: %w", err)
		}
		if re, ok := asRemoteError(v); ok {
			msg.Err = re
		} else {
			msg.Err = &RemoteError{Message: fmt.Sprintf("%v", v)}
		}
	case Cancel:
		// empty payload
	default:
		return nil, fmt.Errorf("rpcmsg: unknown message type %d", tb)
	}

	return msg, nil
}
