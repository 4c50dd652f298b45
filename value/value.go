// Package value implements the tag-dispatched typed-value codec: a
// self-describing encoding for JSON-representable scalars and aggregates,
// raw byte arrays, records, heterogeneous arrays, and the distinguished
// absent value.
package value

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/tsmaeder/message-rpc/buffer"
)

// Reserved wire tags.
const (
	TagJSON   int32 = 0
	TagBytes  int32 = 1
	TagArray  int32 = 2
	TagAbsent int32 = 3
	TagRecord int32 = 4
)

// Absent is the distinguished "no value", distinct from any scalar,
// transported on the wire as tag 3.
type Absent struct{}

// None is the canonical Absent value.
var None = Absent{}

// EncodeFunc recursively encodes a nested value; it is handed to custom
// encoder writers registered via RegisterEncoder.
type EncodeFunc func(w *buffer.WriteBuffer, v interface{}) error

// DecodeFunc recursively decodes a nested value; it is handed to custom
// decoder readers registered via RegisterDecoder.
type DecodeFunc func(r *buffer.ReadBuffer) (interface{}, error)

type encoderEntry struct {
	tag       int32
	predicate func(interface{}) bool
	write     func(w *buffer.WriteBuffer, v interface{}, encode EncodeFunc) error
}

// ProtocolError reports a contract violation in codec registration, such as
// a duplicate tag.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return "value: " + e.msg }

// Codec holds the extensible encoder and decoder registries used to
// serialize and parse typed values. The zero Codec is not usable; use
// NewCodec.
type Codec struct {
	// encoders is ordered by registration; encoding consults it in
	// reverse, so the most recently registered predicate wins and the
	// first-registered JSON fallback is tried last.
	encoders []encoderEntry
	decoders map[int32]func(r *buffer.ReadBuffer, decode DecodeFunc) (interface{}, error)
	tagsUsed map[int32]bool
}

// NewCodec returns a Codec with the five reserved tags registered: JSON
// fallback, raw bytes, array, absent, and record.
func NewCodec() *Codec {
	c := &Codec{
		decoders: make(map[int32]func(*buffer.ReadBuffer, DecodeFunc) (interface{}, error)),
		tagsUsed: make(map[int32]bool),
	}
	c.registerDefaults()
	return c
}

func (c *Codec) registerDefaults() {
	// Registered first, so it is the fallback consulted last.
	c.RegisterEncoder(TagJSON, func(interface{}) bool { return true }, encodeJSON)
	c.RegisterDecoder(TagJSON, decodeJSON)

	c.RegisterEncoder(TagBytes, func(v interface{}) bool {
		_, ok := v.([]byte)
		return ok
	}, encodeBytes)
	c.RegisterDecoder(TagBytes, decodeBytes)

	c.RegisterEncoder(TagArray, func(v interface{}) bool {
		_, ok := v.([]interface{})
		return ok
	}, encodeArray)
	c.RegisterDecoder(TagArray, decodeArray)

	c.RegisterEncoder(TagAbsent, func(v interface{}) bool {
		_, ok := v.(Absent)
		return ok
	}, encodeAbsent)
	c.RegisterDecoder(TagAbsent, decodeAbsent)

	c.RegisterEncoder(TagRecord, func(v interface{}) bool {
		_, ok := v.(map[string]interface{})
		return ok
	}, encodeRecord)
	c.RegisterDecoder(TagRecord, decodeRecord)
}

// RegisterEncoder adds a new (tag, predicate, writer) trio. Encoding
// consults encoders in reverse registration order, so encoders registered
// later take precedence over earlier ones. Registering an already-used tag
// is a contract violation and returns a *ProtocolError.
func (c *Codec) RegisterEncoder(tag int32, predicate func(interface{}) bool, write func(w *buffer.WriteBuffer, v interface{}, encode EncodeFunc) error) error {
	if c.tagsUsed[tag] {
		return &ProtocolError{msg: fmt.Sprintf("duplicate encoder tag %d", tag)}
	}
	c.tagsUsed[tag] = true
	c.encoders = append(c.encoders, encoderEntry{tag: tag, predicate: predicate, write: write})
	return nil
}

// RegisterDecoder adds a reader for tag. Registering an already-used tag is
// a contract violation and returns a *ProtocolError.
func (c *Codec) RegisterDecoder(tag int32, read func(r *buffer.ReadBuffer, decode DecodeFunc) (interface{}, error)) error {
	if _, exists := c.decoders[tag]; exists {
		return &ProtocolError{msg: fmt.Sprintf("duplicate decoder tag %d", tag)}
	}
	c.decoders[tag] = read
	return nil
}

// Encode writes v as tag:int32 followed by its tag-specific payload,
// selecting the first encoder (scanned in reverse registration order) whose
// predicate accepts v.
func (c *Codec) Encode(w *buffer.WriteBuffer, v interface{}) error {
	for i := len(c.encoders) - 1; i >= 0; i-- {
		e := c.encoders[i]
		if e.predicate(v) {
			w.WriteInt(uint32(e.tag))
			return e.write(w, v, c.Encode)
		}
	}
	return fmt.Errorf("value: no encoder accepted %T", v)
}

// Decode reads a tag:int32 and dispatches to the matching decoder. An
// unknown tag is a fatal parse error.
func (c *Codec) Decode(r *buffer.ReadBuffer) (interface{}, error) {
	tag, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	read, ok := c.decoders[int32(tag)]
	if !ok {
		return nil, fmt.Errorf("value: unknown tag %d", tag)
	}
	return read(r, c.Decode)
}

func encodeJSON(w *buffer.WriteBuffer, v interface{}, _ EncodeFunc) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("value: json fallback: %w", err)
	}
	w.WriteString(string(b))
	return nil
}

func decodeJSON(r *buffer.ReadBuffer, _ DecodeFunc) (interface{}, error) {
	s, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("value: json fallback: %w", err)
	}
	return v, nil
}

func encodeBytes(w *buffer.WriteBuffer, v interface{}, _ EncodeFunc) error {
	b := v.([]byte)
	w.WriteBytes(b)
	return nil
}

func decodeBytes(r *buffer.ReadBuffer, _ DecodeFunc) (interface{}, error) {
	return r.ReadBytes()
}

func encodeArray(w *buffer.WriteBuffer, v interface{}, encode EncodeFunc) error {
	arr := v.([]interface{})
	w.WriteInt(uint32(len(arr)))
	for _, el := range arr {
		if err := encode(w, el); err != nil {
			return err
		}
	}
	return nil
}

func decodeArray(r *buffer.ReadBuffer, decode DecodeFunc) (interface{}, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	arr := make([]interface{}, n)
	for i := range arr {
		v, err := decode(r)
		if err != nil {
			return nil, err
		}
		arr[i] = v
	}
	return arr, nil
}

func encodeAbsent(_ *buffer.WriteBuffer, _ interface{}, _ EncodeFunc) error {
	return nil
}

func decodeAbsent(_ *buffer.ReadBuffer, _ DecodeFunc) (interface{}, error) {
	return None, nil
}

// isCallable reports whether v is a function of any signature, which
// records cannot carry.
func isCallable(v interface{}) bool {
	if v == nil {
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Func
}

func encodeRecord(w *buffer.WriteBuffer, v interface{}, encode EncodeFunc) error {
	rec := v.(map[string]interface{})
	keys := make([]string, 0, len(rec))
	for k, fv := range rec {
		if isCallable(fv) {
			continue
		}
		keys = append(keys, k)
	}
	w.WriteInt(uint32(len(keys)))
	for _, k := range keys {
		w.WriteString(k)
		if err := encode(w, rec[k]); err != nil {
			return err
		}
	}
	return nil
}

func decodeRecord(r *buffer.ReadBuffer, decode DecodeFunc) (interface{}, error) {
	n, err := r.ReadInt()
	if err != nil {
		return nil, err
	}
	rec := make(map[string]interface{}, n)
	for i := uint32(0); i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := decode(r)
		if err != nil {
			return nil, err
		}
		rec[k] = v
	}
	return rec, nil
}

// NormalizeArgs substitutes any JSON-null element of args with None. It is
// applied to Request/Notification argument arrays so peers that distinguish
// absent from null stay in sync.
func NormalizeArgs(args []interface{}) []interface{} {
	for i, v := range args {
		if v == nil {
			args[i] = None
		}
	}
	return args
}
