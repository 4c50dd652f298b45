package rpc

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// Handler answers one RPC call. A method name reaches a Handler already
// resolved by a ServeMux; the Handler only sees the arguments.
type Handler interface {
	Serve(args []interface{}) (interface{}, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(args []interface{}) (interface{}, error)

func (f HandlerFunc) Serve(args []interface{}) (interface{}, error) {
	return f(args)
}

// ServeMux dispatches by method name.
type ServeMux struct {
	handlers map[string]Handler
}

// NewServeMux returns an empty method-name dispatcher.
func NewServeMux() *ServeMux {
	return &ServeMux{handlers: make(map[string]Handler)}
}

// Handle registers h for method.
func (m *ServeMux) Handle(method string, h Handler) {
	m.handlers[method] = h
}

// HandleFunc registers fn for method.
func (m *ServeMux) HandleFunc(method string, fn func(args []interface{}) (interface{}, error)) {
	m.Handle(method, HandlerFunc(fn))
}

// Lookup returns the handler registered for method, if any. Server.dispatch
// resolves the method name through Lookup and calls the returned Handler
// directly; ServeMux does not itself implement Handler.
func (m *ServeMux) Lookup(method string) (Handler, bool) {
	h, ok := m.handlers[method]
	return h, ok
}

// HandlerFromFunc wraps an arbitrary Go function as a Handler using
// reflection: positional args are converted to the function's parameter
// types via convertArg (structs via mapstructure, slices recursively,
// numbers assuming JSON-like float64 decoding), and its return values are
// folded down to a single (interface{}, error) pair.
func HandlerFromFunc(fn interface{}) Handler {
	fnval := reflect.ValueOf(fn)
	fntyp := fnval.Type()
	if fntyp.Kind() != reflect.Func {
		panic("rpc: HandlerFromFunc requires a func")
	}
	return HandlerFunc(func(args []interface{}) (_ interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("rpc: handler panic: %v", p)
			}
		}()
		params, err := argsTo(fntyp, args)
		if err != nil {
			return nil, err
		}
		ret := fnval.Call(params)
		return parseReturn(ret)
	})
}

var errorInterface = reflect.TypeOf((*error)(nil)).Elem()

// argsTo converts args into reflect.Values suitable to call a function of
// type fntyp. Each argument is converted independently by convertArg, which
// recurses into slice elements rather than special-casing "slice of
// struct" at the top level the way a flat per-argument switch would.
func argsTo(fntyp reflect.Type, args []interface{}) ([]reflect.Value, error) {
	if len(args) != fntyp.NumIn() {
		return nil, fmt.Errorf("rpc: expected %d args, got %d", fntyp.NumIn(), len(args))
	}
	params := make([]reflect.Value, len(args))
	for idx, arg := range args {
		v, err := convertArg(arg, fntyp.In(idx))
		if err != nil {
			return nil, fmt.Errorf("rpc: arg %d: %w", idx, err)
		}
		params[idx] = v
	}
	return params, nil
}

// convertArg converts one decoded JSON-ish value (bool, float64, string,
// map[string]interface{}, []interface{}, or nil) into a reflect.Value
// assignable to t. Structs and nested struct slices go through
// mapstructure; everything else goes through ensureType's direct
// conversion, with slices recursing element-by-element through convertArg
// itself so arbitrarily nested shapes (e.g. a []Point, or a struct field
// that is itself a slice) are handled uniformly instead of one level deep.
func convertArg(arg interface{}, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Struct {
		return decodeStruct(arg, t)
	}
	if t.Kind() == reflect.Slice {
		return convertSlice(arg, t)
	}
	if isIntKind(t.Kind()) {
		f, ok := arg.(float64)
		if !ok {
			return reflect.Value{}, fmt.Errorf("expected number, got %T", arg)
		}
		return reflect.ValueOf(int(f)).Convert(t), nil
	}
	return ensureType(reflect.ValueOf(arg), t), nil
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}

func decodeStruct(arg interface{}, t reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(t)
	if err := mapstructure.Decode(arg, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("mapstructure: %w", err)
	}
	return ptr.Elem(), nil
}

func convertSlice(arg interface{}, t reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(arg)
	if !rv.IsValid() {
		return reflect.Zero(t), nil
	}
	elemType := t.Elem()
	out := reflect.MakeSlice(t, rv.Len(), rv.Len())
	for i := 0; i < rv.Len(); i++ {
		elem, err := convertArg(rv.Index(i).Interface(), elemType)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("index %d: %w", i, err)
		}
		out.Index(i).Set(elem)
	}
	return out, nil
}

// parseReturn folds a function's reflected return values down to a single
// result: zero values means (nil, nil), a trailing error means (nil, err)
// when non-nil or the preceding value otherwise, anything else is returned
// as-is (remaining values beyond the first are ignored).
func parseReturn(ret []reflect.Value) (interface{}, error) {
	if len(ret) == 0 {
		return nil, nil
	}
	last := ret[len(ret)-1]
	if last.Type().Implements(errorInterface) {
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
		if len(ret) == 1 {
			return nil, nil
		}
		return ret[0].Interface(), nil
	}
	return ret[0].Interface(), nil
}

// ensureType converts a scalar v to t when they're convertible but not
// identical (e.g. float64 -> float32, or a defined string type). Slices are
// never passed in here; convertArg routes those through convertSlice.
func ensureType(v reflect.Value, t reflect.Type) reflect.Value {
	if !v.IsValid() {
		return reflect.Zero(t)
	}
	if v.Type() == t {
		return v
	}
	return v.Convert(t)
}
