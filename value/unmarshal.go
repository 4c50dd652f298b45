package value

import (
	"github.com/mitchellh/mapstructure"
)

// Unmarshal decodes a decoded Record value (a map[string]interface{}) into
// out, a pointer to a Go struct, by field-name matching. It is a convenience
// layered on top of the wire codec for callers who don't want to walk
// map[string]interface{} by hand, the same role mapstructure plays when
// binding RPC arguments to handler parameters.
func Unmarshal(v interface{}, out interface{}) error {
	return mapstructure.Decode(v, out)
}
