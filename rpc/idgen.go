// Package rpc provides a client/server convenience layer over rpcmsg and
// mux: call-id allocation, a pending-reply map for Client.Call, and a
// method-name dispatcher for Server, built on reflection and mapstructure
// to bind RPC arguments to Go function parameters.
package rpc

import (
	"sync/atomic"
)

// IDGenerator allocates call ids for Request/Notification/Cancel frames.
// It is swappable but the substrate never mandates a particular policy.
type IDGenerator interface {
	Next() int32
}

// counterIDGenerator is the default IDGenerator: a monotonically
// increasing, wraparound-free-for-practical-purposes counter.
type counterIDGenerator struct {
	n int32
}

// NewCounterIDGenerator returns the default monotonic IDGenerator.
func NewCounterIDGenerator() IDGenerator {
	return &counterIDGenerator{}
}

func (g *counterIDGenerator) Next() int32 {
	return atomic.AddInt32(&g.n, 1)
}
