// Package subscriptionid generates the short opaque ids a client attaches
// to REQ/COUNT/CLOSE envelopes to multiplex subscriptions over one
// connection, matching spec.md §4.1's requirement that ids be unique
// within a connection's lifetime.
package subscriptionid

import (
	"fmt"
	"sync/atomic"

	"lukechampine.com/frand"
)

// T is a subscription id as sent on the wire.
type T string

var counter atomic.Uint32

// New returns a fresh subscription id: a 4-byte random prefix plus a
// monotonic counter, so ids stay unique even across reconnects within the
// same process.
func New() T {
	var rnd [4]byte
	frand.Read(rnd[:])
	n := counter.Add(1)
	return T(fmt.Sprintf("%x-%d", rnd, n))
}

func (t T) String() string { return string(t) }
