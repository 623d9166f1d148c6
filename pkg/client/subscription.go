package client

import (
	"sync"

	"github.com/nostrhub/relaycore/pkg/async"
	"github.com/nostrhub/relaycore/pkg/nostr/envelope"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/filter"
	"github.com/nostrhub/relaycore/pkg/nostr/subscriptionid"
)

// QueryMessage is one item delivered on a Subscription's stream: either an
// Event, or an EOSE marker signaling the stored portion of the query is
// complete and only live events will follow.
type QueryMessage struct {
	Event *event.T
	EOSE  bool
}

// Subscription is a live REQ registered with a Conn. Its internal channel
// is unbounded (pkg/async.Chan), so a slow consumer grows memory rather
// than dropping events or blocking the connection's single reader.
type Subscription struct {
	id      subscriptionid.T
	conn    *Conn
	Filters []*filter.T

	events    *async.Chan[QueryMessage]
	closeOnce sync.Once

	// ClosedReason holds the relay's message if this subscription ended via
	// a CLOSED frame rather than a local Close call.
	ClosedReason string
}

// ID returns the subscription's wire id.
func (s *Subscription) ID() subscriptionid.T { return s.id }

func (s *Subscription) dispatchEvent(ev *event.T) {
	_ = s.events.Send(QueryMessage{Event: ev})
}

func (s *Subscription) dispatchEOSE() {
	_ = s.events.Send(QueryMessage{EOSE: true})
}

// dispatchClosed is called when the relay sends CLOSED for this
// subscription, or the connection itself is torn down; either way the
// subscription is already (or about to be) removed from the registry, so
// this only needs to release the channel.
func (s *Subscription) dispatchClosed(reason string) {
	s.ClosedReason = reason
	s.closeOnce.Do(func() { s.events.Close() })
}

// Recv blocks for the next QueryMessage. ok is false once the stream has
// ended (EOSE-then-drain of a closed subscription, CLOSED, or connection
// close).
func (s *Subscription) Recv() (QueryMessage, bool) {
	return s.events.Recv()
}

// Close unregisters the subscription and sends CLOSE to the relay (unless
// the connection is already gone or the relay already ended it with
// CLOSED), then releases the channel. Idempotent: only the call that
// removes the subscription from the registry sends CLOSE.
func (s *Subscription) Close() error {
	_, registered := s.conn.subs.LoadAndDelete(string(s.id))
	var sendErr error
	if registered && s.conn.State() == StateOpen {
		sendErr = s.conn.send((&envelope.CloseEnvelope{SubscriptionID: s.id}).Encode())
	}
	s.closeOnce.Do(func() { s.events.Close() })
	return sendErr
}

// Query allocates a subscription, registers it, sends REQ, and returns it
// for the caller to Recv from. Dropping the result without calling Close
// leaks the relay-side subscription until the connection closes.
func (c *Conn) Query(f *filter.T, filters ...*filter.T) (*Subscription, error) {
	if c.State() != StateOpen {
		return nil, ErrConnectionNotOpen
	}
	all := append([]*filter.T{f}, filters...)
	sub := &Subscription{
		id:      subscriptionid.New(),
		conn:    c,
		Filters: all,
		events:  async.NewChan[QueryMessage](),
	}
	c.subCounter.Add(1)
	c.subs.Store(string(sub.id), sub)

	if err := c.send((&envelope.ReqEnvelope{SubscriptionID: sub.id, Filters: all}).Encode()); fails(err) {
		c.subs.Delete(string(sub.id))
		return nil, err
	}
	return sub, nil
}
