package client

import (
	"context"
	"strings"

	"github.com/nostrhub/relaycore/pkg/async"
	"github.com/nostrhub/relaycore/pkg/nostr/envelope"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
)

// PublishResult is the outcome of a successful Publish: the relay accepted
// the event outright, or rejected it as a duplicate (which this core
// treats as success per the relay quirk in spec.md §4.6).
type PublishResult struct {
	IsDuplicate bool
}

// Publish sends ev and awaits the relay's OK response naming its id.
//
//   - accepted=true -> success (IsDuplicate = message starts with "duplicate:").
//   - accepted=false AND message starts with "duplicate:" -> success,
//     IsDuplicate=true (some relays answer false for duplicates).
//   - accepted=false otherwise -> PublishRejectedError.
//   - connection closes before OK arrives -> ErrConnectionClosed.
func (c *Conn) Publish(ctx context.Context, ev *event.T) (PublishResult, error) {
	if c.State() != StateOpen {
		return PublishResult{}, ErrConnectionNotOpen
	}
	fut := async.NewFuture[okResult]()
	c.okFutures.Store(ev.ID, fut)
	defer c.okFutures.Delete(ev.ID)

	if err := c.send((&envelope.EventEnvelope{Event: ev}).Encode()); fails(err) {
		return PublishResult{}, err
	}

	select {
	case <-fut.Done():
		res, err := fut.Wait()
		if fails(err) {
			return PublishResult{}, err
		}
		isDup := strings.HasPrefix(res.message, "duplicate:")
		if res.ok || isDup {
			return PublishResult{IsDuplicate: isDup}, nil
		}
		return PublishResult{}, &PublishRejectedError{Message: res.message}
	case <-ctx.Done():
		return PublishResult{}, ctx.Err()
	}
}

// TryPublishResult is Publish's outcome flattened into booleans so callers
// never need to unwrap an error.
type TryPublishResult struct {
	Published   bool
	IsDuplicate bool
	HadError    bool
}

// TryPublish wraps Publish to never return an error.
func (c *Conn) TryPublish(ctx context.Context, ev *event.T) TryPublishResult {
	res, err := c.Publish(ctx, ev)
	if fails(err) {
		return TryPublishResult{HadError: true}
	}
	return TryPublishResult{Published: true, IsDuplicate: res.IsDuplicate}
}
