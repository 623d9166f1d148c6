package client

import (
	"context"
	"math"

	"github.com/nostrhub/relaycore/pkg/async"
	"github.com/nostrhub/relaycore/pkg/nostr/envelope"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/filter"
	"github.com/nostrhub/relaycore/pkg/nostr/subscriptionid"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

// QuerySaved implements the paging contract of spec.md §4.5: it delivers
// every stored event matching f even when the relay imposes a lower
// per-REQ limit than requestedLimit. requestedLimit <= 0 means "no limit".
//
// The returned channel is closed when paging is exhausted, the limit is
// reached, or ctx is canceled. A single immediate error (e.g. the
// connection is not open) is returned directly instead of through the
// channel; per-page errors during paging stop the stream silently (logged).
func (c *Conn) QuerySaved(ctx context.Context, f *filter.T, requestedLimit int) (<-chan *event.T, error) {
	if c.State() != StateOpen {
		return nil, ErrConnectionNotOpen
	}
	if requestedLimit <= 0 {
		requestedLimit = math.MaxInt64
	}

	out := make(chan *event.T)
	go c.pageLoop(ctx, f.Clone(), requestedLimit, out)
	return out, nil
}

func (c *Conn) pageLoop(ctx context.Context, f *filter.T, requestedLimit int, out chan<- *event.T) {
	defer close(out)
	yielded := 0
	cur := f

	for {
		sub, err := c.Query(cur)
		if fails(err) {
			c.log.Error().Err(err).Msg("querySaved: REQ failed")
			return
		}

		var minCreated timestamp.T
		first := true
		count := 0
		hitLimit := false

	batch:
		for {
			msg, ok := sub.Recv()
			if !ok {
				break batch
			}
			if msg.EOSE {
				break batch
			}

			ev := msg.Event
			count++
			if first || ev.CreatedAt < minCreated {
				minCreated = ev.CreatedAt
				first = false
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				_ = sub.Close()
				return
			}
			yielded++
			if yielded >= requestedLimit {
				hitLimit = true
				c.log.Warn().Int("yielded", yielded).Int("requestedLimit", requestedLimit).Msg("querySaved: requestedLimit reached, stopping")
				break batch
			}
		}
		_ = sub.Close()

		if hitLimit || count <= 1 {
			return
		}
		until := minCreated - 1
		cur = cur.Clone()
		cur.Until = &until
	}
}

// QueryOne returns the single most relevant stored event matching f, or
// nil if none match.
func (c *Conn) QueryOne(ctx context.Context, f *filter.T) (*event.T, error) {
	f1 := f.Clone()
	f1.Limit = 1
	ch, err := c.QuerySaved(ctx, f1, 1)
	if fails(err) {
		return nil, err
	}
	ev, ok := <-ch
	if !ok {
		return nil, nil
	}
	return ev, nil
}

// QuerySimple collects QuerySaved's full result into a slice.
func (c *Conn) QuerySimple(ctx context.Context, f *filter.T) ([]*event.T, error) {
	ch, err := c.QuerySaved(ctx, f, 0)
	if fails(err) {
		return nil, err
	}
	var out []*event.T
	for ev := range ch {
		out = append(out, ev)
	}
	return out, nil
}

// QueryCount issues COUNT and returns the first COUNT response's numeric
// count. Fails with ErrProtocolError if the relay ends the subscription
// with CLOSED before sending one, and with ErrConnectionClosed if the
// connection closes first. Callers should gate this call on the relay's
// NIP-11 supported_nips containing 45.
func (c *Conn) QueryCount(ctx context.Context, filters ...*filter.T) (int64, error) {
	if c.State() != StateOpen {
		return 0, ErrConnectionNotOpen
	}
	sid := subscriptionid.New()
	fut := async.NewFuture[int64]()
	c.cntFuture.Store(string(sid), fut)
	defer c.cntFuture.Delete(string(sid))

	if err := c.send((&envelope.CountEnvelope{SubscriptionID: sid, Filters: filters}).Encode()); fails(err) {
		return 0, err
	}

	select {
	case <-fut.Done():
		return fut.Wait()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
