package collector

import (
	"context"

	"github.com/rs/zerolog"
	"lukechampine.com/frand"

	"github.com/nostrhub/relaycore/pkg/client"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/filter"
	"github.com/nostrhub/relaycore/pkg/nostr/kind"
)

// MultiClient fetches across a set of source connections, trying each in
// shuffled order so repeated runs don't hammer the same relay first every
// time. Grounded on the teacher's pkg/nostr/pool.Simple, which also keeps
// one cached connection per URL and shuffles candidate order.
type MultiClient struct {
	clients []*client.Conn
}

// NewMultiClient wraps the given connections for fan-out queries.
func NewMultiClient(clients []*client.Conn) *MultiClient {
	return &MultiClient{clients: clients}
}

func (m *MultiClient) shuffled() []*client.Conn {
	out := make([]*client.Conn, len(m.clients))
	copy(out, m.clients)
	frand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// GetEvents queries {ids: remaining} across clients in shuffled order,
// removing discovered ids from the remaining set as they're found, and
// stops once remaining is empty or every client has been tried. A single
// client's failure is logged and skipped, never fatal.
func (m *MultiClient) GetEvents(ctx context.Context, log zerolog.Logger, ids []string) map[string]*event.T {
	found := make(map[string]*event.T, len(ids))
	remaining := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		remaining[id] = struct{}{}
	}

	for _, c := range m.shuffled() {
		if len(remaining) == 0 {
			break
		}
		want := make([]string, 0, len(remaining))
		for id := range remaining {
			want = append(want, id)
		}
		evs, err := c.QuerySimple(ctx, &filter.T{IDs: want, Limit: len(want)})
		if err != nil {
			log.Warn().Err(err).Str("relay", c.URL).Msg("getEvents: query failed, skipping relay")
			continue
		}
		for _, ev := range evs {
			if _, ok := remaining[ev.ID]; ok {
				found[ev.ID] = ev
				delete(remaining, ev.ID)
			}
		}
	}
	return found
}

// GetProfile returns the first non-nil kind-0 event for pubkey found
// across clients in shuffled order.
func (m *MultiClient) GetProfile(ctx context.Context, log zerolog.Logger, pubkey string) *event.T {
	for _, c := range m.shuffled() {
		ev, err := c.QueryOne(ctx, &filter.T{Authors: []string{pubkey}, Kinds: []kind.T{kind.Metadata}})
		if err != nil {
			log.Warn().Err(err).Str("relay", c.URL).Msg("getProfile: query failed, skipping relay")
			continue
		}
		if ev != nil {
			return ev
		}
	}
	return nil
}
