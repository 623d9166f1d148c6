// Package collector implements the multi-relay replication pipeline of
// spec.md §4.7: seed a destination relay with one profile's metadata,
// follow list, own events, and every event/profile they reference, pulling
// from a set of source relays and skipping whatever a single flaky source
// can't supply.
package collector

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v2"
	"github.com/rs/zerolog"

	"github.com/nostrhub/relaycore/pkg/client"
	"github.com/nostrhub/relaycore/pkg/config"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/filter"
	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

// eventRefChunkSize is the maximum number of ids a single event-ref REQ
// carries, per spec.md §4.7 ("chunks of up to 50 ids").
const eventRefChunkSize = 50

// eventRefParallelism/profileRefParallelism are the bounded fan-out widths
// for phases 4 and 5. Profile refs are fetched one at a time because some
// relays reject concurrent requests from the same connection.
const (
	eventRefParallelism   = 3
	profileRefParallelism = 1
)

// Collector replicates one profile's events from a set of source relays to
// a destination relay. Created per destination profile, per spec.md §4.7.
type Collector struct {
	profile config.ResolvedProfile
	limit   int
	log     zerolog.Logger

	destURL string
	destMu  sync.Mutex
	dest    *client.Conn

	sourcesMu sync.Mutex
	sources   map[string]*client.Conn

	copiedEvents   *xsync.MapOf[string, struct{}]
	copiedProfiles *xsync.MapOf[string, timestamp.T]
}

// New creates a Collector for the resolved profile. limit bounds how many
// events are pulled per source relay in phases 2 and 3; limit<=0 means no
// REQ-level limit is sent.
func New(rp config.ResolvedProfile, limit int, log zerolog.Logger) *Collector {
	return &Collector{
		profile:        rp,
		limit:          limit,
		log:            log,
		destURL:        rp.Destination,
		sources:        make(map[string]*client.Conn, len(rp.SourceRelays)),
		copiedEvents:   xsync.NewMapOf[struct{}](),
		copiedProfiles: xsync.NewMapOf[timestamp.T](),
	}
}

// connectedSources returns connections for every source relay that could be
// reached, logging and skipping the rest, per spec.md §4.7's client-caching
// rule: a cached connection found closed is discarded and re-dialed.
func (co *Collector) connectedSources(ctx context.Context) []*client.Conn {
	co.sourcesMu.Lock()
	defer co.sourcesMu.Unlock()

	out := make([]*client.Conn, 0, len(co.profile.SourceRelays))
	for _, url := range co.profile.SourceRelays {
		if c, ok := co.sources[url]; ok {
			if c.State() == client.StateOpen {
				out = append(out, c)
				continue
			}
			delete(co.sources, url)
		}
		c, err := client.Connect(ctx, url, nil, client.WithLogger(co.log))
		if fails(err) {
			co.log.Warn().Err(err).Str("relay", url).Msg("collector: source unreachable, skipping")
			continue
		}
		co.sources[url] = c
		out = append(out, c)
	}
	return out
}

func (co *Collector) destination(ctx context.Context) (*client.Conn, error) {
	co.destMu.Lock()
	defer co.destMu.Unlock()
	if co.dest != nil && co.dest.State() == client.StateOpen {
		return co.dest, nil
	}
	c, err := client.Connect(ctx, co.destURL, nil, client.WithLogger(co.log))
	if fails(err) {
		return nil, err
	}
	co.dest = c
	return c, nil
}

// multiClient wraps the currently-connected sources for ref fan-out.
func (co *Collector) multiClient(ctx context.Context) *MultiClient {
	return NewMultiClient(co.connectedSources(ctx))
}

// markCopied records id as submitted BEFORE the publish attempt, guarding
// against a concurrent publisher racing on the same id (spec.md §4.7's
// dedup-state ordering requirement). It reports whether id was newly
// recorded (false means some goroutine already claimed it).
func (co *Collector) markCopied(id string) bool {
	_, loaded := co.copiedEvents.LoadOrStore(id, struct{}{})
	return !loaded
}

// copyEvent publishes ev to the destination and records its refs under o,
// skipping the publish if another goroutine already claimed ev.ID.
func (co *Collector) copyEvent(ctx context.Context, dest *client.Conn, ev *event.T, refs *refSet, o origin) {
	if !co.markCopied(ev.ID) {
		return
	}
	res := dest.TryPublish(ctx, ev)
	if res.HadError {
		co.log.Warn().Str("event", ev.ID).Msg("collector: publish failed")
		return
	}
	refs.add(o, extractRefs(ev))
}

// Run executes the five-phase replication pipeline against the profile's
// destination and source relays.
func (co *Collector) Run(ctx context.Context) error {
	dest, err := co.destination(ctx)
	if fails(err) {
		return err
	}
	refs := newRefSet()

	co.seed(ctx, dest)

	if co.profile.FetchMine {
		co.ownEvents(ctx, dest, refs)
	}
	if co.profile.FetchFollows {
		co.follows(ctx, dest, refs)
	}
	if co.profile.FetchMyRefs {
		co.eventRefs(ctx, dest, refs, originMine)
		co.profileRefs(ctx, dest, refs, originMine)
	}
	if co.profile.FetchFollowsRefs {
		co.eventRefs(ctx, dest, refs, originFollows)
		co.profileRefs(ctx, dest, refs, originFollows)
	}
	return nil
}

// seed copies the profile owner's kind-0 and kind-3 events from any
// reachable source, per phase 1.
func (co *Collector) seed(ctx context.Context, dest *client.Conn) {
	mc := co.multiClient(ctx)
	if ev := mc.GetProfile(ctx, co.log, co.profile.PubKey); ev != nil {
		_ = dest.TryPublish(ctx, ev)
	}
	for _, c := range mc.shuffled() {
		ev, err := c.QueryOne(ctx, &filter.T{Authors: []string{co.profile.PubKey}, Kinds: []kind.T{kind.FollowList}})
		if fails(err) || ev == nil {
			continue
		}
		_ = dest.TryPublish(ctx, ev)
		return
	}
}

// ownEvents queries up to the configured limit of events authored by the
// profile owner from each source relay and copies them, per phase 2.
func (co *Collector) ownEvents(ctx context.Context, dest *client.Conn, refs *refSet) {
	co.copyAuthoredBy(ctx, dest, refs, co.profile.PubKey, originMine)
}

// follows reads the destination's latest kind-3 event for the profile owner
// and copies each followed pubkey's events, per phase 3.
func (co *Collector) follows(ctx context.Context, dest *client.Conn, refs *refSet) {
	latest, err := dest.QueryOne(ctx, &filter.T{Authors: []string{co.profile.PubKey}, Kinds: []kind.T{kind.FollowList}})
	if fails(err) || latest == nil {
		return
	}
	for _, t := range latest.Tags {
		if t.Key() != "p" {
			continue
		}
		if pk := t.Val(); pk != "" {
			co.copyAuthoredBy(ctx, dest, refs, pk, originFollows)
		}
	}
}

func (co *Collector) copyAuthoredBy(ctx context.Context, dest *client.Conn, refs *refSet, pubkey string, o origin) {
	for _, c := range co.connectedSources(ctx) {
		evs, err := c.QuerySimple(ctx, &filter.T{Authors: []string{pubkey}, Limit: co.limit})
		if fails(err) {
			co.log.Warn().Err(err).Str("relay", c.URL).Str("pubkey", pubkey).Msg("collector: authored-by query failed, skipping relay")
			continue
		}
		for _, ev := range evs {
			co.copyEvent(ctx, dest, ev, refs, o)
		}
	}
}

// eventRefs fetches every event id recorded under o not yet copied, in
// chunks of up to 50, with bounded parallelism of 3, per phase 4.
func (co *Collector) eventRefs(ctx context.Context, dest *client.Conn, refs *refSet, o origin) {
	pending := refs.pendingEventIDs(o, co.copiedEvents)
	if len(pending) == 0 {
		return
	}
	chunks := chunkStrings(pending, eventRefChunkSize)

	var wg sync.WaitGroup
	sem := make(chan struct{}, eventRefParallelism)
	for _, chunk := range chunks {
		wg.Add(1)
		sem <- struct{}{}
		go func(ids []string) {
			defer wg.Done()
			defer func() { <-sem }()
			mc := co.multiClient(ctx)
			found := mc.GetEvents(ctx, co.log, ids)
			for _, ev := range found {
				co.copyEvent(ctx, dest, ev, refs, o)
			}
		}(chunk)
	}
	wg.Wait()
}

// profileRefs fetches every pubkey recorded under o not yet copied, one at
// a time, per phase 5.
func (co *Collector) profileRefs(ctx context.Context, dest *client.Conn, refs *refSet, o origin) {
	for _, pk := range refs.pendingPubKeys(o, co.copiedProfiles) {
		mc := co.multiClient(ctx)
		ev := mc.GetProfile(ctx, co.log, pk)
		if ev == nil {
			continue
		}
		if prev, ok := co.copiedProfiles.Load(pk); ok && prev >= ev.CreatedAt {
			continue
		}
		co.copiedProfiles.Store(pk, ev.CreatedAt)
		_ = dest.TryPublish(ctx, ev)
	}
}

func chunkStrings(in []string, size int) [][]string {
	var out [][]string
	for len(in) > 0 {
		n := size
		if n > len(in) {
			n = len(in)
		}
		out = append(out, in[:n])
		in = in[n:]
	}
	return out
}

func fails(err error) bool { return err != nil }
