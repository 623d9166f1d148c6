package collector

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

// origin tracks which phase discovered a ref, so phase 4/5 fan-out can be
// gated per spec.md §4.7/§6's independently-controllable fetchMyRefs and
// fetchFollowsRefs flags: a ref found on an event authored by the profile
// owner (phase 2) must only be followed when fetchMyRefs is set, and a ref
// found on a follow's event (phase 3) must only be followed when
// fetchFollowsRefs is set.
type origin int

const (
	originMine origin = iota
	originFollows
)

// refs is the set of references an event's tags yield per spec.md §4.7: an
// a-tag (parameterized replaceable events) is explicitly out of scope.
type refs struct {
	EventIDs []string
	PubKeys  []string
}

// extractRefs scans ev's e/p tags and always includes the author as a
// profile ref.
func extractRefs(ev *event.T) refs {
	r := refs{PubKeys: []string{ev.PubKey}}
	for _, t := range ev.Tags {
		switch t.Key() {
		case "e":
			if id := t.Val(); id != "" {
				r.EventIDs = append(r.EventIDs, id)
			}
		case "p":
			if pk := t.Val(); pk != "" {
				r.PubKeys = append(r.PubKeys, pk)
			}
		}
	}
	return r
}

// refSet accumulates event ids and pubkeys seen across a Run, keyed by the
// origin of the event that referenced them, for the fan-out phases (4 and
// 5) to consume per-origin once the earlier phases are done adding to it.
type refSet struct {
	mu       sync.Mutex
	eventIDs map[origin]map[string]struct{}
	pubKeys  map[origin]map[string]struct{}
}

func newRefSet() *refSet {
	return &refSet{
		eventIDs: map[origin]map[string]struct{}{
			originMine:    make(map[string]struct{}),
			originFollows: make(map[string]struct{}),
		},
		pubKeys: map[origin]map[string]struct{}{
			originMine:    make(map[string]struct{}),
			originFollows: make(map[string]struct{}),
		},
	}
}

func (s *refSet) add(o origin, r refs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range r.EventIDs {
		s.eventIDs[o][id] = struct{}{}
	}
	for _, pk := range r.PubKeys {
		s.pubKeys[o][pk] = struct{}{}
	}
}

// pendingEventIDs returns every event id recorded under o not present in
// copied.
func (s *refSet) pendingEventIDs(o origin, copied *xsync.MapOf[string, struct{}]) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.eventIDs[o]
	out := make([]string, 0, len(set))
	for id := range set {
		if _, ok := copied.Load(id); !ok {
			out = append(out, id)
		}
	}
	return out
}

// pendingPubKeys returns every pubkey recorded under o not yet present in
// copied.
func (s *refSet) pendingPubKeys(o origin, copied *xsync.MapOf[string, timestamp.T]) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.pubKeys[o]
	out := make([]string, 0, len(set))
	for pk := range set {
		if _, ok := copied.Load(pk); !ok {
			out = append(out, pk)
		}
	}
	return out
}
