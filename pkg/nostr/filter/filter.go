// Package filter implements Nostr REQ filters: the query shape a client
// sends to ask a relay for events, and the matching predicate relays and
// local code both use to test a candidate event against it.
package filter

import (
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

// TagMap holds the single-letter tag filters (#e, #p, ...) keyed by the
// letter alone, e.g. "e" for an #e filter.
type TagMap map[string][]string

// T is a filter: every non-nil IDs/Authors/Kinds/Tags/Since/Until field
// narrows the set of events that Matches accepts, and a relay REQ is the
// conjunction of all of them. Limit and Search are sent to the relay but
// Matches does not check them.
type T struct {
	IDs     []string
	Authors []string
	Kinds   []kind.T
	Tags    TagMap
	Since   *timestamp.T
	Until   *timestamp.T
	Limit   int
	Search  string
}

func containsStr(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsKind(set []kind.T, v kind.T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsAny(t event.T, letter string, values []string) bool {
	for _, tg := range t.Tags {
		if tg.Key() != letter {
			continue
		}
		if containsStr(values, tg.Val()) {
			return true
		}
	}
	return false
}

// Matches reports whether ev satisfies every constraint set on f. A nil
// field never restricts the match.
func (f *T) Matches(ev *event.T) bool {
	if ev == nil {
		return false
	}
	if f.IDs != nil && !containsStr(f.IDs, ev.ID) {
		return false
	}
	if f.Kinds != nil && !containsKind(f.Kinds, ev.Kind) {
		return false
	}
	if f.Authors != nil && !containsStr(f.Authors, ev.PubKey) {
		return false
	}
	for letter, values := range f.Tags {
		if values != nil && !containsAny(*ev, letter, values) {
			return false
		}
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

// Clone returns a deep-enough copy of f suitable for mutating Until while
// paging without disturbing the caller's original filter.
func (f *T) Clone() *T {
	c := &T{
		Kinds:  append([]kind.T(nil), f.Kinds...),
		Limit:  f.Limit,
		Search: f.Search,
	}
	c.IDs = append([]string(nil), f.IDs...)
	c.Authors = append([]string(nil), f.Authors...)
	if f.Tags != nil {
		c.Tags = make(TagMap, len(f.Tags))
		for k, v := range f.Tags {
			c.Tags[k] = append([]string(nil), v...)
		}
	}
	if f.Since != nil {
		s := *f.Since
		c.Since = &s
	}
	if f.Until != nil {
		u := *f.Until
		c.Until = &u
	}
	return c
}
