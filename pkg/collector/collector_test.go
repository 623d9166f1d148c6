package collector_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/nostrhub/relaycore/pkg/client"
	"github.com/nostrhub/relaycore/pkg/collector"
	"github.com/nostrhub/relaycore/pkg/config"
	"github.com/nostrhub/relaycore/pkg/hex"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/tags"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

const testSecHex = "887d170c9ec7cf900d5e602d67b6a07041485c21d788360d50e7fb5c5e97b2d9"
const followSecHex = "7b4b6e4b6e4b6e4b6e4b6e4b6e4b6e4b6e4b6e4b6e4b6e4b6e4b6e4b6e4b6e4b"

func anyOriginHandshake(*websocket.Config, *http.Request) error { return nil }

func wsURL(srv *httptest.Server) string { return "ws" + strings.TrimPrefix(srv.URL, "http") }

// fakeRelay is an in-memory relay storing events by id, enough to exercise
// REQ/EVENT/EOSE and OK for the collector's pipeline.
type fakeRelay struct {
	mu     sync.Mutex
	events []*event.T
}

func newFakeRelayServer(t *testing.T) (*httptest.Server, *fakeRelay) {
	t.Helper()
	fr := &fakeRelay{}
	srv := httptest.NewServer(&websocket.Server{Handshake: anyOriginHandshake, Handler: func(conn *websocket.Conn) {
		for {
			var raw []json.RawMessage
			if err := websocket.JSON.Receive(conn, &raw); err != nil {
				return
			}
			var label string
			_ = json.Unmarshal(raw[0], &label)
			switch label {
			case "EVENT":
				var ev event.T
				if err := ev.UnmarshalJSON(raw[1]); err != nil {
					continue
				}
				fr.mu.Lock()
				fr.events = append(fr.events, &ev)
				fr.mu.Unlock()
				_ = websocket.JSON.Send(conn, []any{"OK", ev.ID, true, ""})
			case "REQ":
				var subID string
				_ = json.Unmarshal(raw[1], &subID)
				fr.mu.Lock()
				matched := fr.matchFilters(raw[2:])
				fr.mu.Unlock()
				for _, ev := range matched {
					b, _ := ev.MarshalJSON()
					_ = websocket.JSON.Send(conn, []any{"EVENT", subID, json.RawMessage(b)})
				}
				_ = websocket.JSON.Send(conn, []any{"EOSE", subID})
			case "CLOSE":
				// no subscription bookkeeping needed for these tests
			}
		}
	}})
	t.Cleanup(srv.Close)
	return srv, fr
}

// matchFilters applies a tiny id/author/kind/until match, sufficient for
// this package's tests (until is what lets QuerySaved's paging end); full
// Filter semantics are covered in pkg/nostr/filter.
func (fr *fakeRelay) matchFilters(rawFilters []json.RawMessage) []*event.T {
	type simpleFilter struct {
		IDs     []string `json:"ids"`
		Authors []string `json:"authors"`
		Kinds   []int    `json:"kinds"`
		Until   *int64   `json:"until"`
		Limit   int      `json:"limit"`
	}
	var fs []simpleFilter
	for _, rf := range rawFilters {
		var f simpleFilter
		_ = json.Unmarshal(rf, &f)
		fs = append(fs, f)
	}
	var out []*event.T
	for _, ev := range fr.events {
		for _, f := range fs {
			if len(f.IDs) > 0 && !contains(f.IDs, ev.ID) {
				continue
			}
			if len(f.Authors) > 0 && !contains(f.Authors, ev.PubKey) {
				continue
			}
			if len(f.Kinds) > 0 && !containsInt(f.Kinds, int(ev.Kind)) {
				continue
			}
			if f.Until != nil && int64(ev.CreatedAt) > *f.Until {
				continue
			}
			out = append(out, ev)
			break
		}
	}
	return out
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(is []int, v int) bool {
	for _, i := range is {
		if i == v {
			return true
		}
	}
	return false
}

func mustSign(t *testing.T, secHex string, ev *event.T) *event.T {
	t.Helper()
	sk, err := hex.Dec(secHex)
	require.NoError(t, err)
	require.NoError(t, ev.Sign(sk))
	return ev
}

func TestCollectorSeedsOwnEventsAndFollows(t *testing.T) {
	sourceSrv, source := newFakeRelayServer(t)
	destSrv, dest := newFakeRelayServer(t)

	ownerSK, err := hex.Dec(testSecHex)
	require.NoError(t, err)
	ownerPub := mustPubKey(t, ownerSK)
	followSK, err := hex.Dec(followSecHex)
	require.NoError(t, err)
	followPub := mustPubKey(t, followSK)

	profile := mustSign(t, testSecHex, &event.T{Kind: kind.Metadata, CreatedAt: timestamp.Now(), Content: `{"name":"alice"}`})
	followList := mustSign(t, testSecHex, &event.T{Kind: kind.FollowList, CreatedAt: timestamp.Now(), Tags: tags.T{{"p", followPub}}})
	ownNote := mustSign(t, testSecHex, &event.T{Kind: kind.TextNote, CreatedAt: timestamp.Now(), Content: "hello"})
	followNote := mustSign(t, followSecHex, &event.T{Kind: kind.TextNote, CreatedAt: timestamp.Now(), Content: "hi from a follow"})

	source.events = []*event.T{profile, followList, ownNote, followNote}

	rp := config.ResolvedProfile{
		PubKey:           ownerPub,
		Destination:      wsURL(destSrv),
		SourceRelays:     []string{wsURL(sourceSrv)},
		FetchMine:        true,
		FetchFollows:     true,
		FetchMyRefs:      false,
		FetchFollowsRefs: false,
	}

	co := collector.New(rp, 100, zerolog.Nop())
	require.NoError(t, co.Run(context.Background()))

	// seeding publishes profile+followList before "follows" can read the
	// destination's kind-3, so give the write loops a moment to land.
	require.Eventually(t, func() bool {
		dest.mu.Lock()
		defer dest.mu.Unlock()
		return len(dest.events) >= 4
	}, 2*time.Second, 10*time.Millisecond)

	dest.mu.Lock()
	defer dest.mu.Unlock()
	var gotKinds []kind.T
	for _, ev := range dest.events {
		gotKinds = append(gotKinds, ev.Kind)
	}
	require.Contains(t, gotKinds, kind.Metadata)
	require.Contains(t, gotKinds, kind.FollowList)
	require.Contains(t, gotKinds, kind.TextNote)
}

// TestCollectorGatesRefsByOrigin covers the independently-controllable
// fetchMyRefs/fetchFollowsRefs flags: with fetchMyRefs=true and
// fetchFollowsRefs=false, a ref found on the owner's own event must be
// followed but a ref found on a follow's event must not be, even though
// both refs are e-tags discovered in the same Run.
func TestCollectorGatesRefsByOrigin(t *testing.T) {
	const refTargetSecHex = "1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e1e"

	sourceSrv, source := newFakeRelayServer(t)
	destSrv, dest := newFakeRelayServer(t)

	ownerSK, err := hex.Dec(testSecHex)
	require.NoError(t, err)
	ownerPub := mustPubKey(t, ownerSK)
	followSK, err := hex.Dec(followSecHex)
	require.NoError(t, err)
	followPub := mustPubKey(t, followSK)

	myRefTarget := mustSign(t, refTargetSecHex, &event.T{Kind: kind.TextNote, CreatedAt: timestamp.Now(), Content: "referenced by my own note"})
	followsRefTarget := mustSign(t, refTargetSecHex, &event.T{Kind: kind.TextNote, CreatedAt: timestamp.Now(), Content: "referenced by a follow's note"})

	followList := mustSign(t, testSecHex, &event.T{Kind: kind.FollowList, CreatedAt: timestamp.Now(), Tags: tags.T{{"p", followPub}}})
	ownNote := mustSign(t, testSecHex, &event.T{Kind: kind.TextNote, CreatedAt: timestamp.Now(), Content: "hello", Tags: tags.T{{"e", myRefTarget.ID}}})
	followNote := mustSign(t, followSecHex, &event.T{Kind: kind.TextNote, CreatedAt: timestamp.Now(), Content: "hi from a follow", Tags: tags.T{{"e", followsRefTarget.ID}}})

	source.events = []*event.T{followList, ownNote, followNote, myRefTarget, followsRefTarget}

	rp := config.ResolvedProfile{
		PubKey:           ownerPub,
		Destination:      wsURL(destSrv),
		SourceRelays:     []string{wsURL(sourceSrv)},
		FetchMine:        true,
		FetchFollows:     true,
		FetchMyRefs:      true,
		FetchFollowsRefs: false,
	}

	co := collector.New(rp, 100, zerolog.Nop())
	require.NoError(t, co.Run(context.Background()))

	require.Eventually(t, func() bool {
		dest.mu.Lock()
		defer dest.mu.Unlock()
		return containsID(dest.events, myRefTarget.ID)
	}, 2*time.Second, 10*time.Millisecond)

	dest.mu.Lock()
	defer dest.mu.Unlock()
	require.True(t, containsID(dest.events, myRefTarget.ID), "ref from the owner's own event must be followed when fetchMyRefs is set")
	require.False(t, containsID(dest.events, followsRefTarget.ID), "ref from a follow's event must not be followed when fetchFollowsRefs is unset")
}

func containsID(evs []*event.T, id string) bool {
	for _, ev := range evs {
		if ev.ID == id {
			return true
		}
	}
	return false
}

func mustPubKey(t *testing.T, sk []byte) string {
	t.Helper()
	ev := &event.T{Kind: kind.TextNote, CreatedAt: timestamp.Now()}
	require.NoError(t, ev.Sign(sk))
	return ev.PubKey
}

func TestMultiClientGetEventsStopsWhenAllFound(t *testing.T) {
	srv1, r1 := newFakeRelayServer(t)
	srv2, r2 := newFakeRelayServer(t)

	sk, err := hex.Dec(testSecHex)
	require.NoError(t, err)
	a := &event.T{Kind: kind.TextNote, CreatedAt: timestamp.Now(), Content: "a"}
	require.NoError(t, a.Sign(sk))
	b := &event.T{Kind: kind.TextNote, CreatedAt: timestamp.Now(), Content: "b"}
	require.NoError(t, b.Sign(sk))

	r1.events = []*event.T{a}
	r2.events = []*event.T{b}

	c1, err := client.Connect(context.Background(), wsURL(srv1), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c1.Close() })
	c2, err := client.Connect(context.Background(), wsURL(srv2), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c2.Close() })

	mc := collector.NewMultiClient([]*client.Conn{c1, c2})
	found := mc.GetEvents(context.Background(), zerolog.Nop(), []string{a.ID, b.ID})
	require.Len(t, found, 2)
	require.Equal(t, a.ID, found[a.ID].ID)
	require.Equal(t, b.ID, found[b.ID].ID)
}

func TestMultiClientGetProfileTriesNextOnMiss(t *testing.T) {
	srv1, r1 := newFakeRelayServer(t)
	srv2, r2 := newFakeRelayServer(t)

	profile := mustSign(t, testSecHex, &event.T{Kind: kind.Metadata, CreatedAt: timestamp.Now(), Content: `{}`})
	r1.events = nil
	r2.events = []*event.T{profile}

	c1, err := client.Connect(context.Background(), wsURL(srv1), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c1.Close() })
	c2, err := client.Connect(context.Background(), wsURL(srv2), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c2.Close() })

	mc := collector.NewMultiClient([]*client.Conn{c1, c2})
	got := mc.GetProfile(context.Background(), zerolog.Nop(), profile.PubKey)
	require.NotNil(t, got)
	require.Equal(t, profile.ID, got.ID)
}
