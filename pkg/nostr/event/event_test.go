package event_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nostrhub/relaycore/pkg/hex"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/tags"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

const testSecHex = "887d170c9ec7cf900d5e602d67b6a07041485c21d788360d50e7fb5c5e97b2d9"

func TestSignAndCheckSignature(t *testing.T) {
	sk, err := hex.Dec(testSecHex)
	require.NoError(t, err)

	ev := &event.T{
		CreatedAt: timestamp.T(1700000000),
		Kind:      kind.TextNote,
		Tags:      tags.T{{"e", "deadbeef"}},
		Content:   "hello { braces } and [ brackets ]\nwith a line break",
	}
	require.NoError(t, ev.Sign(sk))
	require.Len(t, ev.ID, 64)
	require.Len(t, ev.PubKey, 64)
	require.Len(t, ev.Sig, 128)
	require.NoError(t, ev.CheckSignature())
}

func TestCheckSignatureRejectsTamperedContent(t *testing.T) {
	sk, err := hex.Dec(testSecHex)
	require.NoError(t, err)

	ev := &event.T{CreatedAt: timestamp.Now(), Kind: kind.TextNote, Content: "original"}
	require.NoError(t, ev.Sign(sk))

	ev.Content = "tampered"
	require.ErrorIs(t, ev.CheckSignature(), event.ErrInvalidID)
}

func TestJSONRoundTrip(t *testing.T) {
	sk, err := hex.Dec(testSecHex)
	require.NoError(t, err)

	ev := &event.T{
		CreatedAt: timestamp.T(1700000001),
		Kind:      kind.Metadata,
		Tags:      tags.T{{"p", "aabbcc", "wss://relay.example"}},
		Content:   `{"name":"alice"}`,
	}
	require.NoError(t, ev.Sign(sk))

	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var re event.T
	require.NoError(t, json.Unmarshal(b, &re))

	require.Equal(t, ev.ID, re.ID)
	require.Equal(t, ev.PubKey, re.PubKey)
	require.Equal(t, ev.Content, re.Content)
	require.Equal(t, ev.CreatedAt, re.CreatedAt)
	require.Equal(t, ev.Sig, re.Sig)
	require.Equal(t, ev.Tags, re.Tags)
	require.NoError(t, re.CheckSignature())
}

func TestSerializeEscapesControlCharacters(t *testing.T) {
	ev := &event.T{PubKey: "ab", CreatedAt: 1, Kind: 1, Content: "a\nb\tc\"d"}
	got := string(ev.Serialize())
	require.Contains(t, got, `\n`)
	require.Contains(t, got, `\t`)
	require.Contains(t, got, `\"`)
}
