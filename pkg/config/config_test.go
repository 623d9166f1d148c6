package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nostrhub/relaycore/pkg/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relaycore.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const sampleTOML = `
[default]
fetchMine = true
fetchFollows = true

[profiles.alice]
pubkey = "82a4a84ca26e47fb041606f6e6baba3dc5c82a74bc9921a70c909c52067e535"
destination = "wss://dest.example"
sourceRelays = "main"
fetchFollowsRefs = false

[relaySets.main]
relays = ["wss://relay1.example", "wss://relay2.example"]
`

func TestLoadAndResolveMergesDefaults(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	f, err := config.Load(path)
	require.NoError(t, err)

	rp, err := f.Resolve("alice")
	require.NoError(t, err)
	require.Equal(t, "82a4a84ca26e47fb041606f6e6baba3dc5c82a74bc9921a70c909c52067e535", rp.PubKey)
	require.True(t, rp.FetchMine)
	require.True(t, rp.FetchFollows)
	require.False(t, rp.FetchFollowsRefs)
	require.True(t, rp.FetchMyRefs) // no explicit value anywhere -> defaults true
	require.Equal(t, []string{"wss://relay1.example", "wss://relay2.example"}, rp.SourceRelays)
}

func TestResolveUnknownProfileFails(t *testing.T) {
	path := writeTemp(t, sampleTOML)
	f, err := config.Load(path)
	require.NoError(t, err)

	_, err = f.Resolve("bob")
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestResolveUnknownRelaySetFails(t *testing.T) {
	path := writeTemp(t, `
[profiles.alice]
pubkey = "82a4a84ca26e47fb041606f6e6baba3dc5c82a74bc9921a70c909c52067e535"
sourceRelays = "missing"
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	_, err = f.Resolve("alice")
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestResolveMalformedRelayURLFails(t *testing.T) {
	path := writeTemp(t, `
[profiles.alice]
pubkey = "82a4a84ca26e47fb041606f6e6baba3dc5c82a74bc9921a70c909c52067e535"
sourceRelays = "bad"

[relaySets.bad]
relays = ["http://not-a-relay.example"]
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	_, err = f.Resolve("alice")
	require.ErrorIs(t, err, config.ErrConfig)
}

func TestResolveMissingPubkeyFails(t *testing.T) {
	path := writeTemp(t, `[profiles.alice]
destination = "wss://dest.example"
`)
	f, err := config.Load(path)
	require.NoError(t, err)

	_, err = f.Resolve("alice")
	require.ErrorIs(t, err, config.ErrConfig)
}
