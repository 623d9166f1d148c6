package relayinfo_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nostrhub/relaycore/pkg/nostr/relayinfo"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/nostr+json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"testrelay","supported_nips":[1,11,42]}`))
	}))
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	info, err := relayinfo.Fetch(context.Background(), u)
	require.NoError(t, err)
	require.Equal(t, "testrelay", info.Name)
	require.True(t, info.SupportsNIP(42))
	require.False(t, info.SupportsNIP(95))
}
