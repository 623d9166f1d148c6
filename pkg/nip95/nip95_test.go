package nip95_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nostrhub/relaycore/pkg/hex"
	"github.com/nostrhub/relaycore/pkg/nip95"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

const testSecHex = "887d170c9ec7cf900d5e602d67b6a07041485c21d788360d50e7fb5c5e97b2d9"

func testSigner(t *testing.T) nip95.Signer {
	t.Helper()
	sk, err := hex.Dec(testSecHex)
	require.NoError(t, err)
	return func(ev *event.T) error { return ev.Sign(sk) }
}

// TestEventOverheadConstant validates nip95.EventOverhead against the real
// JSON length of a signed event with empty content and a 10-digit
// created_at, rather than trusting a hardcoded literal.
func TestEventOverheadConstant(t *testing.T) {
	ev := &event.T{
		ID:        strings.Repeat("8", 64),
		PubKey:    strings.Repeat("8", 64),
		CreatedAt: timestamp.T(1700000000), // 10 digits
		Kind:      kind.FileChunk,
		Content:   "",
		Sig:       strings.Repeat("9", 128),
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	require.Len(t, b, nip95.EventOverhead)
}

func TestMissingMimeTypeFails(t *testing.T) {
	blob := bytes.NewReader([]byte("hi"))
	_, err := nip95.New(blob, int64(blob.Len()), testSigner(t), 4096, nip95.Params{FileName: "a.txt"})
	require.ErrorIs(t, err, nip95.ErrMissingMimeType)
}

// TestEncode64KiBFile exercises spec.md §8 scenario 3: a 64 KiB all-zero
// blob with maxMessageSize=16 KiB.
func TestEncode64KiBFile(t *testing.T) {
	const fileSize = 65536
	blob := bytes.NewReader(make([]byte, fileSize))

	wantHash := sha256.Sum256(make([]byte, fileSize))
	wantHex := hex.Enc(wantHash[:])

	meta, chunks, err := nip95.Encode(context.Background(), blob, fileSize, testSigner(t), 16384, nip95.Params{
		FileName: "zeros.bin",
		MimeType: "application/octet-stream",
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks)+1, 6)
	require.Equal(t, kind.FileMetadata, meta.Kind)

	b, err := json.Marshal(meta)
	require.NoError(t, err)
	require.LessOrEqual(t, len(b), 16384)

	xTag := meta.Tag("x")
	require.NotNil(t, xTag)
	require.Equal(t, wantHex, xTag.Val())

	var totalDecoded int
	blockSizeTag := meta.Tag("blockSize")
	require.NotNil(t, blockSizeTag)

	for i, c := range chunks {
		require.Equal(t, kind.FileChunk, c.Kind)
		cb, err := json.Marshal(c)
		require.NoError(t, err)
		require.LessOrEqual(t, len(cb), 16384)

		decoded, err := base64.StdEncoding.DecodeString(c.Content)
		require.NoError(t, err)
		totalDecoded += len(decoded)
		if i < len(chunks)-1 {
			require.Equal(t, blockSizeTag.Val(), itoa(len(decoded)))
		}
	}
	require.Equal(t, fileSize, totalDecoded)
}

// TestFileCodecReconstruction is the universally-quantified property from
// spec.md §8: decoding the chunk events in e-tag order reconstructs the
// original bytes exactly, and the x tag matches sha256_hex(F).
func TestFileCodecReconstruction(t *testing.T) {
	for _, size := range []int{0, 1, 100, 12027, 12028, 30000} {
		content := make([]byte, size)
		for i := range content {
			content[i] = byte(i % 251)
		}
		blob := bytes.NewReader(content)

		meta, chunks, err := nip95.Encode(context.Background(), blob, int64(size), testSigner(t), 4096, nip95.Params{
			FileName: "f.bin",
			MimeType: "application/octet-stream",
		})
		require.NoError(t, err)

		chunkByID := make(map[string]*event.T, len(chunks))
		for _, c := range chunks {
			chunkByID[c.ID] = c
		}

		reconstructed := make([]byte, 0, size)
		for _, t2 := range meta.Tags.GetAll("e") {
			c, ok := chunkByID[t2.Val()]
			require.True(t, ok)
			decoded, err := base64.StdEncoding.DecodeString(c.Content)
			require.NoError(t, err)
			reconstructed = append(reconstructed, decoded...)
		}
		require.Equal(t, content, reconstructed)

		want := sha256.Sum256(content)
		require.Equal(t, hex.Enc(want[:]), meta.Tag("x").Val())
	}
}

// TestMessageSizeBound is the other universally-quantified property from
// spec.md §8: every emitted event's JSON serialization stays within
// maxMessageSize — including the metadata event, whose e-tag list grows by
// one entry per chunk.
func TestMessageSizeBound(t *testing.T) {
	content := make([]byte, 50000)
	blob := bytes.NewReader(content)
	const maxMessageSize = 16384

	meta, chunks, err := nip95.Encode(context.Background(), blob, int64(len(content)), testSigner(t), maxMessageSize, nip95.Params{
		FileName: "f.bin",
		MimeType: "application/octet-stream",
	})
	require.NoError(t, err)

	b, err := json.Marshal(meta)
	require.NoError(t, err)
	require.LessOrEqual(t, len(b), maxMessageSize)

	for _, c := range chunks {
		cb, err := json.Marshal(c)
		require.NoError(t, err)
		require.LessOrEqual(t, len(cb), maxMessageSize)
	}
}

// TestMetadataOverflowRejected covers the case the fixed-size ChunkSize
// formula alone can't: a file big enough, relative to maxMessageSize, that
// the metadata event's e-tag list would overflow maxMessageSize even
// though chunkSize is already at the largest value a chunk event's own
// budget allows. New must refuse rather than emit an oversized metadata
// event.
func TestMetadataOverflowRejected(t *testing.T) {
	content := make([]byte, 50000)
	blob := bytes.NewReader(content)

	_, _, err := nip95.Encode(context.Background(), blob, int64(len(content)), testSigner(t), 2048, nip95.Params{
		FileName: "f.bin",
		MimeType: "application/octet-stream",
	})
	require.ErrorIs(t, err, nip95.ErrMetadataOverflow)
}

func TestChunkEventsHaveValidSignatures(t *testing.T) {
	content := make([]byte, 1000)
	blob := bytes.NewReader(content)
	meta, chunks, err := nip95.Encode(context.Background(), blob, int64(len(content)), testSigner(t), 4096, nip95.Params{
		FileName: "f.bin",
		MimeType: "application/octet-stream",
	})
	require.NoError(t, err)

	require.NoError(t, meta.CheckSignature())
	for _, c := range chunks {
		require.NoError(t, c.CheckSignature())
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
