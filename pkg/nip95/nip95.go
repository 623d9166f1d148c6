// Package nip95 implements the NIP-95 file codec of spec.md §4.8: split an
// opaque byte blob into signed, size-bounded kind-1064 chunk events plus a
// kind-1065 metadata event carrying the whole-file SHA-256 and the ordered
// list of chunk event ids.
package nip95

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nostrhub/relaycore/pkg/crypto"
	"github.com/nostrhub/relaycore/pkg/hex"
	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/tag"
	"github.com/nostrhub/relaycore/pkg/nostr/tags"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

// ErrMissingMimeType is returned when Params has no MimeType; MIME
// guessing is an external collaborator, not this codec's job.
var ErrMissingMimeType = errors.New("nip95: mime type is required")

// ErrMessageTooSmall is returned when maxMessageSize leaves no room for any
// content after EventOverhead.
var ErrMessageTooSmall = errors.New("nip95: maxMessageSize too small to fit any content")

// ErrMetadataOverflow is returned when the file needs more chunks than the
// metadata event's own budget can reference: every chunk adds one e tag to
// the metadata event, so a file split into enough chunks can make the
// metadata event itself exceed maxMessageSize even though each chunk event
// individually fits. There is no smaller chunk size that fixes this — a
// smaller chunk size only means more chunks — so this is reported instead
// of silently emitting an oversized metadata event.
var ErrMetadataOverflow = errors.New("nip95: metadata event cannot reference every chunk within maxMessageSize")

// EventOverhead is the invariant-size JSON envelope of a signed event with
// empty content: id + pubkey + sig + created_at + kind + empty tags + a
// zero-length content string, with no whitespace, when created_at is a
// 10-digit value. Verified against a real serialization in nip95_test.go.
const EventOverhead = 345

// Signer signs ev in place, setting PubKey, ID and Sig. It must be
// deterministic given ev's fields, since the codec signs every chunk twice
// (spec.md §9, "Deterministic signing for NIP-95 two-pass").
type Signer func(ev *event.T) error

// Params are the NIP-95 inputs that aren't the blob, signer or size cap.
type Params struct {
	FileName    string
	Description string
	Alt         string
	MimeType    string
	CreatedAt   timestamp.T // zero means timestamp.Now()
}

// ChunkSize returns the content length (bytes) of every non-final chunk for
// the given maxMessageSize, per spec.md §4.8: floor((maxMessageSize -
// EventOverhead) * 3/4) rounded down to a multiple of 3 so base64 produces
// no padding. This bounds chunk events only; New separately checks that the
// metadata event's own, larger-with-every-chunk size also fits.
func ChunkSize(maxMessageSize int) (int, error) {
	maxContentSize := maxMessageSize - EventOverhead
	if maxContentSize <= 0 {
		return 0, fmt.Errorf("%w: maxMessageSize=%d, overhead=%d", ErrMessageTooSmall, maxMessageSize, EventOverhead)
	}
	size := maxContentSize * 3 / 4
	size -= size % 3
	if size <= 0 {
		return 0, fmt.Errorf("%w: maxMessageSize=%d yields zero-byte chunks", ErrMessageTooSmall, maxMessageSize)
	}
	return size, nil
}

// Codec drives the two-pass NIP-95 encode over a random-access blob: pass
// one (Metadata) reads every chunk to compute its signed id and the
// whole-file hash without retaining chunk content; pass two (Chunks)
// re-reads the blob and re-signs (deterministically, reproducing identical
// events) each chunk for emission.
type Codec struct {
	blob   io.ReaderAt
	size   int64
	sign   Signer
	params Params

	maxMessageSize int
	chunkSize      int
	numChunks      int
}

// New prepares a Codec for blob (size bytes long).
func New(blob io.ReaderAt, size int64, sign Signer, maxMessageSize int, p Params) (*Codec, error) {
	if p.MimeType == "" {
		return nil, ErrMissingMimeType
	}
	chunkSize, err := ChunkSize(maxMessageSize)
	if err != nil {
		return nil, err
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = timestamp.Now()
	}
	numChunks := int((size + int64(chunkSize) - 1) / int64(chunkSize))
	if numChunks == 0 {
		numChunks = 1 // an empty blob still emits one empty chunk
	}

	// chunkSize is already the largest content size a chunk event's own
	// budget allows, so it also minimizes numChunks for this file. If the
	// metadata event still can't reference that many chunks within
	// maxMessageSize, no smaller chunkSize helps — it would only raise
	// numChunks further — so this configuration is simply infeasible.
	if overhead := metadataOverhead(p, size, chunkSize, numChunks); overhead > maxMessageSize {
		return nil, fmt.Errorf("%w: %d chunks need a %d-byte metadata event, budget is %d", ErrMetadataOverflow, numChunks, overhead, maxMessageSize)
	}

	return &Codec{
		blob: blob, size: size, sign: sign, params: p,
		maxMessageSize: maxMessageSize, chunkSize: chunkSize, numChunks: numChunks,
	}, nil
}

// metadataOverhead measures the real JSON length the finished metadata
// event would have for numChunks chunks of chunkSize bytes. id/pubkey/sig
// are fixed-length hex regardless of their actual value, so placeholder
// hex strings of the right length measure exactly what Metadata will later
// produce, without needing to sign anything during sizing.
func metadataOverhead(p Params, size int64, chunkSize, numChunks int) int {
	c := &Codec{params: p, size: size, chunkSize: chunkSize, numChunks: numChunks}
	ids := make([]string, numChunks)
	for i := range ids {
		ids[i] = strings.Repeat("0", 64)
	}
	ev := c.buildMetadataEvent(strings.Repeat("0", 64), ids)
	ev.ID = strings.Repeat("0", 64)
	ev.PubKey = strings.Repeat("0", 64)
	ev.Sig = strings.Repeat("0", 128)
	b, err := json.Marshal(ev)
	if err != nil {
		return 0
	}
	return len(b)
}

// NumChunks reports how many kind-1064 events Chunks will emit.
func (c *Codec) NumChunks() int { return c.numChunks }

// ChunkByteSize is the content length of every non-final chunk.
func (c *Codec) ChunkByteSize() int { return c.chunkSize }

func (c *Codec) chunkLen(i int) int64 {
	if i < c.numChunks-1 {
		return int64(c.chunkSize)
	}
	return c.size - int64(i)*int64(c.chunkSize)
}

// readChunk reads the i'th chunk's bytes into buf (sized to the chunk's
// length), tolerating io.EOF on a short final read from an io.ReaderAt.
func (c *Codec) readChunk(i int) ([]byte, error) {
	n := c.chunkLen(i)
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	off := int64(i) * int64(c.chunkSize)
	read, err := c.blob.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("nip95: reading chunk %d: %w", i, err)
	}
	return buf[:read], nil
}

func (c *Codec) buildChunkEvent(data []byte) *event.T {
	return &event.T{
		Kind:      kind.FileChunk,
		CreatedAt: c.params.CreatedAt,
		Tags:      nil,
		Content:   base64.StdEncoding.EncodeToString(data),
	}
}

func (c *Codec) buildMetadataEvent(xHex string, chunkIDs []string) *event.T {
	t := tags.T{
		tag.T{"name", c.params.FileName},
		tag.T{"m", c.params.MimeType},
		tag.T{"x", xHex},
		tag.T{"fileName", c.params.FileName},
		tag.T{"size", strconv.FormatInt(c.size, 10)},
	}
	if c.numChunks > 1 {
		t = append(t, tag.T{"blockSize", strconv.Itoa(c.chunkSize)})
	}
	for _, id := range chunkIDs {
		t = append(t, tag.T{"e", id})
	}
	if c.params.Alt != "" {
		t = append(t, tag.T{"alt", c.params.Alt})
	}
	return &event.T{
		Kind:      kind.FileMetadata,
		CreatedAt: c.params.CreatedAt,
		Tags:      t,
		Content:   c.params.Description,
	}
}

// Metadata runs pass one: it signs every chunk once to learn its id,
// accumulates the streaming whole-file SHA-256, and returns the finished,
// signed metadata event. It does not retain chunk content between
// iterations, so memory use is bounded by one chunk regardless of file
// size.
func (c *Codec) Metadata(ctx context.Context) (*event.T, error) {
	hasher := crypto.NewHasher()
	ids := make([]string, c.numChunks)
	for i := 0; i < c.numChunks; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := c.readChunk(i)
		if err != nil {
			return nil, err
		}
		hasher.Write(data)
		ev := c.buildChunkEvent(data)
		if err := c.sign(ev); err != nil {
			return nil, fmt.Errorf("nip95: signing chunk %d: %w", i, err)
		}
		ids[i] = ev.ID
	}

	meta := c.buildMetadataEvent(hex.Enc(hasher.Sum(nil)), ids)
	if err := c.sign(meta); err != nil {
		return nil, fmt.Errorf("nip95: signing metadata event: %w", err)
	}
	return meta, nil
}

// Chunks runs pass two: it re-reads the blob from the start and hands each
// freshly (but deterministically, identically) signed chunk event to yield
// in order. Returning an error from yield stops iteration early.
func (c *Codec) Chunks(ctx context.Context, yield func(*event.T) error) error {
	for i := 0; i < c.numChunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := c.readChunk(i)
		if err != nil {
			return err
		}
		ev := c.buildChunkEvent(data)
		if err := c.sign(ev); err != nil {
			return fmt.Errorf("nip95: signing chunk %d: %w", i, err)
		}
		if err := yield(ev); err != nil {
			return err
		}
	}
	return nil
}

// Encode runs Metadata followed by Chunks, returning the metadata event
// first and then every chunk event in order. Prefer Metadata+Chunks
// directly when the caller wants to send the metadata event alone before
// deciding whether to upload the rest.
func Encode(ctx context.Context, blob io.ReaderAt, size int64, sign Signer, maxMessageSize int, p Params) (*event.T, []*event.T, error) {
	c, err := New(blob, size, sign, maxMessageSize, p)
	if err != nil {
		return nil, nil, err
	}
	meta, err := c.Metadata(ctx)
	if err != nil {
		return nil, nil, err
	}
	chunks := make([]*event.T, 0, c.NumChunks())
	err = c.Chunks(ctx, func(ev *event.T) error {
		chunks = append(chunks, ev)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return meta, chunks, nil
}
