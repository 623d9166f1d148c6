// Package event defines the Nostr event envelope: the signed, content
// addressed record that is the unit of exchange for every relay
// interaction. Canonical serialization and id computation follow NIP-01;
// signing and verification are delegated to pkg/crypto.
package event

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/nostrhub/relaycore/pkg/crypto"
	"github.com/nostrhub/relaycore/pkg/hex"
	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/tag"
	"github.com/nostrhub/relaycore/pkg/nostr/tags"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

// T is a Nostr event. Fields are ordered to match the canonical
// serialization, not for memory layout.
type T struct {
	ID        string
	PubKey    string
	CreatedAt timestamp.T
	Kind      kind.T
	Tags      tags.T
	Content   string
	Sig       string
}

// ErrInvalidID is returned when CheckSignature is called on an event whose
// ID does not match its own content.
var ErrInvalidID = errors.New("event: id does not match serialized content")

// ErrInvalidSig is returned when CheckSignature finds the signature does
// not verify against the event's id and pubkey.
var ErrInvalidSig = errors.New("event: signature verification failed")

// Serialize returns the canonical byte form used for id computation and
// signing: [0,pubkey,created_at,kind,tags,content], with no inserted
// whitespace. Grounded on the teacher's go-nostr event.Serialize.
func (e *T) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteString(`[0,"`)
	buf.WriteString(e.PubKey)
	buf.WriteString(`",`)
	buf.WriteString(strconv.FormatInt(int64(e.CreatedAt), 10))
	buf.WriteByte(',')
	buf.WriteString(strconv.Itoa(int(e.Kind)))
	buf.WriteByte(',')
	buf.Write(e.Tags.MarshalTo(nil))
	buf.WriteByte(',')
	buf.Write(tag.EscapeString(nil, e.Content))
	buf.WriteByte(']')
	return buf.Bytes()
}

// GetIDBytes returns the 32-byte SHA-256 digest of the canonical
// serialization, which is the event id.
func (e *T) GetIDBytes() []byte {
	return crypto.Hash256(e.Serialize())
}

// GetID computes and returns the hex-encoded event id without mutating e.
func (e *T) GetID() string {
	return hex.Enc(e.GetIDBytes())
}

// Sign sets PubKey from skBytes, computes the event id from e's now-complete
// fields, signs it, and sets ID and Sig on e.
func (e *T) Sign(skBytes []byte) error {
	pubkey, err := crypto.PubKey(skBytes)
	if err != nil {
		return err
	}
	e.PubKey = hex.Enc(pubkey)

	idBytes := e.GetIDBytes()
	_, sig, err := crypto.Sign(skBytes, idBytes)
	if err != nil {
		return err
	}
	e.ID = hex.Enc(idBytes)
	e.Sig = hex.Enc(sig)
	return nil
}

// CheckSignature verifies that e.ID matches e's canonical serialization and
// that e.Sig is a valid signature of that id under e.PubKey.
func (e *T) CheckSignature() error {
	idBytes := e.GetIDBytes()
	if hex.Enc(idBytes) != e.ID {
		return fmt.Errorf("%w: got %s, computed %s", ErrInvalidID, e.ID, hex.Enc(idBytes))
	}
	if !crypto.Verify(e.PubKey, idBytes, e.Sig) {
		return ErrInvalidSig
	}
	return nil
}

// Tag returns the first tag whose name is key, or nil.
func (e *T) Tag(key string) tag.T {
	for _, t := range e.Tags {
		if t.Key() == key {
			return t
		}
	}
	return nil
}
