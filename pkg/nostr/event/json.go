package event

import (
	"fmt"
	"strconv"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"

	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/tag"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

// MarshalJSON renders e as the full Nostr event object, with no inserted
// whitespace, matching what relays expect on the wire. Grounded on the
// teacher's hand-written jwriter.Writer use in pkg/go-nostr/event/event.go
// (Envelope.MarshalJSON): RawString for literal fragments and already-hex
// fields, Raw to embed tags' own pre-marshaled bytes, String for a field
// that needs escaping.
func (e *T) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`{"id":"`)
	w.RawString(e.ID)
	w.RawString(`","pubkey":"`)
	w.RawString(e.PubKey)
	w.RawString(`","created_at":`)
	w.RawString(strconv.FormatInt(int64(e.CreatedAt), 10))
	w.RawString(`,"kind":`)
	w.RawString(strconv.Itoa(int(e.Kind)))
	w.RawString(`,"tags":`)
	w.Raw(e.Tags.MarshalTo(nil), nil)
	w.RawString(`,"content":`)
	w.String(e.Content)
	w.RawString(`,"sig":"`)
	w.RawString(e.Sig)
	w.RawString(`"}`)
	return w.BuildBytes()
}

// UnmarshalJSON parses a full Nostr event object using gjson, tolerating
// unknown extra fields and any key ordering.
func (e *T) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("event: invalid JSON")
	}
	res := gjson.ParseBytes(b)
	if !res.IsObject() {
		return fmt.Errorf("event: expected a JSON object")
	}
	e.ID = res.Get("id").String()
	e.PubKey = res.Get("pubkey").String()
	e.CreatedAt = timestamp.T(res.Get("created_at").Int())
	e.Kind = kind.T(res.Get("kind").Int())
	e.Content = res.Get("content").String()
	e.Sig = res.Get("sig").String()

	tagsRes := res.Get("tags")
	if tagsRes.IsArray() {
		var out []tag.T
		var innerErr error
		tagsRes.ForEach(func(_, inner gjson.Result) bool {
			if !inner.IsArray() {
				innerErr = fmt.Errorf("event: tag entry must be an array")
				return false
			}
			var t tag.T
			inner.ForEach(func(_, v gjson.Result) bool {
				t = append(t, v.String())
				return true
			})
			if len(t) == 0 {
				innerErr = fmt.Errorf("event: tag entry must be non-empty")
				return false
			}
			out = append(out, t)
			return true
		})
		if innerErr != nil {
			return innerErr
		}
		e.Tags = out
	}
	return nil
}
