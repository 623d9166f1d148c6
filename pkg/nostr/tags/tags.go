// Package tags is an ordered sequence of tag.T with no uniqueness
// constraint, matching the data model in spec.md §3.
package tags

import (
	"encoding/json"

	"github.com/nostrhub/relaycore/pkg/nostr/tag"
)

// T is a list of tags.
type T []tag.T

// GetFirst returns the first tag matching prefix, or nil.
func (t T) GetFirst(prefix []string) tag.T {
	for _, v := range t {
		if v.StartsWith(prefix) {
			return v
		}
	}
	return nil
}

// GetAll returns every tag matching prefix.
func (t T) GetAll(prefix ...string) T {
	out := make(T, 0, len(t))
	for _, v := range t {
		if v.StartsWith(prefix) {
			out = append(out, v)
		}
	}
	return out
}

// MarshalTo appends t's JSON array-of-arrays encoding to dst with no
// whitespace.
func (t T) MarshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, tg := range t {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = tg.MarshalTo(dst)
	}
	dst = append(dst, ']')
	return dst
}

// MarshalJSON implements json.Marshaler with no inserted whitespace.
func (t T) MarshalJSON() ([]byte, error) { return t.MarshalTo(nil), nil }

// UnmarshalJSON implements json.Unmarshaler, rejecting any inner tag that is
// empty (the data model requires every inner sequence be non-empty).
func (t *T) UnmarshalJSON(b []byte) error {
	var raw [][]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(T, 0, len(raw))
	for _, r := range raw {
		if len(r) == 0 {
			return errEmptyTag
		}
		out = append(out, tag.T(r))
	}
	*t = out
	return nil
}

var errEmptyTag = jsonError("tags: inner tag sequence must be non-empty")

type jsonError string

func (e jsonError) Error() string { return string(e) }
