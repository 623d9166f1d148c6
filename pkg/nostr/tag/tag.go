// Package tag defines a single Nostr tag: an ordered, non-empty sequence of
// strings whose first element is the tag name.
package tag

import (
	"bytes"
	"fmt"
)

// Positional accessors, named the way the teacher's pkg/nostr/tag does.
const (
	Name = iota
	Value
	Relay
)

// T is one tag: an ordered list of strings, not a set.
type T []string

// Key returns the tag name (element 0), or "" if empty.
func (t T) Key() string {
	if len(t) > Name {
		return t[Name]
	}
	return ""
}

// Val returns the second element, or "" if absent.
func (t T) Val() string {
	if len(t) > Value {
		return t[Value]
	}
	return ""
}

// StartsWith reports whether t begins with the given prefix, treating the
// last element of prefix as a string-prefix match rather than exact.
func (t T) StartsWith(prefix []string) bool {
	if len(prefix) > len(t) {
		return false
	}
	if len(prefix) == 0 {
		return true
	}
	for i := 0; i < len(prefix)-1; i++ {
		if prefix[i] != t[i] {
			return false
		}
	}
	last := len(prefix) - 1
	return len(t[last]) >= len(prefix[last]) && t[last][:len(prefix[last])] == prefix[last]
}

// MarshalTo appends t's JSON array encoding to dst with no whitespace.
func (t T) MarshalTo(dst []byte) []byte {
	dst = append(dst, '[')
	for i, s := range t {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = escapeString(dst, s)
	}
	dst = append(dst, ']')
	return dst
}

func (t T) String() string {
	var buf bytes.Buffer
	buf.Write(t.MarshalTo(nil))
	return buf.String()
}

// escapeString appends the JSON string encoding of s to dst, per RFC 8259.
// Grounded on the teacher's pkg/nostr/escapestring.go.
func escapeString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			dst = append(dst, '\\', '"')
		case c == '\\':
			dst = append(dst, '\\', '\\')
		case c >= 0x20:
			dst = append(dst, c)
		case c == 0x08:
			dst = append(dst, '\\', 'b')
		case c == 0x09:
			dst = append(dst, '\\', 't')
		case c == 0x0a:
			dst = append(dst, '\\', 'n')
		case c == 0x0c:
			dst = append(dst, '\\', 'f')
		case c == 0x0d:
			dst = append(dst, '\\', 'r')
		default:
			dst = append(dst, []byte(fmt.Sprintf("\\u%04x", c))...)
		}
	}
	dst = append(dst, '"')
	return dst
}

// EscapeString is the exported form used by other packages (event
// serialization, tags) that need RFC 8259 string escaping without pulling in
// a tag.
func EscapeString(dst []byte, s string) []byte { return escapeString(dst, s) }
