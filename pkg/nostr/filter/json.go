package filter

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/nostrhub/relaycore/pkg/nostr/kind"
	"github.com/nostrhub/relaycore/pkg/nostr/tag"
	"github.com/nostrhub/relaycore/pkg/nostr/timestamp"
)

func writeStringArray(buf *bytes.Buffer, key string, vals []string) {
	if vals == nil {
		return
	}
	buf.WriteString(`"` + key + `":[`)
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(tag.EscapeString(nil, v))
	}
	buf.WriteString("],")
}

// MarshalJSON renders f as the flattened wire object NIP-01 requires: tag
// filters are promoted to top-level "#<letter>" keys rather than nested
// under a "tags" object, matching how every relay implementation actually
// parses a REQ filter.
func (f *T) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeStringArray(&buf, "ids", f.IDs)
	writeStringArray(&buf, "authors", f.Authors)
	if f.Kinds != nil {
		buf.WriteString(`"kinds":[`)
		for i, k := range f.Kinds {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Itoa(int(k)))
		}
		buf.WriteString("],")
	}

	letters := make([]string, 0, len(f.Tags))
	for letter := range f.Tags {
		letters = append(letters, letter)
	}
	sort.Strings(letters)
	for _, letter := range letters {
		writeStringArray(&buf, "#"+letter, f.Tags[letter])
	}

	if f.Since != nil {
		buf.WriteString(`"since":` + strconv.FormatInt(int64(*f.Since), 10) + ",")
	}
	if f.Until != nil {
		buf.WriteString(`"until":` + strconv.FormatInt(int64(*f.Until), 10) + ",")
	}
	if f.Limit > 0 {
		buf.WriteString(`"limit":` + strconv.Itoa(f.Limit) + ",")
	}
	if f.Search != "" {
		buf.WriteString(`"search":`)
		buf.Write(tag.EscapeString(nil, f.Search))
		buf.WriteByte(',')
	}
	if buf.Len() > 1 {
		buf.Truncate(buf.Len() - 1) // drop trailing comma
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a filter object, recognizing any "#<letter>" key as
// a tag filter and everything else as a known field.
func (f *T) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return fmt.Errorf("filter: invalid JSON")
	}
	res := gjson.ParseBytes(b)
	if !res.IsObject() {
		return fmt.Errorf("filter: expected a JSON object")
	}

	*f = T{}
	res.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		switch {
		case key == "ids":
			f.IDs = stringArray(v)
		case key == "authors":
			f.Authors = stringArray(v)
		case key == "kinds":
			v.ForEach(func(_, kv gjson.Result) bool {
				f.Kinds = append(f.Kinds, kind.T(kv.Int()))
				return true
			})
		case key == "since":
			s := timestamp.T(v.Int())
			f.Since = &s
		case key == "until":
			u := timestamp.T(v.Int())
			f.Until = &u
		case key == "limit":
			f.Limit = int(v.Int())
		case key == "search":
			f.Search = v.String()
		case len(key) >= 2 && key[0] == '#':
			if f.Tags == nil {
				f.Tags = TagMap{}
			}
			f.Tags[key[1:]] = stringArray(v)
		}
		return true
	})
	return nil
}

func stringArray(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	var out []string
	v.ForEach(func(_, e gjson.Result) bool {
		out = append(out, e.String())
		return true
	})
	return out
}
