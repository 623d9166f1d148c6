// Package timestamp is a convenience type for the UNIX 1-second-precision
// timestamps used in event.created_at and filter.since/until.
package timestamp

import "time"

// T is a UNIX timestamp with 1 second precision.
type T int64

// Now returns the current UNIX timestamp.
func Now() T { return T(time.Now().Unix()) }

// Time converts t to a time.Time.
func (t T) Time() time.Time { return time.Unix(int64(t), 0) }

// FromTime converts a time.Time to T.
func FromTime(tm time.Time) T { return T(tm.Unix()) }

// Ptr returns a pointer to t, useful for optional filter fields.
func (t T) Ptr() *T { return &t }
