// Package envelope implements the seven Nostr wire message shapes: the JSON
// arrays exchanged between client and relay over a WebSocket connection, as
// described in NIP-01, plus the NIP-42 AUTH and NIP-45 COUNT extensions.
//
// Decoding uses gjson, grounded on the teacher's go-nostr event.Envelope,
// rather than the teacher's hand-rolled streaming scanner in
// pkg/nostr/envelopes/sentinel: a full byte-scanner is disproportionate to
// this core's needs and gjson already gives allocation-light, tolerant
// parsing of a JSON array's positional elements. Encoding builds the wire
// bytes directly rather than round-tripping through encoding/json: the
// EVENT envelope uses mailru/easyjson's jwriter.Writer, matching the
// teacher's own hand-written Envelope.MarshalJSON exactly; the simpler
// fixed-shape envelopes (REQ, CLOSE, OK, ...) append straight into a byte
// slice the way event.Serialize and tags.MarshalTo do.
package envelope

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"

	"github.com/nostrhub/relaycore/pkg/nostr/event"
	"github.com/nostrhub/relaycore/pkg/nostr/filter"
	"github.com/nostrhub/relaycore/pkg/nostr/subscriptionid"
	"github.com/nostrhub/relaycore/pkg/nostr/tag"
)

// Label identifies which of the nine envelope shapes a message is.
type Label string

const (
	LabelEvent  Label = "EVENT"
	LabelReq    Label = "REQ"
	LabelClose  Label = "CLOSE"
	LabelOK     Label = "OK"
	LabelEOSE   Label = "EOSE"
	LabelClosed Label = "CLOSED"
	LabelNotice Label = "NOTICE"
	LabelAuth   Label = "AUTH"
	LabelCount  Label = "COUNT"
)

// T is implemented by every concrete envelope type.
type T interface {
	Label() Label
	Encode() []byte
}

// DecodeError wraps a failure to decode a relay message, carrying the raw
// bytes so callers can log or inspect what a misbehaving relay actually
// sent.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("envelope: decode failed: %v (raw: %s)", e.Err, e.Raw)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EventEnvelope carries an event both directions: client to relay to
// publish it ("EVENT", event), and relay to client to deliver it as a
// subscription result ("EVENT", subID, event).
type EventEnvelope struct {
	SubscriptionID subscriptionid.T // empty when publishing
	Event          *event.T
}

func (e *EventEnvelope) Label() Label { return LabelEvent }

// Encode is grounded directly on the teacher's Envelope.MarshalJSON
// (pkg/go-nostr/event/event.go): build the wrapper array with
// jwriter.Writer, embedding the event's own marshal as a raw nested value.
func (e *EventEnvelope) Encode() []byte {
	w := jwriter.Writer{}
	w.RawString(`["EVENT",`)
	if e.SubscriptionID != "" {
		w.RawString(`"`)
		w.RawString(string(e.SubscriptionID))
		w.RawString(`",`)
	}
	b, _ := e.Event.MarshalJSON()
	w.Raw(b, nil)
	w.RawString(`]`)
	out, _ := w.BuildBytes()
	return out
}

// ReqEnvelope requests a stream of past and future events matching Filters.
type ReqEnvelope struct {
	SubscriptionID subscriptionid.T
	Filters        []*filter.T
}

func (r *ReqEnvelope) Label() Label { return LabelReq }

func (r *ReqEnvelope) Encode() []byte {
	buf := []byte(`["REQ","`)
	buf = append(buf, r.SubscriptionID...)
	buf = append(buf, '"')
	for _, f := range r.Filters {
		b, _ := f.MarshalJSON()
		buf = append(buf, ',')
		buf = append(buf, b...)
	}
	buf = append(buf, ']')
	return buf
}

// CloseEnvelope asks the relay to stop a subscription.
type CloseEnvelope struct {
	SubscriptionID subscriptionid.T
}

func (c *CloseEnvelope) Label() Label { return LabelClose }

func (c *CloseEnvelope) Encode() []byte {
	return []byte(`["CLOSE","` + string(c.SubscriptionID) + `"]`)
}

// OKEnvelope is the relay's response to a published EVENT.
type OKEnvelope struct {
	EventID string
	OK      bool
	Message string
}

func (o *OKEnvelope) Label() Label { return LabelOK }

func (o *OKEnvelope) Encode() []byte {
	buf := []byte(`["OK","`)
	buf = append(buf, o.EventID...)
	buf = append(buf, '"', ',')
	buf = append(buf, boolLit(o.OK)...)
	buf = append(buf, ',')
	buf = tag.EscapeString(buf, o.Message)
	buf = append(buf, ']')
	return buf
}

// EOSEEnvelope marks the end of stored events for a subscription: every
// event the relay had on hand at REQ time has now been sent.
type EOSEEnvelope struct {
	SubscriptionID subscriptionid.T
}

func (e *EOSEEnvelope) Label() Label { return LabelEOSE }

func (e *EOSEEnvelope) Encode() []byte {
	return []byte(`["EOSE","` + string(e.SubscriptionID) + `"]`)
}

// ClosedEnvelope tells the client a subscription was ended by the relay
// (not requested by the client), with a machine + human readable reason.
type ClosedEnvelope struct {
	SubscriptionID subscriptionid.T
	Reason         string
}

func (c *ClosedEnvelope) Label() Label { return LabelClosed }

func (c *ClosedEnvelope) Encode() []byte {
	buf := []byte(`["CLOSED","`)
	buf = append(buf, c.SubscriptionID...)
	buf = append(buf, '"', ',')
	buf = tag.EscapeString(buf, c.Reason)
	buf = append(buf, ']')
	return buf
}

// NoticeEnvelope is a free-form human readable message from the relay.
type NoticeEnvelope struct {
	Message string
}

func (n *NoticeEnvelope) Label() Label { return LabelNotice }

func (n *NoticeEnvelope) Encode() []byte {
	buf := []byte(`["NOTICE",`)
	buf = tag.EscapeString(buf, n.Message)
	buf = append(buf, ']')
	return buf
}

// AuthEnvelope is overloaded per NIP-42: relay to client it carries a
// Challenge string; client to relay it carries a signed kind 22242 Event
// instead.
type AuthEnvelope struct {
	Challenge string
	Event     *event.T
}

func (a *AuthEnvelope) Label() Label { return LabelAuth }

func (a *AuthEnvelope) Encode() []byte {
	if a.Event != nil {
		b, _ := a.Event.MarshalJSON()
		buf := make([]byte, 0, len(b)+16)
		buf = append(buf, `["AUTH",`...)
		buf = append(buf, b...)
		buf = append(buf, ']')
		return buf
	}
	buf := []byte(`["AUTH",`)
	buf = tag.EscapeString(buf, a.Challenge)
	buf = append(buf, ']')
	return buf
}

// CountEnvelope is overloaded per NIP-45: client to relay it carries
// Filters to ask "how many", relay to client it carries the resulting
// Count instead.
type CountEnvelope struct {
	SubscriptionID subscriptionid.T
	Filters        []*filter.T
	Count          *int64
}

func (c *CountEnvelope) Label() Label { return LabelCount }

func (c *CountEnvelope) Encode() []byte {
	buf := []byte(`["COUNT","`)
	buf = append(buf, c.SubscriptionID...)
	buf = append(buf, '"')
	if c.Count != nil {
		buf = append(buf, fmt.Sprintf(`,{"count":%d}`, *c.Count)...)
		buf = append(buf, ']')
		return buf
	}
	for _, f := range c.Filters {
		b, _ := f.MarshalJSON()
		buf = append(buf, ',')
		buf = append(buf, b...)
	}
	buf = append(buf, ']')
	return buf
}

func boolLit(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Decode inspects raw (a JSON array as sent over the wire) and returns the
// concrete envelope type it represents.
func Decode(raw []byte) (T, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("not valid JSON")}
	}
	arr := gjson.ParseBytes(raw)
	if !arr.IsArray() {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("not a JSON array")}
	}
	elems := arr.Array()
	if len(elems) == 0 {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("empty array")}
	}
	label := Label(elems[0].String())
	env, err := decodeByLabel(label, elems)
	if err != nil {
		return nil, &DecodeError{Raw: raw, Err: err}
	}
	return env, nil
}

func decodeByLabel(label Label, elems []gjson.Result) (T, error) {
	switch label {
	case LabelEvent:
		return decodeEvent(elems)
	case LabelOK:
		return decodeOK(elems)
	case LabelEOSE:
		return decodeEOSE(elems)
	case LabelClosed:
		return decodeClosed(elems)
	case LabelNotice:
		return decodeNotice(elems)
	case LabelAuth:
		return decodeAuth(elems)
	case LabelCount:
		return decodeCount(elems)
	case LabelReq:
		return decodeReq(elems)
	case LabelClose:
		return decodeClose(elems)
	default:
		return nil, fmt.Errorf("unknown envelope label %q", label)
	}
}

func decodeEvent(elems []gjson.Result) (T, error) {
	var sid subscriptionid.T
	var evJSON gjson.Result
	switch len(elems) {
	case 2:
		evJSON = elems[1]
	case 3:
		sid = subscriptionid.T(elems[1].String())
		evJSON = elems[2]
	default:
		return nil, fmt.Errorf("EVENT envelope: unexpected element count %d", len(elems))
	}
	ev := &event.T{}
	if err := ev.UnmarshalJSON([]byte(evJSON.Raw)); err != nil {
		return nil, fmt.Errorf("EVENT envelope: %w", err)
	}
	return &EventEnvelope{SubscriptionID: sid, Event: ev}, nil
}

func decodeOK(elems []gjson.Result) (T, error) {
	if len(elems) < 4 {
		return nil, fmt.Errorf("OK envelope: unexpected element count %d", len(elems))
	}
	return &OKEnvelope{EventID: elems[1].String(), OK: elems[2].Bool(), Message: elems[3].String()}, nil
}

func decodeEOSE(elems []gjson.Result) (T, error) {
	if len(elems) < 2 {
		return nil, fmt.Errorf("EOSE envelope: unexpected element count %d", len(elems))
	}
	return &EOSEEnvelope{SubscriptionID: subscriptionid.T(elems[1].String())}, nil
}

func decodeClosed(elems []gjson.Result) (T, error) {
	if len(elems) < 3 {
		return nil, fmt.Errorf("CLOSED envelope: unexpected element count %d", len(elems))
	}
	return &ClosedEnvelope{SubscriptionID: subscriptionid.T(elems[1].String()), Reason: elems[2].String()}, nil
}

func decodeNotice(elems []gjson.Result) (T, error) {
	if len(elems) < 2 {
		return nil, fmt.Errorf("NOTICE envelope: unexpected element count %d", len(elems))
	}
	return &NoticeEnvelope{Message: elems[1].String()}, nil
}

func decodeAuth(elems []gjson.Result) (T, error) {
	if len(elems) < 2 {
		return nil, fmt.Errorf("AUTH envelope: unexpected element count %d", len(elems))
	}
	if elems[1].IsObject() {
		ev := &event.T{}
		if err := ev.UnmarshalJSON([]byte(elems[1].Raw)); err != nil {
			return nil, fmt.Errorf("AUTH envelope: %w", err)
		}
		return &AuthEnvelope{Event: ev}, nil
	}
	return &AuthEnvelope{Challenge: elems[1].String()}, nil
}

func decodeCount(elems []gjson.Result) (T, error) {
	if len(elems) < 3 {
		return nil, fmt.Errorf("COUNT envelope: unexpected element count %d", len(elems))
	}
	sid := subscriptionid.T(elems[1].String())
	if elems[2].IsObject() && elems[2].Get("count").Exists() {
		c := elems[2].Get("count").Int()
		return &CountEnvelope{SubscriptionID: sid, Count: &c}, nil
	}
	filters := make([]*filter.T, 0, len(elems)-2)
	for _, fe := range elems[2:] {
		f := &filter.T{}
		if err := f.UnmarshalJSON([]byte(fe.Raw)); err != nil {
			return nil, fmt.Errorf("COUNT envelope: %w", err)
		}
		filters = append(filters, f)
	}
	return &CountEnvelope{SubscriptionID: sid, Filters: filters}, nil
}

func decodeReq(elems []gjson.Result) (T, error) {
	if len(elems) < 2 {
		return nil, fmt.Errorf("REQ envelope: unexpected element count %d", len(elems))
	}
	sid := subscriptionid.T(elems[1].String())
	filters := make([]*filter.T, 0, len(elems)-2)
	for _, fe := range elems[2:] {
		f := &filter.T{}
		if err := f.UnmarshalJSON([]byte(fe.Raw)); err != nil {
			return nil, fmt.Errorf("REQ envelope: %w", err)
		}
		filters = append(filters, f)
	}
	return &ReqEnvelope{SubscriptionID: sid, Filters: filters}, nil
}

func decodeClose(elems []gjson.Result) (T, error) {
	if len(elems) < 2 {
		return nil, fmt.Errorf("CLOSE envelope: unexpected element count %d", len(elems))
	}
	return &CloseEnvelope{SubscriptionID: subscriptionid.T(elems[1].String())}, nil
}
