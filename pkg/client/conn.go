// Package client implements the relay connection: the WebSocket protocol
// state machine, subscription registry, query paging engine, and
// publisher described in spec.md §4.4–§4.6. Grounded on the teacher's
// pkg/nostr/relay.T (writeQueue goroutine, okCallbacks map, Subscriptions
// registry), adapted to this core's envelope/wsconn/async primitives.
package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v2"
	"github.com/rs/zerolog"

	"github.com/nostrhub/relaycore/pkg/async"
	"github.com/nostrhub/relaycore/pkg/nostr/envelope"
	"github.com/nostrhub/relaycore/pkg/wsconn"
)

// State is a Connection's position in the CONNECTING -> OPEN -> CLOSED
// lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

// Listener observes connection-level events. Each hook is optional; a nil
// hook is simply skipped. A panic inside a hook is recovered, logged, and
// swallowed so one buggy listener cannot break protocol flow.
type Listener struct {
	SentMessage      func(envelope.T)
	GotMessage       func(envelope.T)
	ConnectionClosed func(error)
}

type okResult struct {
	ok      bool
	message string
}

// Conn is one WebSocket connection to a relay.
type Conn struct {
	URL string

	state     atomic.Int32
	ws        *wsconn.Conn
	subs      *xsync.MapOf[string, *Subscription]
	okFutures *xsync.MapOf[string, *async.Future[okResult]]
	cntFuture *xsync.MapOf[string, *async.Future[int64]]
	writeCh   *async.Chan[[]byte]

	listenersMu sync.Mutex
	listeners   []Listener

	subCounter atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc

	log zerolog.Logger
}

// Option customizes a Conn at Connect time.
type Option func(*Conn)

// WithLogger attaches l as the connection's logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Conn) { c.log = l } }

// WithListener registers l for the lifetime of the connection.
func WithListener(l Listener) Option {
	return func(c *Conn) { c.listeners = append(c.listeners, l) }
}

// Connect dials url and starts the read/write loops. requestHeader may be
// nil.
func Connect(ctx context.Context, url string, requestHeader http.Header, opts ...Option) (*Conn, error) {
	c := &Conn{
		URL:       url,
		subs:      xsync.NewMapOf[*Subscription](),
		okFutures: xsync.NewMapOf[*async.Future[okResult]](),
		cntFuture: xsync.NewMapOf[*async.Future[int64]](),
		writeCh:   async.NewChan[[]byte](),
		log:       zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	c.state.Store(int32(StateConnecting))

	ws, err := wsconn.Dial(ctx, url, requestHeader)
	if fails(err) {
		c.state.Store(int32(StateClosed))
		return nil, fmt.Errorf("client: connect %s: %w", url, err)
	}
	c.ws = ws
	c.state.Store(int32(StateOpen))
	c.ctx, c.cancel = context.WithCancel(context.Background())

	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// State reports the connection's current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// AddListener registers l and returns a function that removes it.
func (c *Conn) AddListener(l Listener) func() {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, l)
	idx := len(c.listeners) - 1
	c.listenersMu.Unlock()
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		if idx < len(c.listeners) {
			c.listeners = append(c.listeners[:idx], c.listeners[idx+1:]...)
		}
	}
}

func (c *Conn) snapshotListeners() []Listener {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *Conn) notifyGotMessage(env envelope.T) {
	for _, l := range c.snapshotListeners() {
		if l.GotMessage == nil {
			continue
		}
		c.safeCall(func() { l.GotMessage(env) })
	}
}

func (c *Conn) notifySentMessage(env envelope.T) {
	for _, l := range c.snapshotListeners() {
		if l.SentMessage == nil {
			continue
		}
		c.safeCall(func() { l.SentMessage(env) })
	}
}

func (c *Conn) notifyConnectionClosed(err error) {
	for _, l := range c.snapshotListeners() {
		if l.ConnectionClosed == nil {
			continue
		}
		c.safeCall(func() { l.ConnectionClosed(err) })
	}
}

func (c *Conn) safeCall(f func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("listener panicked")
		}
	}()
	f()
}

// send enqueues raw bytes on the write path. Fails with ErrConnectionNotOpen
// if the connection is not OPEN.
func (c *Conn) send(raw []byte) error {
	if c.State() != StateOpen {
		return ErrConnectionNotOpen
	}
	if err := c.writeCh.Send(raw); fails(err) {
		return ErrConnectionClosed
	}
	return nil
}

func (c *Conn) writeLoop() {
	for {
		data, ok := c.writeCh.Recv()
		if !ok {
			return
		}
		if err := c.ws.WriteMessage(data); fails(err) {
			c.log.Error().Err(err).Msg("write failed")
			c.closeWithErr(err)
			return
		}
	}
}

func (c *Conn) readLoop() {
	for {
		var buf bytes.Buffer
		if err := c.ws.ReadMessage(c.ctx, &buf); fails(err) {
			c.closeWithErr(err)
			return
		}
		env, err := envelope.Decode(buf.Bytes())
		if fails(err) {
			// A relay that sends garbage is unrecoverable.
			c.log.Error().Err(err).Msg("decode failed, closing connection")
			c.closeWithErr(err)
			return
		}
		c.dispatch(env)
	}
}

func (c *Conn) dispatch(env envelope.T) {
	switch v := env.(type) {
	case *envelope.NoticeEnvelope:
		c.log.Warn().Str("message", v.Message).Msg("relay notice")
	case *envelope.EventEnvelope:
		if sub, ok := c.subs.Load(string(v.SubscriptionID)); ok {
			sub.dispatchEvent(v.Event)
		}
	case *envelope.EOSEEnvelope:
		if sub, ok := c.subs.Load(string(v.SubscriptionID)); ok {
			sub.dispatchEOSE()
		}
	case *envelope.ClosedEnvelope:
		if sub, ok := c.subs.LoadAndDelete(string(v.SubscriptionID)); ok {
			sub.dispatchClosed(v.Reason)
		}
		if fut, ok := c.cntFuture.LoadAndDelete(string(v.SubscriptionID)); ok {
			fut.Reject(ErrProtocolError)
		}
	case *envelope.OKEnvelope:
		if fut, ok := c.okFutures.LoadAndDelete(v.EventID); ok {
			fut.Resolve(okResult{ok: v.OK, message: v.Message})
		}
	case *envelope.CountEnvelope:
		if v.Count != nil {
			if fut, ok := c.cntFuture.LoadAndDelete(string(v.SubscriptionID)); ok {
				fut.Resolve(*v.Count)
			}
		}
	case *envelope.AuthEnvelope:
		// NIP-42 AUTH is surfaced only via the generic listener hook; no
		// dedicated challenge/response flow is in scope here.
	}
	c.notifyGotMessage(env)
}

// Close tears the connection down: cancels the read loop, closes the
// socket, closes every subscription's channel, and resolves every pending
// one-shot with ConnectionClosed.
func (c *Conn) Close() error {
	return c.closeWithErr(ErrConnectionClosed)
}

func (c *Conn) closeWithErr(err error) error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosed)) &&
		!c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosed)) {
		return nil // already closed
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.writeCh.Close()
	if c.ws != nil {
		_ = c.ws.Close()
	}

	c.subs.Range(func(id string, sub *Subscription) bool {
		sub.dispatchClosed("connection closed")
		c.subs.Delete(id)
		return true
	})
	c.okFutures.Range(func(id string, fut *async.Future[okResult]) bool {
		fut.Reject(ErrConnectionClosed)
		c.okFutures.Delete(id)
		return true
	})
	c.cntFuture.Range(func(id string, fut *async.Future[int64]) bool {
		fut.Reject(ErrConnectionClosed)
		c.cntFuture.Delete(id)
		return true
	})

	c.notifyConnectionClosed(err)
	return nil
}
