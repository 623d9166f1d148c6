// Package wsconn wraps a raw WebSocket connection for exchanging Nostr
// envelopes: one text frame in, one text frame out, no message framing of
// its own. Grounded on the teacher's pkg/nostr/connection.C, trimmed of
// the wsflate per-message-deflate extension (relays this core talks to are not required to negotiate it, and the extra
// decompressor/compressor wiring isn't exercised by anything in this
// core's scope).
package wsconn

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// MaxMessageSize bounds a single outbound write buffer's initial size;
// wsutil.Writer grows past it as needed, it is not a hard cap.
const MaxMessageSize = 16 * 1024 * 1024

// Conn is a client-side WebSocket connection carrying one text message at
// a time in each direction.
type Conn struct {
	Conn           net.Conn
	controlHandler wsutil.FrameHandlerFunc
	reader         *wsutil.Reader
	writer         *wsutil.Writer
}

// Dial opens a WebSocket connection to url, sending requestHeader as
// additional HTTP handshake headers.
func Dial(ctx context.Context, url string, requestHeader http.Header) (*Conn, error) {
	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(requestHeader)}
	conn, _, _, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("wsconn: dial %s: %w", url, err)
	}

	state := ws.StateClientSide
	controlHandler := wsutil.ControlFrameHandler(conn, state)
	reader := &wsutil.Reader{
		Source:         conn,
		State:          state,
		OnIntermediate: controlHandler,
		CheckUTF8:      false,
	}
	writer := wsutil.NewWriterSize(conn, state, ws.OpText, MaxMessageSize)

	return &Conn{Conn: conn, controlHandler: controlHandler, reader: reader, writer: writer}, nil
}

// WriteMessage sends data as a single text frame.
func (c *Conn) WriteMessage(data []byte) error {
	if _, err := io.Copy(c.writer, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("wsconn: write: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("wsconn: flush: %w", err)
	}
	return nil
}

// ReadMessage blocks until a full text or binary frame arrives, writing
// its payload to buf. ctx is checked before each frame is read; a read
// already waiting for a frame is not interrupted by ctx, only by Close.
// Control frames are answered transparently and do not count as a message.
func (c *Conn) ReadMessage(ctx context.Context, buf io.Writer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		h, err := c.reader.NextFrame()
		if err != nil {
			_ = c.Conn.Close()
			return fmt.Errorf("wsconn: next frame: %w", err)
		}
		if h.OpCode.IsControl() {
			if err := c.controlHandler(h, c.reader); err != nil {
				return fmt.Errorf("wsconn: control frame: %w", err)
			}
			continue
		}
		if h.OpCode == ws.OpBinary || h.OpCode == ws.OpText {
			break
		}
		if err := c.reader.Discard(); err != nil {
			return fmt.Errorf("wsconn: discard: %w", err)
		}
	}
	if _, err := io.Copy(buf, c.reader); err != nil {
		return fmt.Errorf("wsconn: read: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.Conn.Close() }
