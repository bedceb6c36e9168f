// Package ws implements the interaction tier's persistent connection
// layer: one websocket per client device, server-driven heartbeats, an
// idle deadline armed by any inbound frame, and protocol-coded closes
// that tell the client whether reconnecting is worthwhile.
package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stagedoor/handoff-server-go/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Conn wraps one upgraded websocket. All writes go through Push under a
// single mutex, so frames pushed from different goroutines never interleave
// and arrive in push order.
type Conn struct {
	ws       *websocket.Conn
	id       string
	clientID string

	writeMu sync.Mutex
	closed  atomic.Bool

	// Protocol close code recorded by CloseWithCode; zero when the peer
	// went away on its own.
	closeCode atomic.Int32

	done chan struct{}
}

func newConn(ws *websocket.Conn, id, clientID string) *Conn {
	return &Conn{
		ws:       ws,
		id:       id,
		clientID: clientID,
		done:     make(chan struct{}),
	}
}

func (c *Conn) ID() string       { return c.id }
func (c *Conn) ClientID() string { return c.clientID }

// Push writes a message to the peer. It never blocks on a dead socket and
// never returns an error to the caller: a failed push is logged and the
// connection is left for the read loop to reap.
func (c *Conn) Push(msg protocol.Message) {
	if c.closed.Load() {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		log.Warn().Err(err).
			Str("connId", c.id).
			Str("op", string(msg.Op)).
			Msg("websocket push failed")
	}
}

// CloseWithCode sends a close frame carrying the protocol reason and tears
// the socket down. Calling it again, or racing two callers, is harmless:
// only the first caller wins.
func (c *Conn) CloseWithCode(code protocol.CloseCode) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.closeCode.Store(int32(code))

	frame := websocket.FormatCloseMessage(code.Wire(), code.Reason())
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeTimeout))
	c.writeMu.Unlock()

	c.ws.Close()
	close(c.done)

	log.Info().
		Str("connId", c.id).
		Int("code", int(code)).
		Str("reason", code.Reason()).
		Msg("websocket closed")
}

// closeQuiet tears the socket down without a protocol reason. Used when the
// peer already disconnected or the server is shutting down.
func (c *Conn) closeQuiet() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.ws.Close()
	close(c.done)
}

// CloseCode returns the protocol reason this connection was closed with,
// or false if it was never closed by the server.
func (c *Conn) CloseCode() (protocol.CloseCode, bool) {
	code := protocol.CloseCode(c.closeCode.Load())
	if code == 0 {
		return 0, false
	}
	return code, true
}

// Done is closed once the connection is torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
