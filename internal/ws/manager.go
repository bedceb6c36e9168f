package ws

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	apperrors "github.com/stagedoor/handoff-server-go/internal/errors"
	"github.com/stagedoor/handoff-server-go/internal/httputil"
	"github.com/stagedoor/handoff-server-go/internal/middleware"
	"github.com/stagedoor/handoff-server-go/internal/pairing"
	"github.com/stagedoor/handoff-server-go/internal/protocol"
)

// SessionManager is the pairing side of a connection's lifecycle: a session
// is created when the connection is accepted and torn down when it goes away.
type SessionManager interface {
	Create(conn pairing.Conn) (string, error)
	ConnClosed(connID string, code protocol.CloseCode)
}

// Manager accepts websocket upgrades and runs the per-connection loops.
type Manager struct {
	sessions          SessionManager
	heartbeatInterval time.Duration
	idleTimeout       time.Duration
	upgrader          websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*Conn
}

func NewManager(sessions SessionManager, heartbeatInterval, idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:          sessions,
		heartbeatInterval: heartbeatInterval,
		idleTimeout:       idleTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect cross-origin from the web app; auth
			// rides on the clientId cookie, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*Conn),
	}
}

// HandleConnect upgrades the request and runs the connection until it dies.
// Requests without a client identity are rejected before the upgrade.
func (m *Manager) HandleConnect(w http.ResponseWriter, r *http.Request) {
	clientID := middleware.ClientIDFromRequest(r)
	if clientID == "" {
		httputil.WriteError(w, apperrors.Unauthorized("Client identity required"))
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConn(ws, uuid.NewString(), clientID)
	m.register(conn)
	defer m.unregister(conn)

	log.Info().
		Str("connId", conn.ID()).
		Str("clientId", clientID).
		Msg("websocket connected")

	conn.Push(protocol.Hello(m.idleTimeout, m.heartbeatInterval))

	if _, err := m.sessions.Create(conn); err != nil {
		log.Error().Err(err).Str("connId", conn.ID()).Msg("pairing session create failed")
		conn.closeQuiet()
		return
	}

	go m.heartbeatLoop(conn)

	m.readLoop(conn)

	code, closedByServer := conn.CloseCode()
	if !closedByServer {
		conn.closeQuiet()
	}
	m.sessions.ConnClosed(conn.ID(), code)
}

// heartbeatLoop pushes a heartbeat every interval until the connection dies.
func (m *Manager) heartbeatLoop(conn *Conn) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			return
		case now := <-ticker.C:
			conn.Push(protocol.Heartbeat(now))
		}
	}
}

// readLoop consumes inbound frames. Every frame, heartbeat acks included,
// re-arms the idle deadline; a deadline that fires closes the connection
// with the timeout reason, which the client must not treat as retryable.
func (m *Manager) readLoop(conn *Conn) {
	for {
		conn.ws.SetReadDeadline(time.Now().Add(m.idleTimeout))

		var msg protocol.Message
		if err := conn.ws.ReadJSON(&msg); err != nil {
			if isTimeout(err) {
				conn.CloseWithCode(protocol.CloseTimeout)
			} else if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if _, closedByServer := conn.CloseCode(); !closedByServer {
					log.Debug().Err(err).Str("connId", conn.ID()).Msg("websocket read ended")
				}
			}
			return
		}

		switch msg.Op {
		case protocol.OpHeartbeatAck:
			// Deadline already re-armed above; nothing else to do.
		default:
			log.Debug().
				Str("connId", conn.ID()).
				Str("op", string(msg.Op)).
				Msg("ignoring unexpected client op")
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (m *Manager) register(conn *Conn) {
	m.mu.Lock()
	m.conns[conn.ID()] = conn
	m.mu.Unlock()
}

func (m *Manager) unregister(conn *Conn) {
	m.mu.Lock()
	delete(m.conns, conn.ID())
	m.mu.Unlock()
}

// ConnCount reports how many connections are currently live.
func (m *Manager) ConnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Shutdown tears down every live connection without a protocol reason, so
// clients see an abnormal closure and keep their reconnect behavior.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.closeQuiet()
	}
}
