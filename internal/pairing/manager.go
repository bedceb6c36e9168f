// Package pairing owns the cross-device login handoff: one session per
// fingerprint, driven by scanner actions on one side and the owning
// persistent connection on the other. All transitions are serialized under
// one mutex, so two triggers racing for the same session (accept vs. sweep,
// cancel vs. idle timeout) leave exactly one winner.
package pairing

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagedoor/handoff-server-go/internal/model"
	"github.com/stagedoor/handoff-server-go/internal/protocol"
	"github.com/stagedoor/handoff-server-go/internal/util"
)

// Conn is the slice of a persistent connection the manager needs: an
// identity, a best-effort push, and a close with a protocol reason.
// Push must never block; CloseWithCode must be safe to call more than once.
type Conn interface {
	ID() string
	ClientID() string
	Push(msg protocol.Message)
	CloseWithCode(code protocol.CloseCode)
}

// TicketIssuer hands out the one-time ticket delivered on accept.
type TicketIssuer interface {
	Issue(clientID string) (string, error)
}

type session struct {
	fingerprint string
	owner       Conn
	state       State
	scanned     *model.PublicUser
	scannedID   string
	createdAt   time.Time
	expiresAt   time.Time
}

type Manager struct {
	tickets TicketIssuer
	ttl     time.Duration

	mu            sync.Mutex
	byFingerprint map[string]*session
	byConn        map[string]*session
	pendingLogins map[string]string // client id -> scanned user id
}

func NewManager(tickets TicketIssuer, ttl time.Duration) *Manager {
	return &Manager{
		tickets:       tickets,
		ttl:           ttl,
		byFingerprint: make(map[string]*session),
		byConn:        make(map[string]*session),
		pendingLogins: make(map[string]string),
	}
}

// Create opens a fresh pairing session owned by conn and pushes the
// fingerprint down it. Any session the connection already owns is canceled
// first; a connection never waits on two fingerprints.
func (m *Manager) Create(conn Conn) (string, error) {
	fingerprint, err := util.GenerateToken()
	if err != nil {
		return "", err
	}

	now := time.Now()

	m.mu.Lock()
	if old, ok := m.byConn[conn.ID()]; ok {
		old.state = StateCanceled
		delete(m.byFingerprint, old.fingerprint)
		delete(m.byConn, conn.ID())
	}

	s := &session{
		fingerprint: fingerprint,
		owner:       conn,
		state:       StateAwaitingScan,
		createdAt:   now,
		expiresAt:   now.Add(m.ttl),
	}
	m.byFingerprint[fingerprint] = s
	m.byConn[conn.ID()] = s
	m.mu.Unlock()

	conn.Push(protocol.PendingRemoteInit(fingerprint))

	log.Info().
		Str("fingerprint", util.MaskFingerprint(fingerprint)).
		Str("connId", conn.ID()).
		Time("expiresAt", s.expiresAt).
		Msg("pairing session created")

	return fingerprint, nil
}

// Validate is the scanner's first step. It succeeds only for a known
// fingerprint still awaiting its scan; every other case reports false
// without revealing the session's actual state.
func (m *Manager) Validate(fingerprint string, scanner *model.User) bool {
	m.mu.Lock()
	s, ok := m.byFingerprint[fingerprint]
	if !ok || s.state != StateAwaitingScan {
		m.mu.Unlock()
		return false
	}

	s.state = StateScannedPendingConfirm
	public := scanner.Public()
	s.scanned = &public
	s.scannedID = scanner.ID
	owner := s.owner
	m.mu.Unlock()

	owner.Push(protocol.PendingTicket(public))

	log.Info().
		Str("fingerprint", util.MaskFingerprint(fingerprint)).
		Str("scannerId", scanner.ID).
		Msg("fingerprint validated")

	return true
}

// Accept confirms the handoff: a one-time ticket is issued against the
// owning connection's client identity and pushed down it. The fingerprint
// is consumed.
func (m *Manager) Accept(fingerprint string) bool {
	m.mu.Lock()
	s, ok := m.byFingerprint[fingerprint]
	if !ok || s.state != StateScannedPendingConfirm {
		m.mu.Unlock()
		return false
	}

	clientID := s.owner.ClientID()
	ticket, err := m.tickets.Issue(clientID)
	if err != nil {
		m.mu.Unlock()
		log.Error().Err(err).Msg("accept: failed to issue ticket")
		return false
	}

	s.state = StateConfirmed
	m.pendingLogins[clientID] = s.scannedID
	delete(m.byFingerprint, fingerprint)
	delete(m.byConn, s.owner.ID())
	owner := s.owner
	m.mu.Unlock()

	owner.Push(protocol.PendingLogin(ticket))

	log.Info().
		Str("fingerprint", util.MaskFingerprint(fingerprint)).
		Str("scannerId", s.scannedID).
		Msg("pairing accepted")

	return true
}

// Decline rejects the handoff. The owning connection is told to reset and
// closed with the fingerprint-canceled reason; reconnecting starts over.
func (m *Manager) Decline(fingerprint string) bool {
	m.mu.Lock()
	s, ok := m.byFingerprint[fingerprint]
	if !ok || s.state != StateScannedPendingConfirm {
		m.mu.Unlock()
		return false
	}

	s.state = StateDeclined
	delete(m.byFingerprint, fingerprint)
	delete(m.byConn, s.owner.ID())
	owner := s.owner
	m.mu.Unlock()

	owner.Push(protocol.Cancel())
	owner.CloseWithCode(protocol.CloseFingerprintCanceled)

	log.Info().
		Str("fingerprint", util.MaskFingerprint(fingerprint)).
		Msg("pairing declined")

	return true
}

// ConsumePendingLogin resolves which user a redeemed ticket logs in as.
// The mapping is removed on first read.
func (m *Manager) ConsumePendingLogin(clientID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, ok := m.pendingLogins[clientID]
	if ok {
		delete(m.pendingLogins, clientID)
	}
	return userID, ok
}

// ConnClosed tears down whatever session the connection owned. Safe to call
// for connections with no session and safe to call twice.
func (m *Manager) ConnClosed(connID string, code protocol.CloseCode) {
	m.mu.Lock()
	s, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if code == protocol.CloseTimeout {
		s.state = StateTimedOut
	} else {
		s.state = StateCanceled
	}
	delete(m.byFingerprint, s.fingerprint)
	delete(m.byConn, connID)
	m.mu.Unlock()

	log.Info().
		Str("fingerprint", util.MaskFingerprint(s.fingerprint)).
		Str("connId", connID).
		Str("state", s.state.String()).
		Msg("pairing session torn down with connection")
}

// ExpireStale moves every session past its TTL into the expired state and
// closes the owning connections. Returns how many sessions were expired.
func (m *Manager) ExpireStale(now time.Time) int {
	m.mu.Lock()
	var owners []Conn
	for fingerprint, s := range m.byFingerprint {
		if now.Before(s.expiresAt) {
			continue
		}
		s.state = StateExpired
		delete(m.byFingerprint, fingerprint)
		delete(m.byConn, s.owner.ID())
		owners = append(owners, s.owner)
	}
	m.mu.Unlock()

	for _, owner := range owners {
		owner.CloseWithCode(protocol.CloseExpired)
	}

	if len(owners) > 0 {
		log.Info().Int("count", len(owners)).Msg("expired stale pairing sessions")
	}

	return len(owners)
}

// ActiveSessions reports how many fingerprints are currently live.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byFingerprint)
}
