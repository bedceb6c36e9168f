package service

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stagedoor/handoff-server-go/internal/util"
)

// TicketStore hands out single-use login tickets keyed by the requesting
// client's identity. Issuing a new ticket for a client invalidates any
// previous one; redemption is an atomic compare-and-delete, so a ticket can
// be redeemed at most once.
// Only ticket hashes are stored; a leaked store snapshot redeems nothing.
type TicketStore struct {
	mu      sync.Mutex
	tickets map[string]string // client id -> ticket hash
}

func NewTicketStore() *TicketStore {
	return &TicketStore{
		tickets: make(map[string]string),
	}
}

// Issue creates a ticket for the given client, replacing any outstanding one.
func (s *TicketStore) Issue(clientID string) (string, error) {
	ticket, err := util.GenerateToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.tickets[clientID] = util.HashToken(ticket)
	s.mu.Unlock()

	log.Debug().Str("clientId", clientID).Msg("login ticket issued")

	return ticket, nil
}

// Redeem deletes the ticket if and only if it matches the stored one.
// A mismatch or a missing mapping leaves the store untouched.
func (s *TicketStore) Redeem(clientID, ticket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tickets[clientID]
	if !ok || !util.ConstantTimeEqual(stored, util.HashToken(ticket)) {
		return false
	}

	delete(s.tickets, clientID)
	return true
}
