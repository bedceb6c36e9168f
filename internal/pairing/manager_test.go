package pairing

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagedoor/handoff-server-go/internal/model"
	"github.com/stagedoor/handoff-server-go/internal/protocol"
	"github.com/stagedoor/handoff-server-go/internal/service"
)

type fakeConn struct {
	id       string
	clientID string

	mu       sync.Mutex
	pushed   []protocol.Message
	closedWith []protocol.CloseCode
}

func newFakeConn(id, clientID string) *fakeConn {
	return &fakeConn{id: id, clientID: clientID}
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) ClientID() string { return c.clientID }

func (c *fakeConn) Push(msg protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushed = append(c.pushed, msg)
}

func (c *fakeConn) CloseWithCode(code protocol.CloseCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closedWith = append(c.closedWith, code)
}

func (c *fakeConn) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.pushed...)
}

func (c *fakeConn) closeCodes() []protocol.CloseCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.CloseCode(nil), c.closedWith...)
}

func (c *fakeConn) lastOp(t *testing.T) protocol.Op {
	t.Helper()
	msgs := c.messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1].Op
}

func testScanner() *model.User {
	return &model.User{
		ID:          "user-42",
		Email:       "scanner@example.com",
		DisplayName: "Scanner",
	}
}

func newTestManager() *Manager {
	return NewManager(service.NewTicketStore(), time.Minute)
}

func TestCreate(t *testing.T) {
	t.Run("pushes the fingerprint to the owning connection", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")

		fp, err := m.Create(conn)
		require.NoError(t, err)
		require.NotEmpty(t, fp)

		msgs := conn.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, protocol.OpPendingRemoteInit, msgs[0].Op)
		assert.Equal(t, fp, msgs[0].Fingerprint)
		assert.Equal(t, 1, m.ActiveSessions())
	})

	t.Run("creating again cancels the previous session", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")

		first, err := m.Create(conn)
		require.NoError(t, err)
		second, err := m.Create(conn)
		require.NoError(t, err)

		assert.Equal(t, 1, m.ActiveSessions())
		assert.False(t, m.Validate(first, testScanner()), "old fingerprint must be dead")
		assert.True(t, m.Validate(second, testScanner()))
	})
}

func TestValidate(t *testing.T) {
	t.Run("unknown fingerprint reports false without mutation", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")
		_, err := m.Create(conn)
		require.NoError(t, err)

		assert.False(t, m.Validate("no-such-fingerprint", testScanner()))
		assert.Equal(t, 1, m.ActiveSessions())
	})

	t.Run("pushes the scanner profile to the owner", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")
		fp, err := m.Create(conn)
		require.NoError(t, err)

		require.True(t, m.Validate(fp, testScanner()))

		msgs := conn.messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, protocol.OpPendingTicket, msgs[1].Op)
		require.NotNil(t, msgs[1].User)
		assert.Equal(t, "user-42", msgs[1].User.ID)
		assert.Equal(t, "Scanner", msgs[1].User.DisplayName)
	})

	t.Run("second validate on the same fingerprint reports false", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")
		fp, err := m.Create(conn)
		require.NoError(t, err)

		require.True(t, m.Validate(fp, testScanner()))
		assert.False(t, m.Validate(fp, testScanner()))
	})
}

func TestAcceptFlow(t *testing.T) {
	t.Run("full handoff delivers a redeemable ticket", func(t *testing.T) {
		tickets := service.NewTicketStore()
		m := NewManager(tickets, time.Minute)
		conn := newFakeConn("c1", "client-1")

		fp, err := m.Create(conn)
		require.NoError(t, err)
		require.True(t, m.Validate(fp, testScanner()))
		require.True(t, m.Accept(fp))

		msgs := conn.messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, protocol.OpPendingLogin, msgs[2].Op)
		require.NotEmpty(t, msgs[2].Ticket)

		assert.True(t, tickets.Redeem("client-1", msgs[2].Ticket))

		userID, ok := m.ConsumePendingLogin("client-1")
		require.True(t, ok)
		assert.Equal(t, "user-42", userID)

		// Fingerprint is consumed.
		assert.Equal(t, 0, m.ActiveSessions())
		assert.False(t, m.Validate(fp, testScanner()))
	})

	t.Run("accept before validate reports false", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")
		fp, err := m.Create(conn)
		require.NoError(t, err)

		assert.False(t, m.Accept(fp))
	})

	t.Run("pending login is consumed once", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")
		fp, err := m.Create(conn)
		require.NoError(t, err)
		require.True(t, m.Validate(fp, testScanner()))
		require.True(t, m.Accept(fp))

		_, ok := m.ConsumePendingLogin("client-1")
		require.True(t, ok)
		_, ok = m.ConsumePendingLogin("client-1")
		assert.False(t, ok)
	})
}

func TestDecline(t *testing.T) {
	t.Run("declined fingerprint is terminal and owner is reset", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")
		fp, err := m.Create(conn)
		require.NoError(t, err)

		require.True(t, m.Validate(fp, testScanner()))
		require.True(t, m.Decline(fp))

		assert.Equal(t, protocol.OpCancel, conn.lastOp(t))
		assert.Equal(t, []protocol.CloseCode{protocol.CloseFingerprintCanceled}, conn.closeCodes())

		// No pending_login was ever pushed.
		for _, msg := range conn.messages() {
			assert.NotEqual(t, protocol.OpPendingLogin, msg.Op)
		}

		assert.False(t, m.Validate(fp, testScanner()))
		assert.False(t, m.Accept(fp))
	})

	t.Run("decline before validate reports false", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")
		fp, err := m.Create(conn)
		require.NoError(t, err)

		assert.False(t, m.Decline(fp))
	})
}

func TestConnClosed(t *testing.T) {
	t.Run("timeout close tears down the owned session", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")
		fp, err := m.Create(conn)
		require.NoError(t, err)

		m.ConnClosed("c1", protocol.CloseTimeout)

		assert.Equal(t, 0, m.ActiveSessions())
		assert.False(t, m.Validate(fp, testScanner()))
	})

	t.Run("double teardown is harmless", func(t *testing.T) {
		m := newTestManager()
		conn := newFakeConn("c1", "client-1")
		_, err := m.Create(conn)
		require.NoError(t, err)

		m.ConnClosed("c1", protocol.CloseTimeout)
		m.ConnClosed("c1", protocol.CloseTimeout)

		assert.Equal(t, 0, m.ActiveSessions())
	})

	t.Run("unknown connection is ignored", func(t *testing.T) {
		m := newTestManager()
		m.ConnClosed("never-seen", protocol.CloseTimeout)
	})
}

func TestExpireStale(t *testing.T) {
	t.Run("sessions past their TTL are expired and owners closed", func(t *testing.T) {
		m := NewManager(service.NewTicketStore(), time.Minute)
		conn := newFakeConn("c1", "client-1")
		fp, err := m.Create(conn)
		require.NoError(t, err)

		count := m.ExpireStale(time.Now().Add(2 * time.Minute))

		assert.Equal(t, 1, count)
		assert.Equal(t, []protocol.CloseCode{protocol.CloseExpired}, conn.closeCodes())
		assert.False(t, m.Validate(fp, testScanner()))
	})

	t.Run("fresh sessions are untouched", func(t *testing.T) {
		m := NewManager(service.NewTicketStore(), time.Minute)
		conn := newFakeConn("c1", "client-1")
		_, err := m.Create(conn)
		require.NoError(t, err)

		count := m.ExpireStale(time.Now())

		assert.Equal(t, 0, count)
		assert.Empty(t, conn.closeCodes())
		assert.Equal(t, 1, m.ActiveSessions())
	})
}

func TestSingleWinner(t *testing.T) {
	t.Run("concurrent accept, decline and teardown leave one winner", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			m := newTestManager()
			conn := newFakeConn("c1", "client-1")
			fp, err := m.Create(conn)
			require.NoError(t, err)
			require.True(t, m.Validate(fp, testScanner()))

			var wg sync.WaitGroup
			results := make(chan bool, 2)

			wg.Add(3)
			go func() {
				defer wg.Done()
				results <- m.Accept(fp)
			}()
			go func() {
				defer wg.Done()
				results <- m.Decline(fp)
			}()
			go func() {
				defer wg.Done()
				m.ConnClosed("c1", protocol.CloseTimeout)
			}()

			wg.Wait()
			close(results)

			wins := 0
			for ok := range results {
				if ok {
					wins++
				}
			}

			assert.LessOrEqual(t, wins, 1, "accept and decline must never both win")
			assert.Equal(t, 0, m.ActiveSessions())
		}
	})
}

func TestStateTerminal(t *testing.T) {
	terminal := []State{StateConfirmed, StateDeclined, StateExpired, StateCanceled, StateTimedOut}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s.String())
	}

	assert.False(t, StateAwaitingScan.Terminal())
	assert.False(t, StateScannedPendingConfirm.Terminal())
}
