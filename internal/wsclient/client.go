// Package wsclient is the device-side driver for the persistent login
// connection. It keeps the socket alive by acking server heartbeats,
// surfaces pairing pushes to the caller, and decides from the server's
// close reason whether a fresh connection would get a fresh fingerprint
// (expired, canceled) or just hit the same dead end (timeout).
package wsclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/stagedoor/handoff-server-go/internal/protocol"
)

const (
	defaultReconnectDelay = time.Second
	writeTimeout          = 10 * time.Second
)

// ErrConnectionTimeout is returned by Run when the server closed the
// connection for inactivity. Reconnecting after a timeout would only idle
// out again, so the driver stops instead.
var ErrConnectionTimeout = errors.New("wsclient: server closed connection for inactivity")

type Options struct {
	// ClientID is sent as the clientId cookie; required by the server.
	ClientID string

	// ReconnectDelay is the pause before redialing after a retryable
	// close. Zero means one second.
	ReconnectDelay time.Duration

	Dialer *websocket.Dialer
}

// Client drives one logical login connection across any number of
// underlying sockets.
type Client struct {
	url            string
	clientID       string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer

	events chan protocol.Message
}

func New(url string, opts Options) *Client {
	delay := opts.ReconnectDelay
	if delay == 0 {
		delay = defaultReconnectDelay
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Client{
		url:            url,
		clientID:       opts.ClientID,
		reconnectDelay: delay,
		dialer:         dialer,
		events:         make(chan protocol.Message, 16),
	}
}

// Events delivers every pairing push the server sends: pending_remote_init,
// pending_ticket, pending_login and cancel. Heartbeats are handled
// internally and never appear here.
func (c *Client) Events() <-chan protocol.Message {
	return c.events
}

// Run dials and services the connection until the context is canceled, the
// server times the connection out, or a non-retryable error occurs. Closes
// with the expired or fingerprint-canceled reasons trigger an automatic
// redial; the server hands a fresh fingerprint to the new connection.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	for {
		retry, err := c.runOnce(ctx)
		if !retry {
			return err
		}

		log.Info().
			Dur("delay", c.reconnectDelay).
			Msg("reconnecting login connection")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) runOnce(ctx context.Context) (retry bool, err error) {
	header := http.Header{}
	header.Set("Cookie", "clientId="+c.clientID)

	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Unblock the read loop on cancellation.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return c.classifyClose(err)
		}

		switch msg.Op {
		case protocol.OpHello:
			log.Debug().
				Int64("timeoutMs", msg.Timeout).
				Int64("heartbeatIntervalMs", msg.HeartbeatInterval).
				Msg("login connection established")

		case protocol.OpHeartbeat:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(protocol.HeartbeatAck(time.Now())); err != nil {
				return c.classifyClose(err)
			}

		default:
			select {
			case c.events <- msg:
			default:
				log.Warn().Str("op", string(msg.Op)).Msg("event buffer full, dropping push")
			}
		}
	}
}

// classifyClose turns a read or write error into a reconnect decision.
func (c *Client) classifyClose(err error) (bool, error) {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false, err
	}

	code, known := protocol.CloseCodeFromWire(closeErr.Code)
	if !known {
		return false, err
	}

	switch code {
	case protocol.CloseExpired, protocol.CloseFingerprintCanceled:
		log.Debug().Str("reason", code.Reason()).Msg("retryable server close")
		return true, nil
	case protocol.CloseTimeout:
		return false, ErrConnectionTimeout
	default:
		return false, err
	}
}
