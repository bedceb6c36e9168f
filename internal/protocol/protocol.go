// Package protocol defines the wire format shared by the interaction-tier
// websocket server and its clients. Every frame is a single JSON envelope
// whose Op field selects which of the remaining fields are meaningful;
// dispatch is an exhaustive switch over the Op constants, never a lookup
// by raw string.
package protocol

import (
	"time"

	"github.com/stagedoor/handoff-server-go/internal/model"
)

// Op identifies a websocket message kind.
type Op string

const (
	// Server to client.
	OpHello             Op = "hello"
	OpHeartbeat         Op = "heartbeat"
	OpPendingRemoteInit Op = "pending_remote_init"
	OpPendingTicket     Op = "pending_ticket"
	OpPendingLogin      Op = "pending_login"
	OpCancel            Op = "cancel"

	// Client to server.
	OpHeartbeatAck Op = "heartbeat_ack"
)

// Message is the flattened websocket envelope. Only the fields belonging
// to the Op are populated; the rest are omitted from the JSON.
type Message struct {
	Op Op `json:"op"`

	// hello
	Timeout           int64 `json:"timeout,omitempty"`
	HeartbeatInterval int64 `json:"heartbeatInterval,omitempty"`

	// heartbeat / heartbeat_ack
	Timestamp int64 `json:"timestamp,omitempty"`

	// pending_remote_init
	Fingerprint string `json:"fingerprint,omitempty"`

	// pending_ticket
	User *model.PublicUser `json:"user,omitempty"`

	// pending_login
	Ticket string `json:"ticket,omitempty"`
}

func Hello(idleTimeout, heartbeatInterval time.Duration) Message {
	return Message{
		Op:                OpHello,
		Timeout:           idleTimeout.Milliseconds(),
		HeartbeatInterval: heartbeatInterval.Milliseconds(),
	}
}

func Heartbeat(ts time.Time) Message {
	return Message{Op: OpHeartbeat, Timestamp: ts.UnixMilli()}
}

func HeartbeatAck(ts time.Time) Message {
	return Message{Op: OpHeartbeatAck, Timestamp: ts.UnixMilli()}
}

func PendingRemoteInit(fingerprint string) Message {
	return Message{Op: OpPendingRemoteInit, Fingerprint: fingerprint}
}

func PendingTicket(user model.PublicUser) Message {
	return Message{Op: OpPendingTicket, User: &user}
}

func PendingLogin(ticket string) Message {
	return Message{Op: OpPendingLogin, Ticket: ticket}
}

func Cancel() Message {
	return Message{Op: OpCancel}
}
