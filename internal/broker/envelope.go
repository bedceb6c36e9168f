// Package broker routes actions between server instances over pub/sub.
// Each instance listens on its own channel; a request names the instance
// that must handle it, and the response comes back on the requester's
// channel correlated by action id. The requester never learns or cares
// which process it is talking to beyond that instance id.
package broker

import (
	"encoding/json"
	"fmt"
)

// Routed events.
const (
	EventStageCreate = "STAGE_CREATE"
	EventStageJoin   = "STAGE_JOIN"
)

// Broker-level response codes. The numbering is part of the wire contract
// with deployed instances.
const (
	CodeBadRequest      = 5
	CodeValidationError = 8
)

// ErrorPayload is the error half of a response envelope. Error is either a
// plain message or a structured validation report.
type ErrorPayload struct {
	Code  int `json:"code"`
	Error any `json:"error"`
}

// Message returns the payload's error as a printable string.
func (p *ErrorPayload) Message() string {
	switch v := p.Error.(type) {
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// Envelope is the single frame format on every action channel. A request
// carries ReqInstanceID so the handler knows where to send the response;
// responses leave it empty.
type Envelope struct {
	ActionID      string          `json:"actionId"`
	Event         string          `json:"event"`
	ReqInstanceID string          `json:"reqServerId,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *ErrorPayload   `json:"error,omitempty"`
}
