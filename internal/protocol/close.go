package protocol

// CloseCode enumerates the reasons the server terminates a persistent
// connection. The numbering (1..3) is the protocol-level taxonomy; on the
// websocket wire it is shifted into the RFC 6455 private-use range because
// codes below 1000 are not valid close codes.
type CloseCode int

const (
	CloseTimeout             CloseCode = 1
	CloseExpired             CloseCode = 2
	CloseFingerprintCanceled CloseCode = 3
)

const wireCloseBase = 4000

// Reason returns the human-readable close reason sent alongside the code.
func (c CloseCode) Reason() string {
	switch c {
	case CloseTimeout:
		return "Connection timeout"
	case CloseExpired:
		return "Connection expired"
	case CloseFingerprintCanceled:
		return "Fingerprint canceled"
	default:
		return "Connection closed"
	}
}

// Wire returns the RFC 6455 close code carried on the socket.
func (c CloseCode) Wire() int {
	return wireCloseBase + int(c)
}

// CloseCodeFromWire maps a wire-level close code back to the taxonomy.
func CloseCodeFromWire(code int) (CloseCode, bool) {
	c := CloseCode(code - wireCloseBase)
	switch c {
	case CloseTimeout, CloseExpired, CloseFingerprintCanceled:
		return c, true
	}
	return 0, false
}
