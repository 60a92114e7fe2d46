package agentclient

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected indicates an operation that requires a live connection
	// was attempted before Start (and auto-start is disabled).
	ErrNotConnected = errors.New("agentclient: not connected")
	// ErrStopped indicates the client was stopped while the operation was in
	// flight.
	ErrStopped = errors.New("agentclient: client stopped")
	// ErrConnectionClosed indicates the agent closed the connection.
	ErrConnectionClosed = errors.New("agentclient: connection closed")
	// ErrProtocolMismatch indicates the agent does not speak the protocol
	// version this client was built against.
	ErrProtocolMismatch = errors.New("agentclient: protocol version mismatch")
)

// RPCError is an error response from the agent. Use errors.As to recover it
// from any client operation.
type RPCError struct {
	Code    int
	Message string
	Data    any
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("agentclient: rpc error %d: %s", e.Code, e.Message)
}
