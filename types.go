package agentclient

// ProtocolVersion is the wire protocol version this client implements. Start
// refuses to connect to an agent reporting a different version.
const ProtocolVersion = 1

// ConnectionState describes the client's connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// ReasoningEffort selects how much reasoning the model applies to a session.
type ReasoningEffort string

const (
	ReasoningLow    ReasoningEffort = "low"
	ReasoningMedium ReasoningEffort = "medium"
	ReasoningHigh   ReasoningEffort = "high"
	ReasoningXHigh  ReasoningEffort = "xhigh"
)

// PingResponse is the agent's reply to a ping. ProtocolVersion is nil when
// the agent predates version reporting.
type PingResponse struct {
	Message         string `json:"message"`
	Timestamp       int64  `json:"timestamp"`
	ProtocolVersion *int   `json:"protocolVersion,omitempty"`
}

// StatusInfo describes the agent build.
type StatusInfo struct {
	Version         string `json:"version"`
	ProtocolVersion *int   `json:"protocolVersion,omitempty"`
}

// AuthStatus describes the agent's authentication state.
type AuthStatus struct {
	Authenticated bool   `json:"isAuthenticated"`
	AuthType      string `json:"authType,omitempty"`
	Host          string `json:"host,omitempty"`
	Login         string `json:"login,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// ModelSupports enumerates model feature flags.
type ModelSupports struct {
	Vision          bool `json:"vision"`
	ReasoningEffort bool `json:"reasoningEffort"`
}

// ModelLimits carries model context limits. Key casing follows the wire.
type ModelLimits struct {
	MaxPromptTokens        int `json:"max_prompt_tokens,omitempty"`
	MaxContextWindowTokens int `json:"max_context_window_tokens,omitempty"`
}

// ModelCapabilities groups a model's feature support and limits.
type ModelCapabilities struct {
	Supports ModelSupports `json:"supports"`
	Limits   ModelLimits   `json:"limits"`
}

// ModelInfo describes one model the agent can run sessions with.
type ModelInfo struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Capabilities ModelCapabilities `json:"capabilities"`
}

// SessionMetadata describes a session known to the agent, whether or not it
// is held by this client.
type SessionMetadata struct {
	SessionID    string `json:"sessionId"`
	StartTime    string `json:"startTime,omitempty"`
	ModifiedTime string `json:"modifiedTime,omitempty"`
	Summary      string `json:"summary,omitempty"`
	IsRemote     bool   `json:"isRemote,omitempty"`
}
