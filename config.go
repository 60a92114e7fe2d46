package agentclient

import "context"

// SystemMessageMode selects how SystemMessageConfig.Content combines with
// the agent's built-in system message.
type SystemMessageMode string

const (
	SystemMessageAppend  SystemMessageMode = "append"
	SystemMessageReplace SystemMessageMode = "replace"
)

// SystemMessageConfig customizes the system message for a session.
type SystemMessageConfig struct {
	Mode    SystemMessageMode `json:"mode"`
	Content string            `json:"content"`
}

// AppendSystemMessage builds a SystemMessageConfig that appends content to
// the agent's built-in system message.
func AppendSystemMessage(content string) *SystemMessageConfig {
	return &SystemMessageConfig{Mode: SystemMessageAppend, Content: content}
}

// ReplaceSystemMessage builds a SystemMessageConfig that replaces the agent's
// built-in system message.
func ReplaceSystemMessage(content string) *SystemMessageConfig {
	return &SystemMessageConfig{Mode: SystemMessageReplace, Content: content}
}

// ProviderConfig points a session at a custom model provider.
type ProviderConfig struct {
	Type        string `json:"type,omitempty"`
	BaseURL     string `json:"baseUrl,omitempty"`
	APIKey      string `json:"apiKey,omitempty"`
	BearerToken string `json:"bearerToken,omitempty"`
	WireAPI     string `json:"wireApi,omitempty"`
}

// MCPServerConfig describes an MCP server the agent should connect to on
// behalf of a session.
type MCPServerConfig struct {
	Tools   []string          `json:"tools,omitempty"`
	Type    string            `json:"type,omitempty"`
	Timeout int               `json:"timeout,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	CWD     string            `json:"cwd,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// CustomAgentConfig defines a named sub-agent available within a session.
type CustomAgentConfig struct {
	Name        string                     `json:"name"`
	DisplayName string                     `json:"displayName,omitempty"`
	Description string                     `json:"description,omitempty"`
	Tools       []string                   `json:"tools,omitempty"`
	Prompt      string                     `json:"prompt,omitempty"`
	MCPServers  map[string]MCPServerConfig `json:"mcpServers,omitempty"`
	Infer       bool                       `json:"infer,omitempty"`
}

// InfiniteSessionConfig tunes automatic context compaction.
type InfiniteSessionConfig struct {
	Enabled                       bool    `json:"enabled"`
	BackgroundCompactionThreshold float64 `json:"backgroundCompactionThreshold,omitempty"`
	BufferExhaustionThreshold     float64 `json:"bufferExhaustionThreshold,omitempty"`
}

// PermissionRequest is the agent's description of an action awaiting
// approval. Raw holds the complete request object for fields the typed
// surface does not cover.
type PermissionRequest struct {
	Kind       string         `json:"kind"`
	ToolCallID string         `json:"toolCallId"`
	Raw        map[string]any `json:"-"`
}

// PermissionDecision is the client's answer to a PermissionRequest. Only
// Kind crosses the wire.
type PermissionDecision struct {
	Kind string `json:"kind"`
}

// deniedFallbackKind is reported when no permission handler is registered,
// the handler fails, or it returns no usable decision.
const deniedFallbackKind = "denied-no-approval-rule-and-could-not-request-from-user"

// PermissionHandler decides whether the agent may proceed with the requested
// action.
type PermissionHandler func(ctx context.Context, req *PermissionRequest, sessionID string) (*PermissionDecision, error)

// UserInputRequest asks the user a question, optionally constrained to a
// fixed set of choices.
type UserInputRequest struct {
	Question      string   `json:"question"`
	Choices       []string `json:"choices,omitempty"`
	AllowFreeform bool     `json:"allowFreeform"`
}

// UserInputResponse carries the user's answer back to the agent.
type UserInputResponse struct {
	Answer      string `json:"answer"`
	WasFreeform bool   `json:"wasFreeform"`
}

// UserInputHandler answers a UserInputRequest. Sessions created without one
// fail user-input requests outright; there is no safe default answer.
type UserInputHandler func(ctx context.Context, req *UserInputRequest, sessionID string) (*UserInputResponse, error)

// SessionConfig configures session creation and resumption. The zero value
// is a valid default configuration.
type SessionConfig struct {
	// SessionID pre-assigns the session identifier on create. On resume the
	// identifier is passed to Resume directly and this field is ignored.
	SessionID string

	Model           string
	ReasoningEffort ReasoningEffort
	ConfigDir       string

	// Tools are client-side tools offered to the agent. Each (re)creation
	// replaces the session's previous tool registrations wholesale.
	Tools []Tool

	SystemMessage  *SystemMessageConfig
	AvailableTools []string
	ExcludedTools  []string
	Provider       *ProviderConfig

	OnPermissionRequest PermissionHandler
	OnUserInputRequest  UserInputHandler
	Hooks               *SessionHooks

	WorkingDirectory string
	Streaming        bool

	MCPServers       map[string]MCPServerConfig
	CustomAgents     []CustomAgentConfig
	SkillDirectories []string
	DisabledSkills   []string
	InfiniteSessions *InfiniteSessionConfig

	// DisableResume prevents the session from being resumable later. Only
	// meaningful on Resume.
	DisableResume bool
}

// createPayload builds the session.create / session.resume parameter object.
// Unset fields are omitted entirely rather than sent as null.
func (c *SessionConfig) createPayload() map[string]any {
	payload := map[string]any{}
	if c == nil {
		return payload
	}
	if c.Model != "" {
		payload["model"] = c.Model
	}
	if c.SessionID != "" {
		payload["sessionId"] = c.SessionID
	}
	if c.ReasoningEffort != "" {
		payload["reasoningEffort"] = c.ReasoningEffort
	}
	if c.ConfigDir != "" {
		payload["configDir"] = c.ConfigDir
	}
	if len(c.Tools) > 0 {
		defs := make([]map[string]any, 0, len(c.Tools))
		for _, t := range c.Tools {
			def := map[string]any{"name": t.Name}
			if t.Description != "" {
				def["description"] = t.Description
			}
			if t.Parameters != nil {
				def["parameters"] = t.Parameters
			}
			defs = append(defs, def)
		}
		payload["tools"] = defs
	}
	if c.SystemMessage != nil {
		payload["systemMessage"] = c.SystemMessage
	}
	if c.AvailableTools != nil {
		payload["availableTools"] = c.AvailableTools
	}
	if c.ExcludedTools != nil {
		payload["excludedTools"] = c.ExcludedTools
	}
	if c.Provider != nil {
		payload["provider"] = c.Provider
	}
	if c.OnPermissionRequest != nil {
		payload["requestPermission"] = true
	}
	if c.OnUserInputRequest != nil {
		payload["requestUserInput"] = true
	}
	if c.Hooks.hasAny() {
		payload["hooks"] = true
	}
	if c.WorkingDirectory != "" {
		payload["workingDirectory"] = c.WorkingDirectory
	}
	if c.Streaming {
		payload["streaming"] = true
	}
	if c.MCPServers != nil {
		payload["mcpServers"] = c.MCPServers
	}
	if c.CustomAgents != nil {
		payload["customAgents"] = c.CustomAgents
	}
	if c.SkillDirectories != nil {
		payload["skillDirectories"] = c.SkillDirectories
	}
	if c.DisabledSkills != nil {
		payload["disabledSkills"] = c.DisabledSkills
	}
	if c.InfiniteSessions != nil {
		payload["infiniteSessions"] = c.InfiniteSessions
	}
	return payload
}

// MessageOptions shapes a session.send beyond the prompt text.
type MessageOptions struct {
	Prompt      string           `json:"prompt"`
	Attachments []map[string]any `json:"attachments,omitempty"`
	Mode        string           `json:"mode,omitempty"`
}
