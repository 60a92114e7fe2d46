package agentclient

import "context"

// HookType identifies a lifecycle point at which the agent consults the
// client before proceeding.
type HookType string

const (
	HookPreToolUse          HookType = "preToolUse"
	HookPostToolUse         HookType = "postToolUse"
	HookUserPromptSubmitted HookType = "userPromptSubmitted"
	HookSessionStart        HookType = "sessionStart"
	HookSessionEnd          HookType = "sessionEnd"
	HookErrorOccurred       HookType = "errorOccurred"
)

// HookHandler processes a hook invocation. The returned map is sent back to
// the agent as the hook output; a nil map with a nil error reports an empty
// output. A non-nil error fails the hook invocation.
type HookHandler func(ctx context.Context, input map[string]any, sessionID string) (map[string]any, error)

// SessionHooks registers handlers for agent-side lifecycle hooks. Nil fields
// are simply not invoked.
type SessionHooks struct {
	OnPreToolUse          HookHandler
	OnPostToolUse         HookHandler
	OnUserPromptSubmitted HookHandler
	OnSessionStart        HookHandler
	OnSessionEnd          HookHandler
	OnErrorOccurred       HookHandler
}

// handlerFor returns the handler registered for the given hook type, or nil.
func (h *SessionHooks) handlerFor(t HookType) HookHandler {
	if h == nil {
		return nil
	}
	switch t {
	case HookPreToolUse:
		return h.OnPreToolUse
	case HookPostToolUse:
		return h.OnPostToolUse
	case HookUserPromptSubmitted:
		return h.OnUserPromptSubmitted
	case HookSessionStart:
		return h.OnSessionStart
	case HookSessionEnd:
		return h.OnSessionEnd
	case HookErrorOccurred:
		return h.OnErrorOccurred
	default:
		return nil
	}
}

// hasAny reports whether at least one hook handler is registered.
func (h *SessionHooks) hasAny() bool {
	if h == nil {
		return false
	}
	return h.OnPreToolUse != nil ||
		h.OnPostToolUse != nil ||
		h.OnUserPromptSubmitted != nil ||
		h.OnSessionStart != nil ||
		h.OnSessionEnd != nil ||
		h.OnErrorOccurred != nil
}
