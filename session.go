package agentclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Session is one conversation with the agent. Sessions are created through
// Client.CreateSession or Client.ResumeSession and share the client's RPC
// engine; all peer-initiated traffic carrying this session's id is routed
// here by the client.
type Session struct {
	id            string
	workspacePath string
	client        *Client
	log           *slog.Logger

	events eventRegistry[EventType, SessionEvent]

	mu                sync.Mutex
	toolHandlers      map[string]ToolHandler
	permissionHandler PermissionHandler
	userInputHandler  UserInputHandler
	hooks             *SessionHooks
}

func newSession(client *Client, id, workspacePath string) *Session {
	return &Session{
		id:            id,
		workspacePath: workspacePath,
		client:        client,
		log:           client.log,
		toolHandlers:  map[string]ToolHandler{},
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// WorkspacePath returns the workspace path reported at creation, if any.
func (s *Session) WorkspacePath() string { return s.workspacePath }

// applyConfig installs the session's callback surface. Each call replaces
// the previous registrations wholesale.
func (s *Session) applyConfig(cfg *SessionConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHandlers = map[string]ToolHandler{}
	if cfg == nil {
		s.permissionHandler = nil
		s.userInputHandler = nil
		s.hooks = nil
		return
	}
	for _, t := range cfg.Tools {
		s.toolHandlers[t.Name] = t.Handler
	}
	s.permissionHandler = cfg.OnPermissionRequest
	s.userInputHandler = cfg.OnUserInputRequest
	s.hooks = cfg.Hooks
}

// Send sends a prompt to the session and returns the server-assigned message
// id without waiting for the turn to complete.
func (s *Session) Send(ctx context.Context, prompt string) (string, error) {
	return s.SendMessage(ctx, MessageOptions{Prompt: prompt})
}

// SendMessage is Send with attachments and mode control.
func (s *Session) SendMessage(ctx context.Context, opts MessageOptions) (string, error) {
	params := map[string]any{
		"sessionId": s.id,
		"prompt":    opts.Prompt,
	}
	if len(opts.Attachments) > 0 {
		params["attachments"] = opts.Attachments
	}
	if opts.Mode != "" {
		params["mode"] = opts.Mode
	}
	var resp struct {
		MessageID string `json:"messageId"`
	}
	if err := s.client.call(ctx, "session.send", params, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// SendAndWait sends a prompt and blocks until the session goes idle,
// returning the last assistant.message event of the turn (nil if the turn
// produced none). A session.error event fails the wait with the event's
// message. Without a context deadline the client's request timeout applies.
func (s *Session) SendAndWait(ctx context.Context, prompt string) (*SessionEvent, error) {
	return s.SendAndWaitMessage(ctx, MessageOptions{Prompt: prompt})
}

// SendAndWaitMessage is SendAndWait with attachments and mode control.
func (s *Session) SendAndWaitMessage(ctx context.Context, opts MessageOptions) (*SessionEvent, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.client.waitTimeout())
		defer cancel()
	}

	type outcome struct {
		last *SessionEvent
		err  error
	}
	done := make(chan outcome, 1)
	var mu sync.Mutex
	var last *SessionEvent

	// Subscribe before sending so events racing ahead of the send response
	// are not lost.
	off := s.OnAny(func(ev SessionEvent) {
		switch ev.Type {
		case EventAssistantMessage:
			mu.Lock()
			evCopy := ev
			last = &evCopy
			mu.Unlock()
		case EventSessionIdle:
			mu.Lock()
			l := last
			mu.Unlock()
			select {
			case done <- outcome{last: l}:
			default:
			}
		case EventSessionError:
			msg := "Unknown error"
			if m, ok := ev.Data["message"].(string); ok && m != "" {
				msg = m
			}
			select {
			case done <- outcome{err: fmt.Errorf("agentclient: session error: %s", msg)}:
			default:
			}
		}
	})
	defer off()

	if _, err := s.SendMessage(ctx, opts); err != nil {
		return nil, err
	}

	select {
	case out := <-done:
		return out.last, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("agentclient: timed out waiting for session %s to go idle: %w", s.id, ctx.Err())
	}
}

// On subscribes to one event type. The returned closure unsubscribes and is
// safe to call more than once.
func (s *Session) On(eventType EventType, handler EventHandler) func() {
	return s.events.on(eventType, handler)
}

// OnAny subscribes to every event on this session. Wildcard handlers run
// after type-scoped handlers, each group in registration order.
func (s *Session) OnAny(handler EventHandler) func() {
	return s.events.onAny(handler)
}

// GetMessages fetches the session's full event history. Nothing is cached
// locally; each call round-trips to the agent.
func (s *Session) GetMessages(ctx context.Context) ([]SessionEvent, error) {
	var resp struct {
		Events []map[string]any `json:"events"`
	}
	if err := s.client.call(ctx, "session.getMessages", map[string]any{"sessionId": s.id}, &resp); err != nil {
		return nil, err
	}
	events := make([]SessionEvent, 0, len(resp.Events))
	for _, m := range resp.Events {
		t, _ := m["type"].(string)
		events = append(events, SessionEvent{Type: EventType(t), Data: m})
	}
	return events, nil
}

// Abort interrupts the in-flight message, leaving local handler state
// untouched.
func (s *Session) Abort(ctx context.Context) error {
	return s.client.call(ctx, "session.abort", map[string]any{"sessionId": s.id}, nil)
}

// Destroy ends the session on the agent, deregisters it from the client,
// and clears all local handler state.
func (s *Session) Destroy(ctx context.Context) error {
	if err := s.client.call(ctx, "session.destroy", map[string]any{"sessionId": s.id}, nil); err != nil {
		return err
	}
	s.client.removeSession(s.id)
	s.clearHandlers()
	return nil
}

func (s *Session) clearHandlers() {
	s.events.clear()
	s.mu.Lock()
	s.toolHandlers = map[string]ToolHandler{}
	s.permissionHandler = nil
	s.userInputHandler = nil
	s.hooks = nil
	s.mu.Unlock()
}

// dispatchEvent fans a live event out to this session's handlers. Data is
// never nil when handlers run.
func (s *Session) dispatchEvent(ev SessionEvent) {
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}
	dispatchAll(s.log, "session event handler", s.events.handlers(ev.Type), ev)
}

func (s *Session) toolHandler(name string) ToolHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolHandlers[name]
}

// invokeTool runs the named tool handler and normalizes its outcome. Unknown
// tools, handler errors, and handler panics all become failure-shaped
// results so the agent always receives a usable object.
func (s *Session) invokeTool(ctx context.Context, inv *ToolInvocation) *ToolResult {
	handler := s.toolHandler(inv.Name)
	if handler == nil {
		return &ToolResult{
			TextResultForLLM: fmt.Sprintf("Tool '%s' is not supported by this client instance.", inv.Name),
			ResultType:       ToolResultFailure,
			Error:            fmt.Sprintf("tool '%s' not supported", inv.Name),
			ToolTelemetry:    map[string]any{},
		}
	}
	res, err := runToolHandler(ctx, handler, inv)
	if err != nil {
		return &ToolResult{
			TextResultForLLM: "Invoking this tool produced an error. Detailed information is not available.",
			ResultType:       ToolResultFailure,
			Error:            err.Error(),
			ToolTelemetry:    map[string]any{},
		}
	}
	return normalizeToolResult(res)
}

func runToolHandler(ctx context.Context, handler ToolHandler, inv *ToolInvocation) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool handler panicked: %v", r)
		}
	}()
	return handler(ctx, inv)
}

// handlePermission decides a permission request. Absence of a handler, a
// handler failure, or an unusable decision all deny.
func (s *Session) handlePermission(ctx context.Context, req *PermissionRequest) (decision *PermissionDecision) {
	s.mu.Lock()
	handler := s.permissionHandler
	s.mu.Unlock()
	if handler == nil {
		return &PermissionDecision{Kind: deniedFallbackKind}
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("permission handler panicked, denying", slog.Any("panic", r))
			decision = &PermissionDecision{Kind: deniedFallbackKind}
		}
	}()
	d, err := handler(ctx, req, s.id)
	if err != nil {
		s.log.Warn("permission handler failed, denying", slog.String("err", err.Error()))
		return &PermissionDecision{Kind: deniedFallbackKind}
	}
	if d == nil || d.Kind == "" {
		return &PermissionDecision{Kind: deniedFallbackKind}
	}
	return d
}

// handleUserInput answers a user-input request. A missing handler is an
// error: there is no safe default answer to give on the user's behalf.
func (s *Session) handleUserInput(ctx context.Context, req *UserInputRequest) (*UserInputResponse, error) {
	s.mu.Lock()
	handler := s.userInputHandler
	s.mu.Unlock()
	if handler == nil {
		return nil, errors.New("User input requested but no handler registered")
	}
	resp, err := handler(ctx, req, s.id)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("user input handler returned no response")
	}
	return resp, nil
}

// handleHooks runs the matching hook handler. No hooks bundle or no matching
// handler yields a nil output with no error.
func (s *Session) handleHooks(ctx context.Context, hookType HookType, input map[string]any) (map[string]any, error) {
	s.mu.Lock()
	hooks := s.hooks
	s.mu.Unlock()
	handler := hooks.handlerFor(hookType)
	if handler == nil {
		return nil, nil
	}
	if input == nil {
		input = map[string]any{}
	}
	return handler(ctx, input, s.id)
}
