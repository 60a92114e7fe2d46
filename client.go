package agentclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/agent-client-go/internal/framing"
	"github.com/ggoodman/agent-client-go/internal/jsonrpc"
	"github.com/ggoodman/agent-client-go/internal/logctx"
	"github.com/ggoodman/agent-client-go/internal/rpc"
)

// Client owns the connection to one agent process: it establishes the
// transport, verifies protocol compatibility, issues outgoing RPCs, and
// routes agent-initiated callbacks to the addressed Session.
type Client struct {
	log  *slog.Logger
	opts *clientOptions

	mu       sync.Mutex
	state    ConnectionState
	launcher *launcher
	engine   *rpc.Engine
	sessions map[string]*Session

	modelsMu sync.Mutex
	models   []ModelInfo

	lifecycle eventRegistry[LifecycleEventType, SessionLifecycleEvent]
}

// New builds a Client. The default configuration spawns the agent CLI in
// stdio mode on Start.
func New(opts ...Option) (*Client, error) {
	o := defaultClientOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.serverURL != "" {
		if o.commandSet || o.useTCP || o.injectedIO {
			return nil, errors.New("agentclient: WithServerURL is mutually exclusive with WithCommand, WithTCP, and WithIO")
		}
		if o.authToken != "" || o.noAutoLogin {
			return nil, errors.New("agentclient: auth options cannot be combined with WithServerURL")
		}
	}
	if o.injectedIO && o.useTCP {
		return nil, errors.New("agentclient: WithIO is mutually exclusive with WithTCP")
	}

	log := o.log
	if log == nil {
		log = slog.Default()
	}
	log = slog.New(logctx.Handler{Handler: log.Handler()})

	return &Client{
		log:      log,
		opts:     o,
		state:    StateDisconnected,
		sessions: map[string]*Session{},
	}, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start establishes the transport and performs the protocol handshake. It is
// a no-op when already connected. On handshake failure the transport is torn
// down and the client never reaches the connected state.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		c.setState(StateError)
		return err
	}
	c.setState(StateConnected)
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	l := newLauncher(c.opts)
	r, w, err := l.connect()
	if err != nil {
		return err
	}

	eng := rpc.New(framing.NewStream(r, w),
		rpc.WithLogger(c.log),
		rpc.WithCallTimeout(c.waitTimeout()),
	)
	c.registerRoutes(eng)
	eng.Start()

	c.mu.Lock()
	c.launcher = l
	c.engine = eng
	c.mu.Unlock()

	if err := c.verifyProtocolVersion(ctx); err != nil {
		eng.Close(ErrStopped)
		_ = l.closeTransport()
		l.kill()
		c.mu.Lock()
		c.launcher = nil
		c.engine = nil
		c.mu.Unlock()
		return err
	}
	return nil
}

// verifyProtocolVersion refuses to proceed against an agent that does not
// speak this client's protocol revision.
func (c *Client) verifyProtocolVersion(ctx context.Context) error {
	resp, err := c.Ping(ctx, "")
	if err != nil {
		return fmt.Errorf("agentclient: handshake ping: %w", err)
	}
	if resp.ProtocolVersion == nil {
		return fmt.Errorf("%w: client expects version %d, but the server does not report a protocol version", ErrProtocolMismatch, ProtocolVersion)
	}
	if *resp.ProtocolVersion != ProtocolVersion {
		return fmt.Errorf("%w: client expects version %d, but the server reports version %d", ErrProtocolMismatch, ProtocolVersion, *resp.ProtocolVersion)
	}
	return nil
}

// Stop destroys all live sessions best-effort, then shuts the engine down,
// closes the transport, and kills a spawned CLI. Per-session destroy
// failures are joined into the returned error; teardown proceeds regardless.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Destroy(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy session %s: %w", s.id, err))
		}
	}
	c.teardown(&errs)
	return errors.Join(errs...)
}

// ForceStop tears the connection down immediately, skipping the per-session
// destroy RPCs.
func (c *Client) ForceStop() {
	var errs []error
	c.teardown(&errs)
}

func (c *Client) teardown(errs *[]error) {
	c.mu.Lock()
	eng := c.engine
	l := c.launcher
	c.engine = nil
	c.launcher = nil
	c.sessions = map[string]*Session{}
	c.state = StateDisconnected
	c.mu.Unlock()

	c.modelsMu.Lock()
	c.models = nil
	c.modelsMu.Unlock()

	if eng != nil {
		eng.Close(ErrStopped)
	}
	if l != nil {
		if err := l.closeTransport(); err != nil {
			*errs = append(*errs, err)
		}
		l.kill()
	}
}

func (c *Client) setState(s ConnectionState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// CreateSession starts a new conversation and registers its callback surface
// from cfg. A nil cfg creates a default session.
func (c *Client) CreateSession(ctx context.Context, cfg *SessionConfig) (*Session, error) {
	return c.establishSession(ctx, "session.create", cfg.createPayload(), cfg)
}

// ResumeSession reattaches to an existing conversation by id. The callback
// surface is re-registered from cfg; a resumed session has none carried over.
func (c *Client) ResumeSession(ctx context.Context, sessionID string, cfg *SessionConfig) (*Session, error) {
	payload := cfg.createPayload()
	payload["sessionId"] = sessionID
	if cfg != nil && cfg.DisableResume {
		payload["disableResume"] = true
	}
	return c.establishSession(ctx, "session.resume", payload, cfg)
}

func (c *Client) establishSession(ctx context.Context, method string, payload map[string]any, cfg *SessionConfig) (*Session, error) {
	var resp struct {
		SessionID     string `json:"sessionId"`
		WorkspacePath string `json:"workspacePath"`
	}
	if err := c.call(ctx, method, payload, &resp); err != nil {
		return nil, err
	}
	sess := newSession(c, resp.SessionID, resp.WorkspacePath)
	sess.applyConfig(cfg)
	c.mu.Lock()
	c.sessions[resp.SessionID] = sess
	c.mu.Unlock()
	return sess, nil
}

// Ping round-trips a message through the agent.
func (c *Client) Ping(ctx context.Context, message string) (*PingResponse, error) {
	var resp PingResponse
	if err := c.call(ctx, "ping", map[string]any{"message": message}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports the agent's version information.
func (c *Client) Status(ctx context.Context) (*StatusInfo, error) {
	var resp StatusInfo
	if err := c.call(ctx, "status.get", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthStatus reports the agent's authentication state.
func (c *Client) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	var resp AuthStatus
	if err := c.call(ctx, "auth.getStatus", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListModels returns the models the agent can use. The first successful
// fetch is cached until Stop; callers receive a copy.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	c.modelsMu.Lock()
	defer c.modelsMu.Unlock()
	if c.models == nil {
		var resp struct {
			Models []ModelInfo `json:"models"`
		}
		if err := c.call(ctx, "models.list", struct{}{}, &resp); err != nil {
			return nil, err
		}
		c.models = resp.Models
		if c.models == nil {
			c.models = []ModelInfo{}
		}
	}
	out := make([]ModelInfo, len(c.models))
	copy(out, c.models)
	return out, nil
}

// ListSessions returns metadata for every session the agent knows about,
// including ones not held by this client.
func (c *Client) ListSessions(ctx context.Context) ([]SessionMetadata, error) {
	var resp struct {
		Sessions []SessionMetadata `json:"sessions"`
	}
	if err := c.call(ctx, "session.list", struct{}{}, &resp); err != nil {
		return nil, err
	}
	if resp.Sessions == nil {
		return []SessionMetadata{}, nil
	}
	return resp.Sessions, nil
}

// DeleteSession removes a persisted session from the agent.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := c.call(ctx, "session.delete", map[string]any{"sessionId": sessionID}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return fmt.Errorf("agentclient: failed to delete session %s: %s", sessionID, msg)
	}
	c.removeSession(sessionID)
	return nil
}

// ForegroundSession returns the id of the session foregrounded in the
// agent's interactive surface.
func (c *Client) ForegroundSession(ctx context.Context) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.call(ctx, "session.getForeground", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// SetForegroundSession foregrounds a session in the agent's interactive
// surface.
func (c *Client) SetForegroundSession(ctx context.Context, sessionID string) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := c.call(ctx, "session.setForeground", map[string]any{"sessionId": sessionID}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "Unknown"
		}
		return fmt.Errorf("agentclient: failed to set foreground session: %s", msg)
	}
	return nil
}

// LastSessionID returns the most recently active session id, or empty when
// the agent has none.
func (c *Client) LastSessionID(ctx context.Context) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.call(ctx, "session.getLastId", struct{}{}, &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// OnLifecycle subscribes to one lifecycle event type. The returned closure
// unsubscribes.
func (c *Client) OnLifecycle(eventType LifecycleEventType, handler LifecycleHandler) func() {
	return c.lifecycle.on(eventType, handler)
}

// OnAnyLifecycle subscribes to every lifecycle event. Wildcard handlers run
// after type-scoped handlers.
func (c *Client) OnAnyLifecycle(handler LifecycleHandler) func() {
	return c.lifecycle.onAny(handler)
}

// call issues an outgoing RPC and decodes its result into result when
// non-nil. Engine-level errors are converted to this package's error surface
// here, in one place.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	eng, err := c.ensureEngine(ctx)
	if err != nil {
		return err
	}
	raw, err := eng.Call(ctx, method, params)
	if err != nil {
		return convertRPCError(err)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("agentclient: decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) ensureEngine(ctx context.Context) (*rpc.Engine, error) {
	c.mu.Lock()
	eng := c.engine
	c.mu.Unlock()
	if eng != nil {
		return eng, nil
	}
	if !c.opts.autoStart {
		return nil, ErrNotConnected
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	eng = c.engine
	c.mu.Unlock()
	if eng == nil {
		return nil, ErrNotConnected
	}
	return eng, nil
}

func convertRPCError(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Code: int(rpcErr.Code), Message: rpcErr.Message, Data: rpcErr.Data}
	}
	if errors.Is(err, ErrStopped) {
		return ErrStopped
	}
	if errors.Is(err, rpc.ErrEngineClosed) {
		return ErrConnectionClosed
	}
	return err
}

func (c *Client) waitTimeout() time.Duration {
	if c.opts.requestTimeout > 0 {
		return c.opts.requestTimeout
	}
	return rpc.DefaultCallTimeout
}

func (c *Client) session(id string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[id]
}

func (c *Client) removeSession(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// registerRoutes installs the inbound dispatch surface: two notifications
// and four request methods, each fanned out by sessionId.
func (c *Client) registerRoutes(eng *rpc.Engine) {
	eng.SetNotificationHandler(c.handleNotification)
	eng.SetRequestHandler("tool.call", c.handleToolCall)
	eng.SetRequestHandler("permission.request", c.handlePermissionRequest)
	eng.SetRequestHandler("userInput.request", c.handleUserInputRequest)
	eng.SetRequestHandler("hooks.invoke", c.handleHooksInvoke)
}

func (c *Client) handleNotification(ctx context.Context, method string, params json.RawMessage) {
	switch method {
	case "session.event":
		c.handleSessionEvent(ctx, params)
	case "session.lifecycle":
		c.handleSessionLifecycle(ctx, params)
	default:
		c.log.DebugContext(ctx, "ignoring unknown notification", slog.String("method", method))
	}
}

func (c *Client) handleSessionEvent(ctx context.Context, params json.RawMessage) {
	var p struct {
		SessionID string       `json:"sessionId"`
		Event     SessionEvent `json:"event"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		c.log.WarnContext(ctx, "undecodable session.event", slog.String("err", err.Error()))
		return
	}
	sess := c.session(p.SessionID)
	if sess == nil || p.Event.Type == "" {
		// Events can race session creation and destruction.
		c.log.DebugContext(ctx, "dropping session.event",
			slog.String("session_id", p.SessionID),
			slog.String("event_type", string(p.Event.Type)),
		)
		return
	}
	sess.dispatchEvent(p.Event)
}

func (c *Client) handleSessionLifecycle(ctx context.Context, params json.RawMessage) {
	var ev SessionLifecycleEvent
	if err := json.Unmarshal(params, &ev); err != nil {
		c.log.WarnContext(ctx, "undecodable session.lifecycle", slog.String("err", err.Error()))
		return
	}
	dispatchAll(c.log, "lifecycle handler", c.lifecycle.handlers(ev.Type), ev)
}

func (c *Client) handleToolCall(ctx context.Context, params json.RawMessage) (any, error) {
	var inv ToolInvocation
	if err := json.Unmarshal(params, &inv); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid tool.call params")
	}
	sess := c.session(inv.SessionID)
	if sess == nil {
		return nil, fmt.Errorf("Unknown session %s", inv.SessionID)
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: inv.SessionID})
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: inv.Name, ToolCallID: inv.ToolCallID})
	return map[string]any{"result": sess.invokeTool(ctx, &inv)}, nil
}

func (c *Client) handlePermissionRequest(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		SessionID         string         `json:"sessionId"`
		PermissionRequest map[string]any `json:"permissionRequest"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid permission.request params")
	}
	sess := c.session(p.SessionID)
	if sess == nil {
		return nil, errors.New("Session not found")
	}
	req := &PermissionRequest{Raw: p.PermissionRequest}
	if k, ok := p.PermissionRequest["kind"].(string); ok {
		req.Kind = k
	}
	if id, ok := p.PermissionRequest["toolCallId"].(string); ok {
		req.ToolCallID = id
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: p.SessionID})
	decision := sess.handlePermission(ctx, req)
	return map[string]any{"result": map[string]any{"kind": decision.Kind}}, nil
}

func (c *Client) handleUserInputRequest(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		SessionID     string   `json:"sessionId"`
		Question      string   `json:"question"`
		Choices       []string `json:"choices"`
		AllowFreeform bool     `json:"allowFreeform"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid userInput.request params")
	}
	sess := c.session(p.SessionID)
	if sess == nil {
		return nil, errors.New("Session not found")
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: p.SessionID})
	return sess.handleUserInput(ctx, &UserInputRequest{
		Question:      p.Question,
		Choices:       p.Choices,
		AllowFreeform: p.AllowFreeform,
	})
}

func (c *Client) handleHooksInvoke(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		SessionID string         `json:"sessionId"`
		HookType  string         `json:"hookType"`
		Input     map[string]any `json:"input"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.ErrorCodeInvalidParams, "invalid hooks.invoke params")
	}
	sess := c.session(p.SessionID)
	if sess == nil {
		return nil, errors.New("Session not found")
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: p.SessionID})
	out, err := sess.handleHooks(ctx, HookType(p.HookType), p.Input)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return map[string]any{"output": out}, nil
}
