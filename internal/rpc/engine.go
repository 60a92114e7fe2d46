// Package rpc implements the bidirectional JSON-RPC engine that drives the
// agent wire protocol. One engine owns one framed stream: it correlates
// outgoing requests with their responses and dispatches the peer's requests
// and notifications to registered handlers.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ggoodman/agent-client-go/internal/framing"
	"github.com/ggoodman/agent-client-go/internal/jsonrpc"
	"github.com/ggoodman/agent-client-go/internal/logctx"
)

// DefaultCallTimeout bounds outgoing calls whose context carries no deadline.
const DefaultCallTimeout = 60 * time.Second

// ErrEngineClosed indicates the engine has been closed and no further calls
// can be made.
var ErrEngineClosed = errors.New("rpc: engine closed")

// RequestHandler handles an incoming peer request. Returning a *jsonrpc.Error
// controls the response code; any other error maps to an internal error. A
// nil result serializes as an empty object.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// NotificationHandler handles incoming peer notifications. It runs on the
// engine's read loop, so per-peer ordering is preserved; it must not block.
type NotificationHandler func(ctx context.Context, method string, params json.RawMessage)

type pendingCall struct {
	respCh chan *jsonrpc.Response
	errCh  chan error
}

// Engine coordinates JSON-RPC traffic over a framed stream. It is safe for
// concurrent use.
type Engine struct {
	stream *framing.Stream
	log    *slog.Logger

	callTimeout time.Duration

	// baseCtx parents all handler invocations; canceled on Close.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	closed   bool
	closeErr error
	pending  map[string]*pendingCall // request id -> in-flight call

	handlersMu sync.RWMutex
	handlers   map[string]RequestHandler
	notifyFn   NotificationHandler

	started  atomic.Bool
	loopDone chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithCallTimeout overrides the default timeout applied to calls whose
// context has no deadline. Zero disables the default.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.callTimeout = d
		}
	}
}

// New constructs an Engine over the given stream. The engine does not read
// from the stream until Start is called.
func New(stream *framing.Stream, opts ...Option) *Engine {
	baseCtx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		stream:      stream,
		log:         slog.Default(),
		callTimeout: DefaultCallTimeout,
		baseCtx:     baseCtx,
		cancel:      cancel,
		pending:     make(map[string]*pendingCall),
		handlers:    make(map[string]RequestHandler),
		loopDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the read loop. Calling Start more than once is a no-op.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	go e.readLoop()
}

// Done is closed when the read loop exits.
func (e *Engine) Done() <-chan struct{} {
	return e.loopDone
}

// Close fails all pending calls with cause (ErrEngineClosed when nil),
// cancels in-flight handler contexts, and rejects future calls. It does not
// close the underlying stream; the stream's owner must do that to unblock a
// read in progress.
func (e *Engine) Close(cause error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if cause == nil {
		cause = ErrEngineClosed
	}
	e.closeErr = cause
	drained := e.pending
	e.pending = make(map[string]*pendingCall)
	e.mu.Unlock()

	e.cancel()

	for _, pc := range drained {
		pc.errCh <- cause
	}
}

// SetRequestHandler registers the handler for an incoming request method.
// The last registration for a method wins.
func (e *Engine) SetRequestHandler(method string, h RequestHandler) {
	e.handlersMu.Lock()
	e.handlers[method] = h
	e.handlersMu.Unlock()
}

// SetNotificationHandler registers the single handler for incoming
// notifications.
func (e *Engine) SetNotificationHandler(h NotificationHandler) {
	e.handlersMu.Lock()
	e.notifyFn = h
	e.handlersMu.Unlock()
}

// Call sends a request and waits for the matching response, engine close, or
// context expiry. When the context has no deadline the engine's call timeout
// applies. A peer error response is returned as a *jsonrpc.Error.
func (e *Engine) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if e.callTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.callTimeout)
			defer cancel()
		}
	}

	var paramsRaw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("rpc: marshal params: %w", err)
		}
		paramsRaw = b
	}

	id := jsonrpc.NewRequestID(uuid.NewString())
	key := id.String()

	pc := &pendingCall{respCh: make(chan *jsonrpc.Response, 1), errCh: make(chan error, 1)}
	e.mu.Lock()
	if e.closed {
		err := e.closeErr
		e.mu.Unlock()
		return nil, err
	}
	e.pending[key] = pc
	e.mu.Unlock()

	if err := e.stream.WriteMessage(jsonrpc.NewRequest(id, method, paramsRaw)); err != nil {
		e.forget(key)
		return nil, fmt.Errorf("rpc: send %s: %w", method, err)
	}

	select {
	case resp := <-pc.respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case err := <-pc.errCh:
		return nil, err
	case <-ctx.Done():
		// Deregister so a late response is dropped instead of leaking.
		e.forget(key)
		return nil, ctx.Err()
	}
}

// Notify sends a notification. It does not wait for any acknowledgement.
func (e *Engine) Notify(method string, params any) error {
	var paramsRaw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("rpc: marshal params: %w", err)
		}
		paramsRaw = b
	}

	e.mu.Lock()
	if e.closed {
		err := e.closeErr
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	if err := e.stream.WriteMessage(jsonrpc.NewNotification(method, paramsRaw)); err != nil {
		return fmt.Errorf("rpc: send %s: %w", method, err)
	}
	return nil
}

func (e *Engine) forget(key string) {
	e.mu.Lock()
	delete(e.pending, key)
	e.mu.Unlock()
}

func (e *Engine) readLoop() {
	defer close(e.loopDone)

	for {
		body, err := e.stream.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.log.Debug("rpc stream closed by peer")
				e.Close(nil)
			} else {
				e.log.Error("rpc stream read failed", slog.String("err", err.Error()))
				e.Close(fmt.Errorf("rpc: read: %w", err))
			}
			return
		}

		var msg jsonrpc.AnyMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			// A frame that decoded as a length-prefixed body but not as
			// JSON-RPC is dropped; framing is still intact.
			e.log.Warn("dropping undecodable frame", slog.String("err", err.Error()))
			continue
		}

		switch msg.Type() {
		case jsonrpc.TypeResponse:
			e.resolvePending(msg.AsResponse())
		case jsonrpc.TypeNotification:
			e.dispatchNotification(&msg)
		case jsonrpc.TypeRequest:
			// Requests run concurrently so a slow handler cannot stall the
			// read loop.
			go e.dispatchRequest(msg.AsRequest())
		}
	}
}

func (e *Engine) resolvePending(resp *jsonrpc.Response) {
	if resp == nil || resp.ID.IsNil() {
		e.log.Debug("dropping response without id")
		return
	}
	key := resp.ID.String()

	e.mu.Lock()
	pc, ok := e.pending[key]
	if ok {
		delete(e.pending, key)
	}
	e.mu.Unlock()

	if !ok {
		e.log.Debug("dropping response with no pending call", slog.String("rpc_id", key))
		return
	}
	pc.respCh <- resp
}

func (e *Engine) dispatchNotification(msg *jsonrpc.AnyMessage) {
	e.handlersMu.RLock()
	fn := e.notifyFn
	e.handlersMu.RUnlock()

	if fn == nil {
		e.log.Debug("no notification handler registered", slog.String("method", msg.Method))
		return
	}

	ctx := logctx.WithRPCMessage(e.baseCtx, &logctx.RPCMessage{Method: msg.Method, Type: "notification"})
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("notification handler panicked",
				slog.String("method", msg.Method),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn(ctx, msg.Method, msg.Params)
}

func (e *Engine) dispatchRequest(req *jsonrpc.Request) {
	ctx := logctx.WithRPCMessage(e.baseCtx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   "request",
	})

	e.handlersMu.RLock()
	h, ok := e.handlers[req.Method]
	e.handlersMu.RUnlock()

	if !ok {
		e.respondError(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil)
		return
	}

	result, err := e.safeInvoke(ctx, req.Method, h, req.Params)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			e.respondError(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		} else {
			e.respondError(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
		}
		return
	}

	if result == nil {
		result = struct{}{}
	}
	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		e.respondError(req.ID, jsonrpc.ErrorCodeInternalError, fmt.Sprintf("failed to marshal result: %v", err), nil)
		return
	}
	e.writeMessage(resp)
}

func (e *Engine) safeInvoke(ctx context.Context, method string, h RequestHandler, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("request handler panicked",
				slog.String("method", method),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, params)
}

func (e *Engine) respondError(id *jsonrpc.RequestID, code jsonrpc.ErrorCode, message string, data any) {
	e.writeMessage(jsonrpc.NewErrorResponse(id, code, message, data))
}

func (e *Engine) writeMessage(v any) {
	if err := e.stream.WriteMessage(v); err != nil {
		e.log.Warn("failed to write message", slog.String("err", err.Error()))
	}
}
