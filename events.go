package agentclient

import (
	"log/slog"
	"sync"
)

// EventType identifies a streamed session event.
type EventType string

// Well-known session event types. The agent may emit types beyond these;
// subscribe with OnAny to observe everything.
const (
	EventAssistantMessage EventType = "assistant.message"
	EventSessionIdle      EventType = "session.idle"
	EventSessionError     EventType = "session.error"
)

// SessionEvent is one event in a session's stream. Data carries the
// type-specific payload and is never nil during dispatch.
type SessionEvent struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// EventHandler observes session events.
type EventHandler func(event SessionEvent)

// LifecycleEventType identifies a session lifecycle transition.
type LifecycleEventType string

const (
	LifecycleSessionCreated    LifecycleEventType = "session.created"
	LifecycleSessionDeleted    LifecycleEventType = "session.deleted"
	LifecycleSessionUpdated    LifecycleEventType = "session.updated"
	LifecycleSessionForeground LifecycleEventType = "session.foreground"
	LifecycleSessionBackground LifecycleEventType = "session.background"
)

// SessionLifecycleEvent announces a session transition, including for
// sessions not held by this client.
type SessionLifecycleEvent struct {
	Type      LifecycleEventType `json:"type"`
	SessionID string             `json:"sessionId"`
	Metadata  *SessionMetadata   `json:"metadata,omitempty"`
}

// LifecycleHandler observes session lifecycle events.
type LifecycleHandler func(event SessionLifecycleEvent)

type registration[T any] struct {
	id int
	fn func(T)
}

// handlerList is an ordered callback registry. add returns an idempotent
// unsubscribe closure.
type handlerList[T any] struct {
	mu     sync.Mutex
	nextID int
	regs   []registration[T]
}

func (l *handlerList[T]) add(fn func(T)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.regs = append(l.regs, registration[T]{id: id, fn: fn})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, r := range l.regs {
			if r.id == id {
				l.regs = append(l.regs[:i], l.regs[i+1:]...)
				return
			}
		}
	}
}

func (l *handlerList[T]) snapshot() []func(T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]func(T), len(l.regs))
	for i, r := range l.regs {
		out[i] = r.fn
	}
	return out
}

func (l *handlerList[T]) clear() {
	l.mu.Lock()
	l.regs = nil
	l.mu.Unlock()
}

// eventRegistry groups typed subscriptions with a wildcard list. Dispatch
// order is typed handlers first, then wildcard, each in registration order.
type eventRegistry[K comparable, T any] struct {
	mu       sync.Mutex
	typed    map[K]*handlerList[T]
	wildcard handlerList[T]
}

func (r *eventRegistry[K, T]) on(k K, fn func(T)) func() {
	r.mu.Lock()
	if r.typed == nil {
		r.typed = make(map[K]*handlerList[T])
	}
	l, ok := r.typed[k]
	if !ok {
		l = &handlerList[T]{}
		r.typed[k] = l
	}
	r.mu.Unlock()
	return l.add(fn)
}

func (r *eventRegistry[K, T]) onAny(fn func(T)) func() {
	return r.wildcard.add(fn)
}

func (r *eventRegistry[K, T]) handlers(k K) []func(T) {
	r.mu.Lock()
	l := r.typed[k]
	r.mu.Unlock()

	var out []func(T)
	if l != nil {
		out = l.snapshot()
	}
	return append(out, r.wildcard.snapshot()...)
}

func (r *eventRegistry[K, T]) clear() {
	r.mu.Lock()
	r.typed = nil
	r.mu.Unlock()
	r.wildcard.clear()
}

// dispatchAll invokes each handler, containing panics so one subscriber
// cannot break delivery to the rest.
func dispatchAll[T any](log *slog.Logger, what string, handlers []func(T), ev T) {
	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("event handler panicked", slog.String("event", what), slog.Any("panic", r))
				}
			}()
			fn(ev)
		}()
	}
}
