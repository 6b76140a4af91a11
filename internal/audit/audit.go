package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"tessera.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Event is a single audit record.
type Event struct {
	OccurredAt time.Time
	Name       string
	ActorID    string
	TenantID   string
	RequestID  string
	Fields     map[string]any
}

// Dispatcher queues audit events and writes them off the request path. Auth
// decisions never wait on it: Emit enqueues and returns immediately, and a
// saturated queue drops the event (counted) instead of blocking.
type Dispatcher struct {
	queue chan Event
	done  chan struct{}
	stop  sync.Once

	// mu orders late Emits against Close: an Emit holds the read side while
	// it sends, so the queue is never closed under an in-flight send.
	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts a dispatcher with the given queue depth.
func NewDispatcher(depth int) *Dispatcher {
	if depth <= 0 {
		depth = 256
	}
	d := &Dispatcher{
		queue: make(chan Event, depth),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		write(ev)
	}
}

// Emit enqueues an event without blocking.
func (d *Dispatcher) Emit(ctx context.Context, name, actorID, tenantID string, fields map[string]any) {
	if d == nil {
		return
	}
	ev := Event{
		OccurredAt: time.Now().UTC(),
		Name:       strings.TrimSpace(name),
		ActorID:    actorID,
		TenantID:   tenantID,
		RequestID:  RequestIDFromContext(ctx),
		Fields:     fields,
	}
	if ev.Name == "" {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		obs.AuditDropped.Inc()
		return
	}
	select {
	case d.queue <- ev:
	default:
		obs.AuditDropped.Inc()
	}
}

// Close drains the queue and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stop.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.queue)
	})
	<-d.done
}

func write(ev Event) {
	entry := map[string]any{
		"ts":    ev.OccurredAt.Format(time.RFC3339Nano),
		"type":  "audit",
		"event": ev.Name,
	}
	if ev.ActorID != "" {
		entry["actor_id"] = ev.ActorID
	}
	if ev.TenantID != "" {
		entry["tenant_id"] = ev.TenantID
	}
	if ev.RequestID != "" {
		entry["request_id"] = ev.RequestID
	}
	if len(ev.Fields) > 0 {
		entry["fields"] = ev.Fields
	} else {
		entry["fields"] = map[string]any{}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	obs.Logger().Println(string(data))
}

// LogEvent writes an audit entry synchronously. Kept for call sites that run
// outside a dispatcher (CLI tools, tests).
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	write(Event{
		OccurredAt: time.Now().UTC(),
		Name:       event,
		RequestID:  RequestIDFromContext(ctx),
		Fields:     fields,
	})
	return nil
}
