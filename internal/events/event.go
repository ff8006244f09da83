package events

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInfo    EventType = "info"
	EventWarn    EventType = "warn"
	EventSuccess EventType = "success"
	EventError   EventType = "error"
)

const (
	GenerationSlot    = "event:generation:slot"
	GenerationSettled = "event:generation:settled"
	PaymentRequired   = "event:payment:required"
	HistoryChanged    = "event:history:changed"
	SessionNotice     = "event:session:notice"
)

// SessionEvent is the payload sent to the frontend for every backend notification.
type SessionEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	SessionKey string            `json:"sessionKey,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Payload    any               `json:"payload,omitempty"`
}

type contextKey string

const sessionContextKey contextKey = "reactivator/events/session"

// WithSession returns a derived context annotated with the given session key
// so event emitters can automatically scope payloads.
func WithSession(ctx context.Context, sessionKey string) context.Context {
	if strings.TrimSpace(sessionKey) == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey, sessionKey)
}

// SessionFromContext extracts the session key associated with ctx.
func SessionFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(sessionContextKey).(string); ok {
		return v
	}
	return ""
}

func CreateEvent(eventType EventType, message string) SessionEvent {
	return SessionEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithPayload returns a copy of evt carrying payload.
func (evt SessionEvent) WithPayload(payload any) SessionEvent {
	evt.Payload = payload
	return evt
}

// WithMeta returns a copy of evt with key set in its metadata.
func (evt SessionEvent) WithMeta(key, value string) SessionEvent {
	meta := make(map[string]string, len(evt.Metadata)+1)
	for k, v := range evt.Metadata {
		meta[k] = v
	}
	meta[key] = value
	evt.Metadata = meta
	return evt
}

func NewInfo(message string) SessionEvent {
	return CreateEvent(EventInfo, message)
}

func NewWarn(message string) SessionEvent {
	return CreateEvent(EventWarn, message)
}

func NewError(message string) SessionEvent {
	return CreateEvent(EventError, message)
}

func NewSuccess(message string) SessionEvent {
	return CreateEvent(EventSuccess, message)
}
