package store

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleBot    Role = "bot"
	RoleSystem Role = "system"
)

type EventType string

const (
	TypeText   EventType = "text"
	TypeButton EventType = "button"
	TypeEvent  EventType = "event"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusEscalated Status = "escalated"
	StatusClosed    Status = "closed"
)

// Event is one user turn, one system turn, or one internal marker.
// Events are never rewritten once appended.
type Event struct {
	Role      Role            `json:"role"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Conversation is the durable record reconstructed from the event log.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Status    Status    `json:"status"`
	Events    []Event   `json:"transcript"`
}

// TextEvent builds a plain text event.
func TextEvent(role Role, text string) Event {
	payload, _ := json.Marshal(map[string]string{"text": text})
	return Event{Role: role, Type: TypeText, Payload: payload, Timestamp: time.Now().UTC()}
}

// ButtonEvent records a pressed control by its token.
func ButtonEvent(role Role, token string) Event {
	payload, _ := json.Marshal(map[string]string{"token": token})
	return Event{Role: role, Type: TypeButton, Payload: payload, Timestamp: time.Now().UTC()}
}

// MarkerEvent records an internal marker, e.g. a classifier result or a
// stage change. Markers are system events and never user-visible.
func MarkerEvent(name string, detail any) Event {
	payload, _ := json.Marshal(map[string]any{"marker": name, "detail": detail})
	return Event{Role: RoleSystem, Type: TypeEvent, Payload: payload, Timestamp: time.Now().UTC()}
}

// StatusEvent records a conversation status change in the log itself, so the
// durable file stays a pure append-only event sequence.
func StatusEvent(s Status) Event {
	payload, _ := json.Marshal(map[string]string{"status": string(s)})
	return Event{Role: RoleSystem, Type: TypeEvent, Payload: payload, Timestamp: time.Now().UTC()}
}

// statusOf extracts a status change from an event, if it carries one.
func statusOf(e Event) (Status, bool) {
	if e.Role != RoleSystem || e.Type != TypeEvent {
		return "", false
	}
	var p struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil || p.Status == "" {
		return "", false
	}
	return Status(p.Status), true
}
