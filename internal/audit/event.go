// Package audit records security-relevant decisions (throttling, failed
// logins, locks, rejected uploads) and ships them to configured sinks off
// the request path.
package audit

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventRateLimited     EventType = "rate_limited"
	EventLoginFailed     EventType = "login_failed"
	EventAccountLocked   EventType = "account_locked"
	EventLoginSucceeded  EventType = "login_succeeded"
	EventUploadRejected  EventType = "upload_rejected"
	EventSuspiciousInput EventType = "suspicious_input"
)

type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Identifier string            `json:"identifier,omitempty"`
	Endpoint   string            `json:"endpoint,omitempty"`
	ClientID   string            `json:"client_id,omitempty"`
	Time       time.Time         `json:"time"`
	Details    map[string]string `json:"details,omitempty"`
}

// NewEvent stamps a fresh ID and the current UTC time.
func NewEvent(t EventType, identifier, endpoint, clientID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Identifier: identifier,
		Endpoint:   endpoint,
		ClientID:   clientID,
		Time:       time.Now().UTC(),
	}
}

// With returns a copy of e carrying one more detail.
func (e Event) With(key, value string) Event {
	details := make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	e.Details = details
	return e
}

// Emitter is what request handlers depend on.
type Emitter interface {
	Emit(Event)
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
