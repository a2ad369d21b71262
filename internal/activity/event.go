package activity

import (
	"time"

	"github.com/google/uuid"
)

// Kind describes what happened on the relay.
type Kind string

const (
	KindRegister Kind = "register"
	KindForward  Kind = "forward"
	KindDrop     Kind = "drop"
	KindOffline  Kind = "offline"
)

// Event is one entry in the operator activity feed.
type Event struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Type         string    `json:"type,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	TargetUserID string    `json:"target_user_id,omitempty"`
	InviteCode   string    `json:"invite_code,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewEvent stamps an event with a fresh ID and the current time.
func NewEvent(kind Kind, typ string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Type:      typ,
		CreatedAt: time.Now(),
	}
}
