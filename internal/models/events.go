package models

import "time"

type EventType string

const (
	EventSessionBooked    EventType = "session_booked"
	EventSessionCancelled EventType = "session_cancelled"
	EventSessionConfirmed EventType = "session_confirmed"
	EventSessionCompleted EventType = "session_completed"
	EventSessionAssigned  EventType = "session_assigned"
	EventSessionsCreated  EventType = "sessions_created"
	EventSessionDeleted   EventType = "session_deleted"
)

// Persisted reports whether the event produces notification rows.
func (t EventType) Persisted() bool {
	switch t {
	case EventSessionBooked, EventSessionCancelled, EventSessionConfirmed, EventSessionCompleted, EventSessionAssigned:
		return true
	}
	return false
}

type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type SessionEvent struct {
	Type      EventType
	Session   *Session
	Sessions  []*Session
	Actor     Actor
	Timestamp time.Time
}

type Notification struct {
	ID          string     `db:"id"`
	RecipientID string     `db:"recipient_id"`
	Type        EventType  `db:"type"`
	Payload     []byte     `db:"payload"`
	CreatedAt   time.Time  `db:"created_at"`
	ReadAt      *time.Time `db:"read_at"`
}
