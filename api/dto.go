package api

import (
	"time"

	"studio-schedule/internal/models"
)

type Session struct {
	ID                 string     `json:"id"`
	SessionDate        time.Time  `json:"session_date"`
	Duration           int        `json:"duration"`
	EndTime            time.Time  `json:"end_time"`
	ClientID           *string    `json:"client_id"`
	TrainerID          *string    `json:"trainer_id"`
	Status             string     `json:"status"`
	CancelledBy        *string    `json:"cancelled_by,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	IsRecurring        bool       `json:"is_recurring"`
	RecurringPattern   *string    `json:"recurring_pattern,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty"`
}

func FromSession(s *models.Session) Session {
	_, end := s.Window()

	return Session{
		ID:                 s.ID,
		SessionDate:        s.SessionDate,
		Duration:           s.Duration,
		EndTime:            end,
		ClientID:           s.ClientID,
		TrainerID:          s.TrainerID,
		Status:             string(s.Status),
		CancelledBy:        s.CancelledBy,
		CancellationReason: s.CancellationReason,
		Notes:              s.Notes,
		IsRecurring:        s.IsRecurring,
		RecurringPattern:   s.RecurringPattern,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
		DeletedAt:          s.DeletedAt,
	}
}

func FromSessions(list []*models.Session) []Session {
	result := make([]Session, 0, len(list))
	for _, s := range list {
		result = append(result, FromSession(s))
	}
	return result
}

type SessionCreateRequest struct {
	Start     time.Time `json:"start"`
	Duration  int       `json:"duration,omitempty"`
	TrainerID *string   `json:"trainer_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

type RecurringCreateRequest struct {
	StartDate  string   `json:"start_date"`
	EndDate    string   `json:"end_date"`
	DaysOfWeek []string `json:"days_of_week"`
	Times      []string `json:"times"`
	Duration   int      `json:"duration,omitempty"`
	TrainerID  *string  `json:"trainer_id,omitempty"`
	Status     string   `json:"status,omitempty"`
	Notes      string   `json:"notes,omitempty"`
}

type SessionRequestRequest struct {
	Start    time.Time `json:"start"`
	Duration int       `json:"duration,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

type NotesRequest struct {
	Notes string `json:"notes"`
}

type BookRequest struct {
	ClientID string `json:"client_id,omitempty"`
}

type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CompleteRequest struct {
	Notes string `json:"notes,omitempty"`
}

type AssignTrainerRequest struct {
	TrainerID string `json:"trainer_id"`
}

type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
}

type Notification struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Payload   any        `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at"`
}

// Actor identifies who caused an event.
type Actor struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Name   string `json:"name,omitempty"`
}

// Event is the realtime push frame and the stored notification payload.
type Event struct {
	Type        string    `json:"type"`
	Session     *Session  `json:"session,omitempty"`
	Sessions    []Session `json:"sessions,omitempty"`
	Actor       Actor     `json:"actor"`
	ClientName  string    `json:"client_name,omitempty"`
	TrainerName string    `json:"trainer_name,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
