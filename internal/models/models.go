package models

import "time"

type SessionStatus string

const (
	SessionAvailable SessionStatus = "available"
	SessionScheduled SessionStatus = "scheduled"
	SessionConfirmed SessionStatus = "confirmed"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionBlocked   SessionStatus = "blocked"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionAvailable, SessionScheduled, SessionConfirmed, SessionCompleted, SessionCancelled, SessionBlocked:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// Booked statuses always carry a client.
func (s SessionStatus) Booked() bool {
	return s == SessionScheduled || s == SessionConfirmed || s == SessionCompleted
}

type Session struct {
	ID                 string        `db:"id"`
	SessionDate        time.Time     `db:"session_date"`
	Duration           int           `db:"duration"`
	EndTime            time.Time     `db:"end_time"`
	ClientID           *string       `db:"client_id"`
	TrainerID          *string       `db:"trainer_id"`
	Status             SessionStatus `db:"status"`
	CancelledBy        *string       `db:"cancelled_by"`
	CancellationReason *string       `db:"cancellation_reason"`
	Notes              string        `db:"notes"`
	IsRecurring        bool          `db:"is_recurring"`
	RecurringPattern   *string       `db:"recurring_pattern"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
	DeletedAt          *time.Time    `db:"deleted_at"`
}

// Window returns the half-open interval [start, end) the session occupies.
func (s *Session) Window() (time.Time, time.Time) {
	end := s.EndTime
	if end.IsZero() {
		end = s.SessionDate.Add(time.Duration(s.Duration) * time.Minute)
	}
	return s.SessionDate, end
}

func (s *Session) HasClient(userID string) bool {
	return s.ClientID != nil && *s.ClientID == userID
}

func (s *Session) HasTrainer(userID string) bool {
	return s.TrainerID != nil && *s.TrainerID == userID
}

// Clone returns a deep copy so callers can hand sessions across goroutines.
func (s *Session) Clone() *Session {
	c := *s
	c.ClientID = clonePtr(s.ClientID)
	c.TrainerID = clonePtr(s.TrainerID)
	c.CancelledBy = clonePtr(s.CancelledBy)
	c.CancellationReason = clonePtr(s.CancellationReason)
	c.RecurringPattern = clonePtr(s.RecurringPattern)
	c.DeletedAt = clonePtr(s.DeletedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// SessionPatch lists the columns a transition writes. Nil fields are left untouched.
type SessionPatch struct {
	Status             *SessionStatus
	ClientID           *string
	TrainerID          *string
	CancelledBy        *string
	CancellationReason *string
	Notes              *string
	DeletedAt          *time.Time
}

// Apply writes the patch onto s.
func (p SessionPatch) Apply(s *Session) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.ClientID != nil {
		s.ClientID = clonePtr(p.ClientID)
	}
	if p.TrainerID != nil {
		s.TrainerID = clonePtr(p.TrainerID)
	}
	if p.CancelledBy != nil {
		s.CancelledBy = clonePtr(p.CancelledBy)
	}
	if p.CancellationReason != nil {
		s.CancellationReason = clonePtr(p.CancellationReason)
	}
	if p.Notes != nil {
		s.Notes = *p.Notes
	}
	if p.DeletedAt != nil {
		s.DeletedAt = clonePtr(p.DeletedAt)
	}
}

// OverlapGuard asks the store to reject a write when the trainer already holds an
// active session inside [Start, End). The check runs in the same atomic unit as the write.
type OverlapGuard struct {
	TrainerID string
	Start     time.Time
	End       time.Time
}

type SessionFilter struct {
	From             *time.Time
	To               *time.Time
	TrainerID        *string
	ClientID         *string
	Statuses         []SessionStatus
	IncludeCancelled bool
}

type User struct {
	ID        string `db:"id"`
	Role      Role   `db:"role"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Email     string `db:"email"`
	IsActive  bool   `db:"is_active"`
	IsLocked  bool   `db:"is_locked"`
}

func (u *User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// Usable reports whether the account may take part in scheduling.
func (u *User) Usable() bool {
	return u.IsActive && !u.IsLocked
}
