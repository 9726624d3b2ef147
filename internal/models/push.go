package models

// Visibility is the part of a session snapshot that decides who may read it.
type Visibility struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	ClientID  string        `json:"client_id,omitempty"`
	TrainerID string        `json:"trainer_id,omitempty"`
}

func (s *Session) Visibility() Visibility {
	v := Visibility{SessionID: s.ID, Status: s.Status}
	if s.ClientID != nil {
		v.ClientID = *s.ClientID
	}
	if s.TrainerID != nil {
		v.TrainerID = *s.TrainerID
	}
	return v
}

// Allows applies the read rules: admins see everything, trainers their assigned
// sessions, clients their own, and everyone sees open slots.
func (v Visibility) Allows(actor Actor) bool {
	switch actor.Role {
	case RoleAdmin:
		return true
	case RoleTrainer:
		return v.Status == SessionAvailable || (v.TrainerID != "" && v.TrainerID == actor.UserID)
	case RoleClient:
		return v.Status == SessionAvailable || (v.ClientID != "" && v.ClientID == actor.UserID)
	case RoleUser:
		return v.Status == SessionAvailable
	}
	return false
}

func CanView(actor Actor, s *Session) bool {
	return s.Visibility().Allows(actor)
}

// Push is one frame for the union of Rooms. A session room with a guard only reaches
// connections the guard allows; members it no longer allows are dropped from the room.
type Push struct {
	Rooms   []string
	Payload []byte
	Guards  []Visibility
}

// Guard returns the visibility guarding room, if any.
func (p Push) Guard(room string) (Visibility, bool) {
	for _, g := range p.Guards {
		if SessionRoom(g.SessionID) == room {
			return g, true
		}
	}
	return Visibility{}, false
}
