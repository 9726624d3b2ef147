package models

import "fmt"

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTrainer Role = "trainer"
	RoleClient  Role = "client"
	RoleUser    Role = "user"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleTrainer, RoleClient, RoleUser:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Rooms lists the role rooms a connection of this role joins. Membership is cumulative.
func (r Role) Rooms() []string {
	switch r {
	case RoleAdmin:
		return []string{string(RoleAdmin), string(RoleTrainer), string(RoleClient), string(RoleUser)}
	case RoleTrainer:
		return []string{string(RoleTrainer), string(RoleClient)}
	case RoleClient:
		return []string{string(RoleClient), string(RoleUser)}
	case RoleUser:
		return []string{string(RoleUser)}
	}
	return nil
}

func UserRoom(userID string) string {
	return "user:" + userID
}

func SessionRoom(sessionID string) string {
	return "session:" + sessionID
}

func RoleRoom(r Role) string {
	return string(r)
}
