package domain

import "strings"

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDoctor:
		return RoleDoctor, nil
	case RolePatient:
		return RolePatient, nil
	default:
		return "", ErrUnknownRole
	}
}

// Identity is who a connection speaks for; fixed at handshake.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"user_role"`
}

// Participant is one live member of a call room as reported to peers and the census.
type Participant struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
	Role   Role   `json:"user_role"`
}
