package http

import (
	"time"

	"github.com/telecare/signaling-service/internal/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type ParticipantsResponse struct {
	RoomID       string               `json:"room_id"`
	Participants []domain.Participant `json:"participants"`
	Count        int                  `json:"count"`
}

type AuditItem struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   *string   `json:"resource_id,omitempty"`
	Details      *string   `json:"details,omitempty"`
	IPAddress    *string   `json:"ip_address,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type AuditListResponse struct {
	Items      []AuditItem `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}
