package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/telecare/signaling-service/internal/errs"
	"github.com/telecare/signaling-service/internal/postgres"
	"github.com/telecare/signaling-service/internal/service"
	httpmw "github.com/telecare/signaling-service/internal/transport/http/middleware"
	"github.com/telecare/signaling-service/internal/transport/ws"

	"github.com/go-chi/chi/v5"
	"github.com/pion/webrtc/v4"
)

type Handler struct {
	registry   *ws.Registry
	audit      *service.AuditService
	iceServers []webrtc.ICEServer
}

func NewHandler(registry *ws.Registry, audit *service.AuditService, ice []webrtc.ICEServer) *Handler {
	if ice == nil {
		ice = []webrtc.ICEServer{}
	}
	return &Handler{
		registry:   registry,
		audit:      audit,
		iceServers: ice,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GET /ws/room/{room_id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(chi.URLParam(r, "room_id"))
	if roomID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "missing room id"})
		return
	}

	ps := h.registry.ListParticipants(roomID)
	writeJSON(w, http.StatusOK, ParticipantsResponse{
		RoomID:       roomID,
		Participants: ps,
		Count:        len(ps),
	})
}

// GET /ice-servers
func (h *Handler) GetICEServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.iceServers)
}

// GET /audit?action=&resource_type=&resource_id=&cursor=&limit=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := httpmw.IdentityFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	q := r.URL.Query()
	limit := 0
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	entries, next, err := h.audit.History(r.Context(), postgres.AuditFilter{
		UserID:       id.UserID,
		Action:       q.Get("action"),
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		After:        q.Get("cursor"),
		Limit:        limit,
	})
	if err != nil {
		status := errs.ToHTTP(err)
		switch {
		case errors.Is(err, postgres.ErrInvalidCursor):
			writeJSON(w, status, ErrorResponse{Error: "invalid_cursor"})
		case status == http.StatusInternalServerError:
			httpmw.L(r.Context()).Error("handler.ListAudit:", slog.Any("err", err))
			writeJSON(w, status, ErrorResponse{Error: "internal error"})
		default:
			writeJSON(w, status, ErrorResponse{Error: err.Error()})
		}
		return
	}

	resp := AuditListResponse{Items: make([]AuditItem, 0, len(entries)), NextCursor: next}
	for _, e := range entries {
		resp.Items = append(resp.Items, AuditItem{
			ID:           e.ID,
			UserID:       e.UserID,
			Action:       string(e.Action),
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			Details:      e.Details,
			IPAddress:    e.IPAddress,
			CreatedAt:    e.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
