package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/telecare/signaling-service/internal/domain"
)

var ErrAlreadyJoined = errors.New("connection already joined another room")

// Conn is one participant socket as seen by the registry.
// Send must not block: a slow peer fails fast instead of stalling the room.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

type member struct {
	conn   Conn
	roomID string
	id     domain.Identity
	seq    uint64 // join order
}

// Registry maps room ids to live connections and connections to identities.
// A single RWMutex guards both maps; rooms hold tens of peers, not thousands.
// Every delivery iterates over a copy taken under the lock, never the live set.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[Conn]*member
	conns map[Conn]*member
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[Conn]*member),
		conns: make(map[Conn]*member),
	}
}

// Join registers conn in roomID and announces it to the other members with
// a user-joined event. welcome, when non-nil, builds a private message for
// conn that is queued before conn becomes reachable by any other sender.
// Joining the same room twice is a no-op; joining a second room fails.
func (r *Registry) Join(conn Conn, roomID string, id domain.Identity, welcome func([]domain.Participant) any) ([]domain.Participant, error) {
	r.mu.Lock()
	if m, ok := r.conns[conn]; ok {
		defer r.mu.Unlock()
		if m.roomID != roomID {
			return nil, ErrAlreadyJoined
		}
		return participantsOf(sortedMembers(r.rooms[roomID])), nil
	}

	rs, ok := r.rooms[roomID]
	if !ok {
		rs = make(map[Conn]*member)
		r.rooms[roomID] = rs
	}
	r.seq++
	m := &member{conn: conn, roomID: roomID, id: id, seq: r.seq}
	rs[conn] = m
	r.conns[conn] = m

	members := sortedMembers(rs)
	participants := participantsOf(members)
	if welcome != nil {
		if data, err := encode(welcome(participants)); err == nil {
			if err := conn.Send(data); err != nil {
				slog.Debug("ws welcome delivery failed", "room", roomID, "conn", conn.ID(), "err", err)
			}
		}
	}
	r.mu.Unlock()

	joined := UserJoinedEvent{
		Type:         TypeUserJoined,
		UserID:       id.UserID,
		UserRole:     id.Role,
		Participants: len(members),
	}
	if data, err := encode(joined); err == nil {
		deliver(roomID, members, conn, data)
	}

	return participants, nil
}

// Leave removes conn from its room and drops the room once empty.
// It reports false when conn was not registered; repeated calls are no-ops.
func (r *Registry) Leave(conn Conn) (domain.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[conn]
	if !ok {
		return domain.Identity{}, false
	}
	delete(r.conns, conn)

	if rs, ok := r.rooms[m.roomID]; ok {
		delete(rs, conn)
		if len(rs) == 0 {
			delete(r.rooms, m.roomID)
		}
	}

	return m.id, true
}

// Broadcast delivers msg to every member of roomID except exclude and
// returns how many sends succeeded. Failed sends are logged and skipped.
func (r *Registry) Broadcast(roomID string, msg any, exclude Conn) int {
	data, err := encode(msg)
	if err != nil {
		return 0
	}

	return deliver(roomID, r.snapshot(roomID), exclude, data)
}

// SendToUser delivers msg to the earliest-joined member of roomID whose
// user id is targetUserID. It reports whether such a member existed.
func (r *Registry) SendToUser(roomID, targetUserID string, msg any) bool {
	if targetUserID == "" {
		return false
	}

	var target *member
	for _, m := range r.snapshot(roomID) {
		if m.id.UserID == targetUserID {
			target = m
			break
		}
	}
	if target == nil {
		return false
	}

	data, err := encode(msg)
	if err != nil {
		return true
	}
	if err := target.conn.Send(data); err != nil {
		slog.Debug("ws direct delivery failed", "room", roomID, "user", targetUserID, "conn", target.conn.ID(), "err", err)
	}

	return true
}

// SendTo delivers msg to a single registered connection.
func (r *Registry) SendTo(conn Conn, msg any) error {
	r.mu.RLock()
	_, ok := r.conns[conn]
	r.mu.RUnlock()
	if !ok {
		return domain.ErrNotInRoom
	}

	data, err := encode(msg)
	if err != nil {
		return err
	}

	return conn.Send(data)
}

// ListParticipants returns the members of roomID in join order,
// or an empty slice when the room does not exist.
func (r *Registry) ListParticipants(roomID string) []domain.Participant {
	return participantsOf(r.snapshot(roomID))
}

type RoomStat struct {
	RoomID string `json:"room_id"`
	Count  int    `json:"count"`
}

// Rooms lists every live room with its member count, ordered by id.
func (r *Registry) Rooms() []RoomStat {
	r.mu.RLock()
	out := make([]RoomStat, 0, len(r.rooms))
	for id, rs := range r.rooms {
		out = append(out, RoomStat{RoomID: id, Count: len(rs)})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

// CloseAll closes every registered connection. Their session handlers
// observe the close and run their normal leave path.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

func (r *Registry) snapshot(roomID string) []*member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedMembers(r.rooms[roomID])
}

func sortedMembers(rs map[Conn]*member) []*member {
	out := make([]*member, 0, len(rs))
	for _, m := range rs {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })

	return out
}

func participantsOf(members []*member) []domain.Participant {
	out := make([]domain.Participant, 0, len(members))
	for _, m := range members {
		out = append(out, domain.Participant{
			RoomID: m.roomID,
			UserID: m.id.UserID,
			Role:   m.id.Role,
		})
	}

	return out
}

func deliver(roomID string, members []*member, exclude Conn, data []byte) int {
	sent := 0
	for _, m := range members {
		if m.conn == exclude {
			continue
		}
		if err := m.conn.Send(data); err != nil {
			// best-effort: one broken peer must not stop the rest
			slog.Debug("ws delivery failed", "room", roomID, "user", m.id.UserID, "conn", m.conn.ID(), "err", err)
			continue
		}
		sent++
	}

	return sent
}

func encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("ws encode failed", "type", typeOf(msg), "err", err)
		return nil, err
	}

	return data, nil
}
