package ws

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// CloseInvalidToken is sent when the join credential is rejected.
// Clients rely on it to tell auth failures from ordinary disconnects.
const (
	CloseInvalidToken       = 4001
	CloseInvalidTokenReason = "Invalid token"
)

type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// AuditSink records in-call actions. Record must not block.
type AuditSink interface {
	Record(entry domain.AuditEntry)
}

type Options struct {
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	MaxMessageBytes   int64
	SendQueue         int
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10 // SDP fits
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	return o
}

type Server struct {
	upgrader websocket.Upgrader
	registry *Registry
	verifier TokenVerifier
	audit    AuditSink
	opts     Options
	now      func() time.Time
}

func NewServer(registry *Registry, verifier TokenVerifier, audit AuditSink, opts Options) *Server {
	opts = opts.withDefaults()
	s := &Server{
		registry: registry,
		verifier: verifier,
		audit:    audit,
		opts:     opts,
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// State is the lifecycle of one signaling session.
type State int32

const (
	StateConnecting State = iota
	StateAuthorizing
	StateJoined
	StateRelaying
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateJoined:
		return "joined"
	case StateRelaying:
		return "relaying"
	default:
		return "disconnected"
	}
}

type session struct {
	roomID   string
	identity domain.Identity
	conn     *wsConn
	remoteIP string

	state     atomic.Int32
	leaveOnce sync.Once
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *session) State() State {
	return State(s.state.Load())
}

// HandleWS serves GET /ws/signaling/{room_id}?token=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	roomID := strings.TrimSpace(chi.URLParam(r, "room_id"))
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		slog.Warn("ws upgrade failed", "room", roomID, "err", err)
		return
	}

	sess := &session{roomID: roomID, remoteIP: clientIP(r)}
	sess.setState(StateConnecting)

	sess.setState(StateAuthorizing)
	id, err := s.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		slog.Warn("ws auth failed", "room", roomID, "ip", sess.remoteIP, "err", err)
		closeWithCode(conn, CloseInvalidToken, CloseInvalidTokenReason, s.opts.WriteTimeout)
		sess.setState(StateDisconnected)
		return
	}
	sess.identity = id

	c := newWsConn(conn, s.opts.SendQueue, s.opts.WriteTimeout, s.opts.PingInterval)
	sess.conn = c

	_, err = s.registry.Join(c, roomID, id, func(ps []domain.Participant) any {
		return RoomInfoEvent{
			Type:         TypeRoomInfo,
			RoomID:       roomID,
			Participants: ps,
			YourID:       id.UserID,
		}
	})
	if err != nil {
		slog.Error("ws join failed", "room", roomID, "user", id.UserID, "err", err)
		_ = c.Close()
		sess.setState(StateDisconnected)
		return
	}
	sess.setState(StateJoined)
	defer s.disconnect(sess)

	slog.Info("ws joined", "room", roomID, "user", id.UserID, "role", id.Role, "conn", c.ID())
	s.record(sess, domain.AuditJoinInterview, "interview", nil)

	go c.writePump()

	sess.setState(StateRelaying)
	s.readLoop(sess)
}

func (s *Server) readLoop(sess *session) {
	c := sess.conn
	c.conn.SetReadLimit(s.opts.MaxMessageBytes)
	if s.opts.PingInterval > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.opts.PingInterval))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(2 * s.opts.PingInterval))
		})
	}

	limit := rate.Inf
	if s.opts.MessagesPerSecond > 0 {
		limit = rate.Limit(s.opts.MessagesPerSecond)
	}
	limiter := rate.NewLimiter(limit, s.opts.Burst)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("ws read closed unexpectedly", "room", sess.roomID, "user", sess.identity.UserID, "err", err)
			}
			return
		}
		if s.opts.PingInterval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.opts.PingInterval))
		}

		sig, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrMalformedFrame) {
				slog.Warn("ws malformed frame, closing", "room", sess.roomID, "user", sess.identity.UserID, "err", err)
				return
			}
			slog.Warn("ws dropped message", "room", sess.roomID, "user", sess.identity.UserID, "err", err)
			continue
		}

		// offer/answer/ice go to one peer and a lost candidate stalls the call
		if !sig.Kind().pointToPoint() && !limiter.Allow() {
			slog.Warn("ws message rate exceeded, dropping", "room", sess.roomID, "user", sess.identity.UserID, "type", sig.Kind())
			continue
		}

		s.dispatch(sess, sig)
	}
}

func (s *Server) dispatch(sess *session, sig Signal) {
	room, from := sess.roomID, sess.identity
	if st := sess.State(); st != StateRelaying {
		slog.Debug("ws dropping message outside relay", "room", room, "user", from.UserID, "state", st, "type", sig.Kind())
		return
	}

	switch m := sig.(type) {
	case Offer:
		slog.Debug("ws relay offer", "room", room, "from", from.UserID, "to", m.TargetID, "sdp_type", sdpType(m.Typed))
		s.registry.SendToUser(room, m.TargetID, OfferEvent{
			Type: TypeOffer, Offer: m.SDP, FromID: from.UserID, FromRole: from.Role,
		})
	case Answer:
		slog.Debug("ws relay answer", "room", room, "from", from.UserID, "to", m.TargetID, "sdp_type", sdpType(m.Typed))
		s.registry.SendToUser(room, m.TargetID, AnswerEvent{
			Type: TypeAnswer, Answer: m.SDP, FromID: from.UserID, FromRole: from.Role,
		})
	case ICECandidate:
		s.registry.SendToUser(room, m.TargetID, ICECandidateEvent{
			Type: TypeICECandidate, Candidate: m.Candidate, FromID: from.UserID, FromRole: from.Role,
		})

	case RecordingStarted:
		s.registry.Broadcast(room, RecordingEvent{
			Type: TypeRecordingStarted, StartedBy: from.UserID, FromID: from.UserID, FromRole: from.Role,
		}, nil)
		s.record(sess, domain.AuditStartRecording, "interview", nil)
	case RecordingStopped:
		s.registry.Broadcast(room, RecordingEvent{
			Type: TypeRecordingStopped, StoppedBy: from.UserID, FromID: from.UserID, FromRole: from.Role,
		}, nil)
		s.record(sess, domain.AuditStopRecording, "interview", nil)

	case ConsentRequested:
		s.registry.Broadcast(room, ConsentRequestedEvent{
			Type: TypeConsentRequested, RequestedBy: from.UserID, FromID: from.UserID, FromRole: from.Role,
		}, sess.conn)
	case ConsentResponse:
		s.registry.Broadcast(room, ConsentResponseEvent{
			Type: TypeConsentResponse, Granted: m.Granted, FromID: from.UserID, FromRole: from.Role,
		}, sess.conn)
		action := domain.AuditDenyConsent
		if m.Granted {
			action = domain.AuditGrantConsent
		}
		s.record(sess, action, "consent", nil)

	case Chat:
		s.registry.Broadcast(room, ChatEvent{
			Type: TypeChat, Message: m.Message, FromID: from.UserID, FromRole: from.Role, TSUnix: s.now().Unix(),
		}, nil)

	case Ping:
		if err := s.registry.SendTo(sess.conn, PongEvent{Type: TypePong}); err != nil {
			slog.Debug("ws pong failed", "room", room, "user", from.UserID, "err", err)
		}

	case Unknown:
		slog.Debug("ws ignoring unknown message", "room", room, "user", from.UserID, "type", m.Type)
	}
}

// disconnect runs the leave path once per session, whatever ended it.
func (s *Server) disconnect(sess *session) {
	sess.leaveOnce.Do(func() {
		last := sess.State()
		sess.setState(StateDisconnected)
		if id, ok := s.registry.Leave(sess.conn); ok {
			s.registry.Broadcast(sess.roomID, UserLeftEvent{
				Type:     TypeUserLeft,
				UserID:   id.UserID,
				UserRole: id.Role,
			}, nil)
			slog.Info("ws left", "room", sess.roomID, "user", id.UserID, "conn", sess.conn.ID(), "from_state", last)
		}
		if err := sess.conn.Close(); err != nil {
			slog.Debug("ws close failed", "room", sess.roomID, "user", sess.identity.UserID, "err", err)
		}
	})
}

func (s *Server) record(sess *session, action domain.AuditAction, resourceType string, details *string) {
	if s.audit == nil {
		return
	}
	room := sess.roomID
	var ip *string
	if sess.remoteIP != "" {
		v := sess.remoteIP
		ip = &v
	}
	s.audit.Record(domain.AuditEntry{
		UserID:       sess.identity.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   &room,
		Details:      details,
		IPAddress:    ip,
		CreatedAt:    s.now(),
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // non-browser client
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
