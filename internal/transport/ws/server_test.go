package ws

import (
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/errs"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

type stubVerifier map[string]domain.Identity

func (v stubVerifier) Verify(token string) (domain.Identity, error) {
	id, ok := v[token]
	if !ok {
		return domain.Identity{}, errs.ErrInvalidToken
	}
	return id, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Record(e domain.AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

func (a *memAudit) actions(user string) []domain.AuditAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditAction
	for _, e := range a.entries {
		if e.UserID == user {
			out = append(out, e.Action)
		}
	}
	return out
}

var testUsers = stubVerifier{
	"tok-A": doctor("A"),
	"tok-B": patient("B"),
	"tok-C": patient("C"),
}

func newTestServer(t *testing.T) (*httptest.Server, *Registry, *memAudit) {
	t.Helper()
	return newTestServerWith(t, Options{WriteTimeout: time.Second})
}

func newTestServerWith(t *testing.T, opts Options) (*httptest.Server, *Registry, *memAudit) {
	t.Helper()
	reg := NewRegistry()
	audit := &memAudit{}
	srv := NewServer(reg, testUsers, audit, opts)

	r := chi.NewRouter()
	r.Get("/ws/signaling/{room_id}", srv.HandleWS)
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		reg.CloseAll()
		ts.Close()
	})
	return ts, reg, audit
}

func dial(t *testing.T, ts *httptest.Server, room, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/signaling/" + room + "?token=" + token
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", token, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readMsg(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m map[string]any
	if err := c.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

func expectType(t *testing.T, c *websocket.Conn, typ string) map[string]any {
	t.Helper()
	m := readMsg(t, c)
	if m["type"] != typ {
		t.Fatalf("got %v, want type %q", m, typ)
	}
	return m
}

// expectSilence must be the last read on c: a timed out gorilla conn is unusable.
func expectSilence(t *testing.T, c *websocket.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var m map[string]any
	if err := c.ReadJSON(&m); err == nil {
		t.Fatalf("unexpected message %v", m)
	}
}

func send(t *testing.T, c *websocket.Conn, frame string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func join(t *testing.T, ts *httptest.Server, room, token string) *websocket.Conn {
	t.Helper()
	c := dial(t, ts, room, token)
	info := expectType(t, c, TypeRoomInfo)
	if info["room_id"] != room || info["your_id"] != testUsers[token].UserID {
		t.Fatalf("room-info = %v", info)
	}
	return c
}

func TestSignaling_OfferAndLeaveScenario(t *testing.T) {
	ts, reg, _ := newTestServer(t)

	a := join(t, ts, "R1", "tok-A")
	b := join(t, ts, "R1", "tok-B")

	ev := expectType(t, a, TypeUserJoined)
	if ev["user_id"] != "B" || ev["user_role"] != "patient" || ev["participants"] != float64(2) {
		t.Fatalf("user-joined = %v", ev)
	}

	c := join(t, ts, "R1", "tok-C")
	expectType(t, a, TypeUserJoined)
	expectType(t, b, TypeUserJoined)

	send(t, b, `{"type":"offer","target_id":"A","offer":{"type":"offer","sdp":"v=0"}}`)
	offer := expectType(t, a, TypeOffer)
	if offer["from_id"] != "B" || offer["from_role"] != "patient" {
		t.Fatalf("offer = %v", offer)
	}
	sdp, _ := offer["offer"].(map[string]any)
	if sdp["type"] != "offer" || sdp["sdp"] != "v=0" {
		t.Fatalf("offer payload = %v", sdp)
	}
	expectSilence(t, c)
	_ = c.Close()

	left := expectType(t, a, TypeUserLeft)
	if left["user_id"] != "C" {
		t.Fatalf("user-left = %v", left)
	}
	expectType(t, b, TypeUserLeft)

	_ = b.Close()
	left = expectType(t, a, TypeUserLeft)
	if left["user_id"] != "B" || left["user_role"] != "patient" {
		t.Fatalf("user-left = %v", left)
	}

	ps := reg.ListParticipants("R1")
	if len(ps) != 1 || ps[0].UserID != "A" {
		t.Fatalf("participants = %+v", ps)
	}
}

func TestSignaling_RelaysNegotiationPayloadsVerbatim(t *testing.T) {
	ts, _, _ := newTestServer(t)

	a := join(t, ts, "R6", "tok-A")
	b := join(t, ts, "R6", "tok-B")
	expectType(t, a, TypeUserJoined)

	const cand = "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"
	send(t, b, `{"type":"ice-candidate","target_id":"A","candidate":"`+cand+`"}`)
	if m := expectType(t, a, TypeICECandidate); m["candidate"] != cand || m["from_id"] != "B" {
		t.Fatalf("ice-candidate = %v", m)
	}

	send(t, b, `{"type":"offer","target_id":"A","offer":"v=0\r\n"}`)
	if m := expectType(t, a, TypeOffer); m["offer"] != "v=0\r\n" {
		t.Fatalf("offer = %v", m)
	}

	send(t, a, `{"type":"answer","target_id":"B","answer":{"type":"answer","sdp":"v=0","x-extra":true}}`)
	m := expectType(t, b, TypeAnswer)
	ans, _ := m["answer"].(map[string]any)
	if ans["sdp"] != "v=0" || ans["x-extra"] != true {
		t.Fatalf("answer = %v", m)
	}

	send(t, b, `{"type":"ice-candidate","target_id":"A","candidate":null}`)
	m = expectType(t, a, TypeICECandidate)
	if v, ok := m["candidate"]; !ok || v != nil {
		t.Fatalf("end-of-candidates = %v", m)
	}
	expectSilence(t, b)
}

func TestSignaling_RateLimitSparesNegotiation(t *testing.T) {
	ts, _, _ := newTestServerWith(t, Options{WriteTimeout: time.Second, MessagesPerSecond: 0.001, Burst: 1})

	a := join(t, ts, "R7", "tok-A")
	b := join(t, ts, "R7", "tok-B")
	expectType(t, a, TypeUserJoined)

	send(t, a, `{"type":"chat","message":"one"}`)
	send(t, a, `{"type":"chat","message":"two"}`)
	for i := 0; i < 5; i++ {
		send(t, a, `{"type":"ice-candidate","target_id":"B","candidate":{"candidate":"candidate:`+string(rune('1'+i))+` 1 udp 1 10.0.0.1 5000 typ host"}}`)
	}

	if m := expectType(t, b, TypeChat); m["message"] != "one" {
		t.Fatalf("chat = %v", m)
	}
	for i := 0; i < 5; i++ {
		m := expectType(t, b, TypeICECandidate)
		c, _ := m["candidate"].(map[string]any)
		want := "candidate:" + string(rune('1'+i)) + " 1 udp 1 10.0.0.1 5000 typ host"
		if c["candidate"] != want {
			t.Fatalf("candidate %d = %v", i, m)
		}
	}

	if m := expectType(t, a, TypeChat); m["message"] != "one" {
		t.Fatalf("chat = %v", m)
	}
	expectSilence(t, a)
}

func TestSession_DispatchOnlyWhileRelaying(t *testing.T) {
	reg := NewRegistry()
	s := NewServer(reg, testUsers, nil, Options{WriteTimeout: time.Second})

	sc, _ := pair(t)
	c := newWsConn(sc, 8, time.Second, 0)
	if _, err := reg.Join(c, "R8", doctor("A"), nil); err != nil {
		t.Fatal(err)
	}
	sess := &session{roomID: "R8", identity: doctor("A"), conn: c}

	sess.setState(StateJoined)
	s.dispatch(sess, Ping{})
	if n := len(c.send); n != 0 {
		t.Fatalf("queued %d frames before relaying", n)
	}

	sess.setState(StateRelaying)
	s.dispatch(sess, Ping{})
	if n := len(c.send); n != 1 {
		t.Fatalf("queued %d frames while relaying, want 1", n)
	}

	s.disconnect(sess)
	if st := sess.State(); st != StateDisconnected || st.String() != "disconnected" {
		t.Fatalf("state = %v", st)
	}
	if ps := reg.ListParticipants("R8"); len(ps) != 0 {
		t.Fatalf("participants = %+v", ps)
	}
	s.disconnect(sess)
}

func TestSignaling_InvalidTokenCloses4001(t *testing.T) {
	ts, reg, _ := newTestServer(t)
	a := join(t, ts, "R1", "tok-A")

	for _, tok := range []string{"garbage", ""} {
		bad := dial(t, ts, "R1", tok)
		_ = bad.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, err := bad.ReadMessage()

		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("token %q: err = %v, want close error", tok, err)
		}
		if ce.Code != CloseInvalidToken || ce.Text != CloseInvalidTokenReason {
			t.Fatalf("token %q: close = %d %q", tok, ce.Code, ce.Text)
		}
	}

	if ps := reg.ListParticipants("R1"); len(ps) != 1 {
		t.Fatalf("participants = %+v", ps)
	}
	expectSilence(t, a)
}

func TestSignaling_BroadcastRouting(t *testing.T) {
	ts, _, audit := newTestServer(t)

	a := join(t, ts, "R2", "tok-A")
	b := join(t, ts, "R2", "tok-B")
	expectType(t, a, TypeUserJoined)

	send(t, a, `{"type":"chat","message":" hello "}`)
	for _, c := range []*websocket.Conn{a, b} {
		m := expectType(t, c, TypeChat)
		if m["message"] != "hello" || m["from_id"] != "A" || m["from_role"] != "doctor" {
			t.Fatalf("chat = %v", m)
		}
		if _, ok := m["ts_unix"]; !ok {
			t.Fatalf("chat without ts_unix: %v", m)
		}
	}

	send(t, a, `{"type":"recording-started"}`)
	for _, c := range []*websocket.Conn{a, b} {
		m := expectType(t, c, TypeRecordingStarted)
		if m["started_by"] != "A" {
			t.Fatalf("recording-started = %v", m)
		}
	}
	send(t, a, `{"type":"recording-stopped"}`)
	for _, c := range []*websocket.Conn{a, b} {
		m := expectType(t, c, TypeRecordingStopped)
		if m["stopped_by"] != "A" {
			t.Fatalf("recording-stopped = %v", m)
		}
	}

	// sender-excluded kinds: the sender's next frame must be its own pong
	send(t, b, `{"type":"consent-requested"}`)
	send(t, b, `{"type":"ping"}`)
	expectType(t, b, TypePong)
	if m := expectType(t, a, TypeConsentRequested); m["requested_by"] != "B" {
		t.Fatalf("consent-requested = %v", m)
	}

	send(t, a, `{"type":"consent-response","granted":true}`)
	send(t, a, `{"type":"ping"}`)
	expectType(t, a, TypePong)
	if m := expectType(t, b, TypeConsentResponse); m["granted"] != true || m["from_id"] != "A" {
		t.Fatalf("consent-response = %v", m)
	}

	// ignored and dropped frames keep the session alive
	send(t, a, `{"type":"dance"}`)
	send(t, a, `{"type":"chat","message":"   "}`)
	send(t, a, `{"type":"ping"}`)
	expectType(t, a, TypePong)

	want := []domain.AuditAction{domain.AuditJoinInterview, domain.AuditStartRecording, domain.AuditStopRecording, domain.AuditGrantConsent}
	got := audit.actions("A")
	if len(got) != len(want) {
		t.Fatalf("audit = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit = %v, want %v", got, want)
		}
	}

	expectSilence(t, b)
}

func TestSignaling_MalformedFrameDisconnects(t *testing.T) {
	ts, reg, _ := newTestServer(t)

	a := join(t, ts, "R3", "tok-A")
	b := join(t, ts, "R3", "tok-B")
	expectType(t, a, TypeUserJoined)

	send(t, b, `not json`)
	if m := expectType(t, a, TypeUserLeft); m["user_id"] != "B" {
		t.Fatalf("user-left = %v", m)
	}
	if ps := reg.ListParticipants("R3"); len(ps) != 1 || ps[0].UserID != "A" {
		t.Fatalf("participants = %+v", ps)
	}
}

func TestSignaling_AuditCarriesRoomAndIP(t *testing.T) {
	ts, _, audit := newTestServer(t)
	a := join(t, ts, "R4", "tok-A")
	send(t, a, `{"type":"ping"}`)
	expectType(t, a, TypePong)

	audit.mu.Lock()
	defer audit.mu.Unlock()
	if len(audit.entries) != 1 {
		t.Fatalf("entries = %+v", audit.entries)
	}
	e := audit.entries[0]
	if e.ResourceType != "interview" || e.ResourceID == nil || *e.ResourceID != "R4" {
		t.Fatalf("resource = %q %v", e.ResourceType, e.ResourceID)
	}
	if e.IPAddress == nil || *e.IPAddress != "127.0.0.1" {
		t.Fatalf("ip = %v", e.IPAddress)
	}
}

func TestCheckOrigin(t *testing.T) {
	s := NewServer(NewRegistry(), testUsers, nil, Options{AllowedOrigins: []string{"https://app.example.com"}})

	cases := map[string]bool{
		"":                        true,
		"https://app.example.com": true,
		"https://evil.example":    false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest("GET", "/ws/signaling/R1", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		if got := s.checkOrigin(r); got != want {
			t.Errorf("origin %q: got %v, want %v", origin, got, want)
		}
	}
}
