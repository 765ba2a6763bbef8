package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/telecare/signaling-service/internal/domain"

	"github.com/pion/webrtc/v4"
)

// Wire type tags.
const (
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice-candidate"
	TypeRecordingStarted = "recording-started"
	TypeRecordingStopped = "recording-stopped"
	TypeConsentRequested = "consent-requested"
	TypeConsentResponse  = "consent-response"
	TypeChat             = "chat"
	TypePing             = "ping"

	TypePong       = "pong"
	TypeUserJoined = "user-joined"
	TypeUserLeft   = "user-left"
	TypeRoomInfo   = "room-info"
)

const maxChatLen = 4000

var (
	// ErrMalformedFrame means the frame is not a JSON object; the session ends.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrMalformedPayload means a known kind carried unusable fields; the frame is dropped.
	ErrMalformedPayload = errors.New("malformed payload")
)

// Kind is the closed set of inbound message kinds.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindOffer
	KindAnswer
	KindICECandidate
	KindRecordingStarted
	KindRecordingStopped
	KindConsentRequested
	KindConsentResponse
	KindChat
	KindPing
)

var kindByType = map[string]Kind{
	TypeOffer:            KindOffer,
	TypeAnswer:           KindAnswer,
	TypeICECandidate:     KindICECandidate,
	TypeRecordingStarted: KindRecordingStarted,
	TypeRecordingStopped: KindRecordingStopped,
	TypeConsentRequested: KindConsentRequested,
	TypeConsentResponse:  KindConsentResponse,
	TypeChat:             KindChat,
	TypePing:             KindPing,
}

func ParseKind(s string) Kind {
	if k, ok := kindByType[s]; ok {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string {
	for t, kk := range kindByType {
		if kk == k {
			return t
		}
	}
	return "unknown"
}

// pointToPoint reports the negotiation kinds relayed to a single target.
func (k Kind) pointToPoint() bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// Signal is one decoded inbound message.
type Signal interface {
	Kind() Kind
}

// Offer relays SDP as received. Typed is set only when the body parses as a
// session description.
type Offer struct {
	TargetID string
	SDP      json.RawMessage
	Typed    *webrtc.SessionDescription
}

type Answer struct {
	TargetID string
	SDP      json.RawMessage
	Typed    *webrtc.SessionDescription
}

// ICECandidate relays the candidate as received; a JSON null marks
// end-of-candidates.
type ICECandidate struct {
	TargetID  string
	Candidate json.RawMessage
	Typed     *webrtc.ICECandidateInit
}

type RecordingStarted struct{}

type RecordingStopped struct{}

type ConsentRequested struct{}

type ConsentResponse struct {
	Granted bool
}

type Chat struct {
	Message string
}

type Ping struct{}

// Unknown is a well-formed frame with a type tag this relay does not handle.
type Unknown struct {
	Type string
}

func (Offer) Kind() Kind            { return KindOffer }
func (Answer) Kind() Kind           { return KindAnswer }
func (ICECandidate) Kind() Kind     { return KindICECandidate }
func (RecordingStarted) Kind() Kind { return KindRecordingStarted }
func (RecordingStopped) Kind() Kind { return KindRecordingStopped }
func (ConsentRequested) Kind() Kind { return KindConsentRequested }
func (ConsentResponse) Kind() Kind  { return KindConsentResponse }
func (Chat) Kind() Kind             { return KindChat }
func (Ping) Kind() Kind             { return KindPing }
func (Unknown) Kind() Kind          { return KindUnknown }

// Decode maps one inbound frame onto a Signal. Each kind reads only its own
// fields, so unrelated junk in a frame never fails a well-formed message.
func Decode(data []byte) (Signal, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch ParseKind(env.Type) {
	case KindOffer:
		target, body, err := negotiation(data, env.Type, "offer", false)
		if err != nil {
			return nil, err
		}
		return Offer{TargetID: target, SDP: body, Typed: sessionDescription(body)}, nil

	case KindAnswer:
		target, body, err := negotiation(data, env.Type, "answer", false)
		if err != nil {
			return nil, err
		}
		return Answer{TargetID: target, SDP: body, Typed: sessionDescription(body)}, nil

	case KindICECandidate:
		target, body, err := negotiation(data, env.Type, "candidate", true)
		if err != nil {
			return nil, err
		}
		return ICECandidate{TargetID: target, Candidate: body, Typed: candidateInit(body)}, nil

	case KindRecordingStarted:
		return RecordingStarted{}, nil
	case KindRecordingStopped:
		return RecordingStopped{}, nil
	case KindConsentRequested:
		return ConsentRequested{}, nil

	case KindConsentResponse:
		var in struct {
			Granted *bool `json:"granted"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, payloadErr(env.Type, err.Error())
		}
		if in.Granted == nil {
			return nil, payloadErr(env.Type, "missing granted")
		}
		return ConsentResponse{Granted: *in.Granted}, nil

	case KindChat:
		var in struct {
			Message *string `json:"message"`
		}
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, payloadErr(env.Type, err.Error())
		}
		if in.Message == nil {
			return nil, payloadErr(env.Type, "missing message")
		}
		text := strings.TrimSpace(*in.Message)
		if text == "" {
			return nil, payloadErr(env.Type, "empty message")
		}
		if len(text) > maxChatLen {
			return nil, payloadErr(env.Type, "message too long")
		}
		return Chat{Message: text}, nil

	case KindPing:
		return Ping{}, nil
	default:
		return Unknown{Type: env.Type}, nil
	}
}

// negotiation reads target_id and the raw body under field. The body is kept
// byte-for-byte; only its presence is checked.
func negotiation(data []byte, typ, field string, allowNull bool) (string, json.RawMessage, error) {
	var in map[string]json.RawMessage
	if err := json.Unmarshal(data, &in); err != nil {
		return "", nil, payloadErr(typ, err.Error())
	}
	var target string
	if raw, ok := in["target_id"]; ok {
		if err := json.Unmarshal(raw, &target); err != nil {
			return "", nil, payloadErr(typ, "target_id must be a string")
		}
	}
	if target == "" {
		return "", nil, payloadErr(typ, "missing target_id")
	}
	body, ok := in[field]
	if !ok {
		return "", nil, payloadErr(typ, "missing "+field)
	}
	if isNull(body) {
		if !allowNull {
			return "", nil, payloadErr(typ, "missing "+field)
		}
		body = json.RawMessage("null")
	}
	return target, body, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func sessionDescription(raw json.RawMessage) *webrtc.SessionDescription {
	var sd webrtc.SessionDescription
	if err := json.Unmarshal(raw, &sd); err != nil || sd.SDP == "" {
		return nil
	}
	return &sd
}

func sdpType(sd *webrtc.SessionDescription) string {
	if sd == nil {
		return "opaque"
	}
	return sd.Type.String()
}

func candidateInit(raw json.RawMessage) *webrtc.ICECandidateInit {
	if isNull(raw) {
		return nil
	}
	var c webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &c); err != nil || c.Candidate == "" {
		return nil
	}
	return &c
}

func payloadErr(typ, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedPayload, typ, reason)
}

// --- outbound events ---

type UserJoinedEvent struct {
	Type         string      `json:"type"`
	UserID       string      `json:"user_id"`
	UserRole     domain.Role `json:"user_role"`
	Participants int         `json:"participants"`
}

type UserLeftEvent struct {
	Type     string      `json:"type"`
	UserID   string      `json:"user_id"`
	UserRole domain.Role `json:"user_role"`
}

type RoomInfoEvent struct {
	Type         string               `json:"type"`
	RoomID       string               `json:"room_id"`
	Participants []domain.Participant `json:"participants"`
	YourID       string               `json:"your_id"`
}

type OfferEvent struct {
	Type     string          `json:"type"`
	Offer    json.RawMessage `json:"offer"`
	FromID   string          `json:"from_id"`
	FromRole domain.Role     `json:"from_role"`
}

type AnswerEvent struct {
	Type     string          `json:"type"`
	Answer   json.RawMessage `json:"answer"`
	FromID   string          `json:"from_id"`
	FromRole domain.Role     `json:"from_role"`
}

type ICECandidateEvent struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	FromID    string          `json:"from_id"`
	FromRole  domain.Role     `json:"from_role"`
}

type RecordingEvent struct {
	Type      string      `json:"type"`
	StartedBy string      `json:"started_by,omitempty"`
	StoppedBy string      `json:"stopped_by,omitempty"`
	FromID    string      `json:"from_id"`
	FromRole  domain.Role `json:"from_role"`
}

type ConsentRequestedEvent struct {
	Type        string      `json:"type"`
	RequestedBy string      `json:"requested_by"`
	FromID      string      `json:"from_id"`
	FromRole    domain.Role `json:"from_role"`
}

type ConsentResponseEvent struct {
	Type     string      `json:"type"`
	Granted  bool        `json:"granted"`
	FromID   string      `json:"from_id"`
	FromRole domain.Role `json:"from_role"`
}

type ChatEvent struct {
	Type     string      `json:"type"`
	Message  string      `json:"message"`
	FromID   string      `json:"from_id"`
	FromRole domain.Role `json:"from_role"`
	TSUnix   int64       `json:"ts_unix"`
}

type PongEvent struct {
	Type string `json:"type"`
}

func typeOf(v any) string {
	return fmt.Sprintf("%T", v)
}
