package ws

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDecode(t *testing.T) {
	long := strings.Repeat("x", maxChatLen+1)

	tests := []struct {
		name    string
		in      string
		want    Kind
		wantErr error
	}{
		{"offer", `{"type":"offer","target_id":"B","offer":{"type":"offer","sdp":"v=0"}}`, KindOffer, nil},
		{"offer without target", `{"type":"offer","offer":{"type":"offer","sdp":"v=0"}}`, 0, ErrMalformedPayload},
		{"offer as bare sdp string", `{"type":"offer","target_id":"B","offer":"v=0\r\n"}`, KindOffer, nil},
		{"offer with foreign sdp type", `{"type":"offer","target_id":"B","offer":{"type":"answer","sdp":"v=0"}}`, KindOffer, nil},
		{"offer without sdp", `{"type":"offer","target_id":"B"}`, 0, ErrMalformedPayload},
		{"offer with null sdp", `{"type":"offer","target_id":"B","offer":null}`, 0, ErrMalformedPayload},
		{"offer with numeric target", `{"type":"offer","target_id":7,"offer":"v=0"}`, 0, ErrMalformedPayload},
		{"answer", `{"type":"answer","target_id":"A","answer":{"type":"answer","sdp":"v=0"}}`, KindAnswer, nil},
		{"pranswer", `{"type":"answer","target_id":"A","answer":{"type":"pranswer","sdp":"v=0"}}`, KindAnswer, nil},
		{"answer with bogus type", `{"type":"answer","target_id":"A","answer":{"type":"bogus","sdp":"v=0"}}`, KindAnswer, nil},
		{"answer without body", `{"type":"answer","target_id":"A"}`, 0, ErrMalformedPayload},
		{"ice", `{"type":"ice-candidate","target_id":"A","candidate":{"candidate":"candidate:1 1 UDP 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`, KindICECandidate, nil},
		{"ice as raw string", `{"type":"ice-candidate","target_id":"A","candidate":"candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"}`, KindICECandidate, nil},
		{"ice end of candidates", `{"type":"ice-candidate","target_id":"A","candidate":null}`, KindICECandidate, nil},
		{"ice without candidate", `{"type":"ice-candidate","target_id":"A"}`, 0, ErrMalformedPayload},
		{"ice without target", `{"type":"ice-candidate","candidate":{"candidate":""}}`, 0, ErrMalformedPayload},
		{"recording started", `{"type":"recording-started"}`, KindRecordingStarted, nil},
		{"recording stopped", `{"type":"recording-stopped"}`, KindRecordingStopped, nil},
		{"consent requested", `{"type":"consent-requested"}`, KindConsentRequested, nil},
		{"consent response", `{"type":"consent-response","granted":false}`, KindConsentResponse, nil},
		{"consent response without granted", `{"type":"consent-response"}`, 0, ErrMalformedPayload},
		{"consent response wrong type", `{"type":"consent-response","granted":"yes"}`, 0, ErrMalformedPayload},
		{"chat", `{"type":"chat","message":"  hello  "}`, KindChat, nil},
		{"chat ignores junk fields", `{"type":"chat","message":"hi","offer":42}`, KindChat, nil},
		{"chat blank", `{"type":"chat","message":"   "}`, 0, ErrMalformedPayload},
		{"chat too long", `{"type":"chat","message":"` + long + `"}`, 0, ErrMalformedPayload},
		{"ping", `{"type":"ping"}`, KindPing, nil},
		{"unknown type", `{"type":"dance"}`, KindUnknown, nil},
		{"missing type", `{"foo":1}`, KindUnknown, nil},
		{"not json", `hello`, 0, ErrMalformedFrame},
		{"array", `[1,2]`, 0, ErrMalformedFrame},
		{"numeric type", `{"type":7}`, 0, ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Decode([]byte(tt.in))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if sig.Kind() != tt.want {
				t.Fatalf("kind = %v, want %v", sig.Kind(), tt.want)
			}
		})
	}
}

func TestDecode_Fields(t *testing.T) {
	sig, err := Decode([]byte(`{"type":"offer","target_id":"B","offer":{"type":"offer","sdp":"v=0\r\n"}}`))
	if err != nil {
		t.Fatal(err)
	}
	offer, ok := sig.(Offer)
	if !ok {
		t.Fatalf("got %T", sig)
	}
	if offer.TargetID != "B" || string(offer.SDP) != `{"type":"offer","sdp":"v=0\r\n"}` {
		t.Fatalf("offer = %+v", offer)
	}
	if offer.Typed == nil || offer.Typed.Type != webrtc.SDPTypeOffer || offer.Typed.SDP != "v=0\r\n" {
		t.Fatalf("typed = %+v", offer.Typed)
	}

	sig, err = Decode([]byte(`{"type":"offer","target_id":"B","offer":"v=0\r\n"}`))
	if err != nil {
		t.Fatal(err)
	}
	if offer := sig.(Offer); string(offer.SDP) != `"v=0\r\n"` || offer.Typed != nil {
		t.Fatalf("bare offer = %s typed %+v", offer.SDP, offer.Typed)
	}

	sig, err = Decode([]byte(`{"type":"chat","message":"  hello  "}`))
	if err != nil {
		t.Fatal(err)
	}
	if chat := sig.(Chat); chat.Message != "hello" {
		t.Fatalf("chat = %q", chat.Message)
	}

	sig, err = Decode([]byte(`{"type":"ice-candidate","target_id":"A","candidate":null}`))
	if err != nil {
		t.Fatal(err)
	}
	if ice := sig.(ICECandidate); string(ice.Candidate) != "null" || ice.Typed != nil {
		t.Fatalf("candidate = %s typed %+v", ice.Candidate, ice.Typed)
	}

	sig, err = Decode([]byte(`{"type":"ice-candidate","target_id":"A","candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`))
	if err != nil {
		t.Fatal(err)
	}
	if ice := sig.(ICECandidate); string(ice.Candidate) != `"candidate:1 1 udp 1 10.0.0.1 5000 typ host"` || ice.Typed != nil {
		t.Fatalf("raw candidate = %s typed %+v", ice.Candidate, ice.Typed)
	}

	sig, err = Decode([]byte(`{"type":"ice-candidate","target_id":"A","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if ice := sig.(ICECandidate); ice.Typed == nil || ice.Typed.SDPMid == nil || *ice.Typed.SDPMid != "0" {
		t.Fatalf("typed candidate = %+v", ice.Typed)
	}
}

func TestOfferEventWireShape(t *testing.T) {
	data, err := json.Marshal(OfferEvent{
		Type:     TypeOffer,
		Offer:    json.RawMessage(`{"type":"offer","sdp":"v=0","x-vendor":1}`),
		FromID:   "A",
		FromRole: "doctor",
	})
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	offer, _ := got["offer"].(map[string]any)
	if got["type"] != "offer" || got["from_id"] != "A" || got["from_role"] != "doctor" || offer["type"] != "offer" || offer["sdp"] != "v=0" || offer["x-vendor"] != float64(1) {
		t.Fatalf("wire = %s", data)
	}
}

func TestParseKind(t *testing.T) {
	for typ, k := range kindByType {
		if ParseKind(typ) != k || k.String() != typ {
			t.Fatalf("%s <-> %v", typ, k)
		}
	}
	if ParseKind("nope") != KindUnknown || KindUnknown.String() != "unknown" {
		t.Fatal("unknown kind mapping")
	}
}
