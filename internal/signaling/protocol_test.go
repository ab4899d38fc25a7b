package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func mustCompactJSON(t *testing.T, b []byte) []byte {
	t.Helper()
	var out bytes.Buffer
	if err := json.Compact(&out, b); err != nil {
		t.Fatalf("json.Compact: %v", err)
	}
	return out.Bytes()
}

func TestEnvelopeJSON(t *testing.T) {
	raw := []byte(`{"sdp":{"type":"answer","content":"v=0..."}}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if !env.IsAnswer() || env.IsOffer() || env.IsCandidate() {
		t.Fatalf("kind: got %s", env.Kind())
	}
	if env.SDP.Content != "v=0..." {
		t.Fatalf("content: got %q", env.SDP.Content)
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if !bytes.Equal(mustCompactJSON(t, encoded), mustCompactJSON(t, raw)) {
		t.Fatalf("marshal mismatch: got %s want %s", encoded, raw)
	}
}

func TestCandidateEnvelopeJSON(t *testing.T) {
	raw := []byte(`{"ice":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0"}}`)

	env, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Kind() != "candidate" {
		t.Fatalf("kind: got %s", env.Kind())
	}
	encoded, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if !bytes.Equal(mustCompactJSON(t, encoded), mustCompactJSON(t, raw)) {
		t.Fatalf("marshal mismatch: got %s want %s", encoded, raw)
	}
}

func TestEnvelopeValidation(t *testing.T) {
	cases := []struct {
		raw  string
		want error
	}{
		{`{"sdp":{"type":"rollback","content":"x"}}`, errInvalidSDPType},
		{`{"sdp":{"type":"offer","content":""}}`, errMissingSDP},
		{`{}`, errEnvelopeAmbiguous},
		{`{"ice":null}`, errEnvelopeAmbiguous},
		{`{"sdp":{"type":"offer","content":"x"},"ice":{"candidate":""}}`, errEnvelopeAmbiguous},
	}
	for _, tc := range cases {
		if _, err := ParseEnvelope([]byte(tc.raw)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.raw, err, tc.want)
		}
	}

	if _, err := ParseEnvelope([]byte(`{"sdp":{"type":"offer","content":"x","extra":1}}`)); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if (Envelope{}).Kind() != "invalid" {
		t.Fatalf("empty envelope kind")
	}
}
