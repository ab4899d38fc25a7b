package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var (
	errInvalidSDPType     = errors.New("signaling: invalid session description type")
	errMissingSDP         = errors.New("signaling: missing session description content")
	errEnvelopeAmbiguous  = errors.New("signaling: envelope must carry exactly one of sdp or ice")
	errMissingParticipant = errors.New("signaling: missing participant id")
)

// ParticipantID is the relay-assigned identity of a room member. It is unique
// for the lifetime of one relay connection.
type ParticipantID string

func (id ParticipantID) String() string { return string(id) }

type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is an SDP blob tagged with its role. The content is
// exchanged verbatim.
type SessionDescription struct {
	Type    SDPType `json:"type"`
	Content string  `json:"content"`
}

func (d SessionDescription) Validate() error {
	switch d.Type {
	case SDPTypeOffer, SDPTypeAnswer:
	default:
		return fmt.Errorf("%w: %q", errInvalidSDPType, d.Type)
	}
	if d.Content == "" {
		return errMissingSDP
	}
	return nil
}

// Candidate is an opaque ICE candidate payload. The transport produces and
// consumes it; the negotiation layer only forwards it.
type Candidate json.RawMessage

func (c Candidate) MarshalJSON() ([]byte, error) {
	if len(c) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(c).MarshalJSON()
}

func (c *Candidate) UnmarshalJSON(b []byte) error {
	if c == nil {
		return errors.New("signaling: Candidate: UnmarshalJSON on nil pointer")
	}
	*c = append((*c)[0:0], b...)
	return nil
}

// Envelope is the payload of a signal event: an offer, an answer or an ICE
// candidate.
//
// Wire form: {"sdp":{"type":"offer"|"answer","content":"..."}} or {"ice":<candidate>}.
type Envelope struct {
	SDP *SessionDescription `json:"sdp,omitempty"`
	ICE Candidate           `json:"ice,omitempty"`
}

func OfferEnvelope(content string) Envelope {
	return Envelope{SDP: &SessionDescription{Type: SDPTypeOffer, Content: content}}
}

func AnswerEnvelope(content string) Envelope {
	return Envelope{SDP: &SessionDescription{Type: SDPTypeAnswer, Content: content}}
}

func CandidateEnvelope(c Candidate) Envelope {
	return Envelope{ICE: c}
}

func (e Envelope) IsOffer() bool     { return e.SDP != nil && e.SDP.Type == SDPTypeOffer }
func (e Envelope) IsAnswer() bool    { return e.SDP != nil && e.SDP.Type == SDPTypeAnswer }
func (e Envelope) IsCandidate() bool { return e.SDP == nil && len(e.ICE) > 0 }

func (e Envelope) Validate() error {
	hasICE := len(e.ICE) > 0 && !bytes.Equal(bytes.TrimSpace(e.ICE), []byte("null"))
	if (e.SDP != nil) == hasICE {
		return errEnvelopeAmbiguous
	}
	if e.SDP != nil {
		return e.SDP.Validate()
	}
	return nil
}

// Kind returns a short tag for logging.
func (e Envelope) Kind() string {
	switch {
	case e.IsOffer():
		return "offer"
	case e.IsAnswer():
		return "answer"
	case e.IsCandidate():
		return "candidate"
	default:
		return "invalid"
	}
}

// ParseEnvelope decodes and validates a standalone envelope. Unknown fields
// and trailing data are rejected.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := decodeStrict(data, &env); err != nil {
		return Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}
