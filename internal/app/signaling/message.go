// Package signaling defines the wire format of session topics and an
// in-process SignalingChannel bound to the orchestrator.
package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
	TypeHangup    Type = "hangup"
	TypeReaction  Type = "reaction"
)

// Message is the payload exchanged between the two participants of a session.
type Message struct {
	Type          Type                     `json:"type"`
	NegotiationID string                   `json:"negotiationId,omitempty"`
	From          domain.UserID            `json:"from"`
	Role          domain.Role              `json:"role,omitempty"`
	SDP           string                   `json:"sdp,omitempty"`
	Candidate     *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Emoji         string                   `json:"emoji,omitempty"`
}

func (m Message) Encode() (core.Frame, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode signal: %w", err)
	}
	return b, nil
}

func Decode(f core.Frame) (Message, error) {
	var m Message
	if err := json.Unmarshal(f, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if m.Type == "" || m.From == "" {
		return Message{}, domain.ErrInvalidMessage
	}
	return m, nil
}

// EnvelopeType is the frame type the hub delivers to topic members.
const EnvelopeType = "signal"

// Envelope wraps a payload with the topic it was published on.
type Envelope struct {
	Type    string           `json:"type"`
	Topic   domain.TopicName `json:"topic"`
	Payload json.RawMessage  `json:"payload"`
}

// Wrap builds the frame the hub fans out.
func Wrap(topic domain.TopicName, payload core.Frame) (core.Frame, error) {
	if !json.Valid(payload) {
		return nil, domain.ErrInvalidMessage
	}
	return json.Marshal(Envelope{Type: EnvelopeType, Topic: topic, Payload: json.RawMessage(payload)})
}

// Unwrap extracts the payload from a hub frame.
func Unwrap(f core.Frame) (domain.TopicName, core.Frame, error) {
	var env Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrInvalidMessage, err)
	}
	if env.Type != EnvelopeType {
		return "", nil, fmt.Errorf("%w: unexpected frame type %q", domain.ErrInvalidMessage, env.Type)
	}
	return env.Topic, core.Frame(env.Payload), nil
}
