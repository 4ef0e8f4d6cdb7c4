// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
)

const (
	MaxUserIDLen    = 64
	MaxSessionIDLen = 64
)

var (
	ErrSessionIDEmpty = errors.New("session id empty")
	ErrUserIDEmpty    = errors.New("user id empty")
	ErrIDTooLong      = errors.New("id too long")
)

type (
	SessionID string
	UserID    string
)

// Role is the negotiation role a participant starts with.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// Participant tells which side of the session the local process represents.
type Participant string

const (
	Practitioner Participant = "practitioner"
	Client       Participant = "client"
)

// SessionIdentity is created when a session is entered and never changes
// for the session's duration. It is passed by value.
type SessionIdentity struct {
	SessionID   SessionID   `json:"sessionId"`
	TherapistID UserID      `json:"therapistId"`
	ClientID    UserID      `json:"clientId"`
	Role        Role        `json:"role"`
	Self        Participant `json:"self"`
}

// NewSessionIdentity validates and builds an identity.
func NewSessionIdentity(sid SessionID, therapist, client UserID, role Role, self Participant) (SessionIdentity, error) {
	id := SessionIdentity{SessionID: sid, TherapistID: therapist, ClientID: client, Role: role, Self: self}
	return id, id.Validate()
}

func (s SessionIdentity) Validate() error {
	if s.SessionID == "" {
		return ErrSessionIDEmpty
	}
	if len(s.SessionID) > MaxSessionIDLen {
		return ErrIDTooLong
	}
	if s.TherapistID == "" || s.ClientID == "" {
		return ErrUserIDEmpty
	}
	if len(s.TherapistID) > MaxUserIDLen || len(s.ClientID) > MaxUserIDLen {
		return ErrIDTooLong
	}
	switch s.Role {
	case RoleInitiator, RoleResponder:
	default:
		return fmt.Errorf("unknown role %q", s.Role)
	}
	switch s.Self {
	case Practitioner, Client:
	default:
		return fmt.Errorf("unknown participant %q", s.Self)
	}
	return nil
}

// LocalUserID is the user id of the participant running this process.
func (s SessionIdentity) LocalUserID() UserID {
	if s.Self == Client {
		return s.ClientID
	}
	return s.TherapistID
}

// RemoteUserID is the user id of the other participant.
func (s SessionIdentity) RemoteUserID() UserID {
	if s.Self == Client {
		return s.TherapistID
	}
	return s.ClientID
}

// Topic is the realtime pub/sub topic name of the session.
func (s SessionIdentity) Topic() TopicName {
	return SessionTopic(s.SessionID)
}
