package core

import "github.com/dkeye/Telecare/internal/domain"

// ConnID identifies one signaling connection (a websocket or an in-process subscriber).
type ConnID string

// MemberSession binds domain.Member and its transport endpoint.
// This is what a topic stores and fans out to.
type MemberSession interface {
	Meta() *domain.Member
	Signal() SignalConnection
}
