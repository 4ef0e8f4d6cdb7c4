package session

import (
	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/core"
)

type StateKind int

const (
	KindIdle StateKind = iota
	KindNegotiating
	KindConnected
	KindDegraded
	KindFailed
	KindEnded
)

func (k StateKind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindNegotiating:
		return "negotiating"
	case KindConnected:
		return "connected"
	case KindDegraded:
		return "degraded"
	case KindFailed:
		return "failed"
	case KindEnded:
		return "ended"
	}
	return "unknown"
}

// ConnectionState is a closed set of variants. Switch on the concrete type:
//
//	switch s := st.(type) {
//	case session.Degraded:
//		render(s.Local)
//	...
//	}
type ConnectionState interface {
	Kind() StateKind
	sealed()
}

type Idle struct{}

// Negotiating is an offer/answer exchange in progress. Attempt is 1 for the
// initial negotiation and grows with every renegotiation.
type Negotiating struct {
	Attempt int
}

// Connected carries both the local stream sent to the peer and the
// remote stream received from it.
type Connected struct {
	Local  *media.StreamHandle
	Remote RemoteStream
}

// Degraded is the local-preview fallback. A remote stream arriving later
// still promotes the session to Connected.
type Degraded struct {
	Local *media.StreamHandle
}

// Failed means the retry budget is exhausted. The local stream stays
// usable; only endSession leaves this state.
type Failed struct {
	Local *media.StreamHandle
	Cause error
}

type Ended struct{}

func (Idle) Kind() StateKind        { return KindIdle }
func (Negotiating) Kind() StateKind { return KindNegotiating }
func (Connected) Kind() StateKind   { return KindConnected }
func (Degraded) Kind() StateKind    { return KindDegraded }
func (Failed) Kind() StateKind      { return KindFailed }
func (Ended) Kind() StateKind       { return KindEnded }

func (Idle) sealed()        {}
func (Negotiating) sealed() {}
func (Connected) sealed()   {}
func (Degraded) sealed()    {}
func (Failed) sealed()      {}
func (Ended) sealed()       {}

// RemoteStream is the set of remote tracks of one peer connection.
type RemoteStream struct {
	ID     string
	Tracks []core.RemoteTrack
}

// legal lists every permitted transition. Ended is absorbing and Failed
// only leads to Ended.
var legal = map[StateKind][]StateKind{
	KindIdle:        {KindNegotiating, KindEnded},
	KindNegotiating: {KindConnected, KindDegraded, KindFailed, KindEnded},
	KindDegraded:    {KindConnected, KindFailed, KindEnded},
	KindConnected:   {KindNegotiating, KindFailed, KindEnded},
	KindFailed:      {KindEnded},
	KindEnded:       {},
}

func canTransition(from, to StateKind) bool {
	for _, k := range legal[from] {
		if k == to {
			return true
		}
	}
	return false
}
