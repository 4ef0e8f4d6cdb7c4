package session

import (
	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/domain"
)

// Event is emitted by the manager on every subscriber channel.
type Event interface {
	event()
}

type StateChanged struct {
	From ConnectionState
	To   ConnectionState
}

// RemoteStreamArrived fires when the first remote frame of a peer
// connection has been received.
type RemoteStreamArrived struct {
	Stream RemoteStream
}

// LocalStreamReplaced fires when the local preview changes, e.g. after a
// camera switch or when the fallback stream is acquired.
type LocalStreamReplaced struct {
	Local *media.StreamHandle
}

type ReactionReceived struct {
	From  domain.UserID
	Emoji string
}

type ScreenShareStarted struct {
	Handle *media.StreamHandle
}

// ScreenShareStopped fires once per share, whether the user stopped it
// or the source ended from the OS side.
type ScreenShareStopped struct {
	ByUser bool
}

// NonFatalError reports a recovered failure. The session keeps running.
type NonFatalError struct {
	Op  string
	Err error
}

func (StateChanged) event()        {}
func (RemoteStreamArrived) event() {}
func (LocalStreamReplaced) event() {}
func (ReactionReceived) event()    {}
func (ScreenShareStarted) event()  {}
func (ScreenShareStopped) event()  {}
func (NonFatalError) event()       {}
