package stream

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

type SinkState int32

const (
	SinkOk SinkState = iota
	SinkMuted
	SinkDelete
)

func (s SinkState) String() string {
	switch s {
	case SinkOk:
		return "ok"
	case SinkMuted:
		return "muted"
	case SinkDelete:
		return "delete"
	}
	return "unknown"
}

// Sink consumes remote RTP packets: a renderer, a recorder, or a
// *webrtc.TrackLocalStaticRTP forwarding them elsewhere.
type Sink interface {
	WriteRTP(*rtp.Packet) error
}

// Output is a single sink attached to a relay.
type Output struct {
	Sink  Sink
	state atomic.Int32 // Zero by default (SinkOk)
}

func NewOutput(sink Sink) *Output {
	return &Output{Sink: sink}
}

func (o *Output) State() SinkState {
	return SinkState(o.state.Load())
}

func (o *Output) MarkOk() {
	o.state.Store(int32(SinkOk))
}

func (o *Output) MarkMuted() {
	o.state.Store(int32(SinkMuted))
}

func (o *Output) MarkDelete() {
	o.state.Store(int32(SinkDelete))
}
