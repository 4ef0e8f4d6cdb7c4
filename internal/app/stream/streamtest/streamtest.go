// Package streamtest provides an in-memory remote track.
package streamtest

import (
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Track is a RemoteTrack fed by Push. ReadRTP returns io.EOF after Close.
type Track struct {
	id     string
	stream string
	kind   webrtc.RTPCodecType

	packets chan *rtp.Packet
	once    sync.Once
	closed  chan struct{}
}

func NewTrack(kind webrtc.RTPCodecType) *Track {
	return &Track{
		id:      uuid.NewString(),
		stream:  uuid.NewString(),
		kind:    kind,
		packets: make(chan *rtp.Packet, 64),
		closed:  make(chan struct{}),
	}
}

func (t *Track) ID() string                { return t.id }
func (t *Track) StreamID() string          { return t.stream }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }

func (t *Track) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case p := <-t.packets:
		return p, nil, nil
	case <-t.closed:
		return nil, nil, io.EOF
	}
}

// Push queues a packet with the given sequence number.
func (t *Track) Push(seq uint16) {
	t.packets <- &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq}, Payload: []byte{0x1}}
}

func (t *Track) Close() {
	t.once.Do(func() { close(t.closed) })
}
