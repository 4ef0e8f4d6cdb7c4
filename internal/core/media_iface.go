package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the read side of an inbound media track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// LocalTrack is one captured local track (camera, microphone or screen).
type LocalTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	// Local returns the pion track to send over a peer connection.
	// It may be nil for tracks that are preview-only.
	Local() webrtc.TrackLocal
	// OnEnded fires when the source stops on its own, e.g. the user
	// ends a screen share from the OS chrome.
	OnEnded(func(error))
	Close() error
}

// PeerTransport is one real-time peer connection attempt.
// A new transport is created for every negotiation attempt.
type PeerTransport interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources.
	Close()
	IsClosed() bool

	CreateOffer() (*webrtc.SessionDescription, error)
	AcceptOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
	ApplyAnswer(answer webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error

	// SetLocalTracks replaces what the transport sends. Tracks are borrowed:
	// the transport never closes them.
	SetLocalTracks(tracks []LocalTrack) error
	// SetSending pauses or resumes the sender of the given kind.
	SetSending(kind webrtc.RTPCodecType, enabled bool) error

	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track RemoteTrack))
	// OnStateChange reports peer connection state changes.
	OnStateChange(func(webrtc.PeerConnectionState))
}

// PeerTransportFactory builds a fresh transport for a negotiation attempt.
type PeerTransportFactory func() (PeerTransport, error)
