// Package rtc implements core.PeerTransport on top of pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("peer connection closed")

// Configuration builds the peer connection config from STUN/TURN urls.
func Configuration(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// NewAPI builds a pion API with the default interceptors. populate registers
// the codecs; when nil the pion defaults are used.
func NewAPI(populate func(*webrtc.MediaEngine)) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if populate != nil {
		populate(me)
	} else if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	// Short outages on relay paths should not end the call immediately.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// NewFactory returns a factory producing one Connection per negotiation attempt.
func NewFactory(api *webrtc.API, cfg webrtc.Configuration, sid domain.SessionID) core.PeerTransportFactory {
	return func() (core.PeerTransport, error) {
		return NewConnection(api, cfg, sid)
	}
}

// Connection is one pion PeerConnection with a fixed sendrecv audio and
// video transceiver. Local tracks are swapped in with ReplaceTrack so
// muting and screen share never need renegotiation.
type Connection struct {
	pc     *webrtc.PeerConnection
	sid    domain.SessionID
	log    zerolog.Logger
	cancel context.CancelFunc
	closed atomic.Bool

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(ctx context.Context, track core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)

	mu          sync.Mutex
	senders     map[webrtc.RTPCodecType]*webrtc.RTPSender
	placeholder map[webrtc.RTPCodecType]webrtc.TrackLocal
	tracks      map[webrtc.RTPCodecType]webrtc.TrackLocal
	sending     map[webrtc.RTPCodecType]*atomic.Bool
	pending     []webrtc.ICECandidateInit
}

func NewConnection(api *webrtc.API, cfg webrtc.Configuration, sid domain.SessionID) (*Connection, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Connection{
		pc:      pc,
		sid:     sid,
		log:     log.With().Str("module", "adapters.rtc").Str("sid", string(sid)).Logger(),
		senders:     make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
		placeholder: make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		tracks:      make(map[webrtc.RTPCodecType]webrtc.TrackLocal),
		sending:     make(map[webrtc.RTPCodecType]*atomic.Bool),
	}, nil
}

func (c *Connection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		tr, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		})
		if err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
		sender := tr.Sender()
		on := &atomic.Bool{}
		on.Store(true)
		c.mu.Lock()
		c.senders[kind] = sender
		// Pion binds a silent track to the transceiver; it stands in while
		// no local track of this kind exists, so the sender always starts.
		c.placeholder[kind] = sender.Track()
		c.sending[kind] = on
		c.mu.Unlock()
		go drainRTCP(sender)
	}

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateClosed {
			cancel()
		}
		if c.onState != nil {
			c.onState(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(ctx, track)
		}
	})

	go func() {
		<-ctx.Done()
		c.Close()
	}()
	return nil
}

// drainRTCP keeps the interceptors fed; it returns when the sender stops.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) CreateOffer() (*webrtc.SessionDescription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) AcceptOffer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}
	c.flushCandidates()
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}
	return c.pc.LocalDescription(), nil
}

func (c *Connection) ApplyAnswer(answer webrtc.SessionDescription) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	c.flushCandidates()
	return nil
}

// AddICECandidate buffers candidates that arrive before the remote description.
func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) flushCandidates() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			c.log.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
}

// Pending reports how many remote candidates wait for a remote description.
func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// SetLocalTracks puts at most one track per kind on the wire. Kinds absent
// from tracks fall back to a silent placeholder.
func (c *Connection) SetLocalTracks(tracks []core.LocalTrack) error {
	if c.closed.Load() {
		return ErrClosed
	}
	next := make(map[webrtc.RTPCodecType]webrtc.TrackLocal)
	for _, t := range tracks {
		if l := t.Local(); l != nil {
			if _, dup := next[t.Kind()]; !dup {
				next[t.Kind()] = l
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for kind, sender := range c.senders {
		want := next[kind]
		if want == c.tracks[kind] && want != nil {
			continue
		}
		var track webrtc.TrackLocal = c.placeholder[kind]
		if want != nil {
			track = &gatedTrack{TrackLocal: want, on: c.sending[kind]}
		}
		if track == nil {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			errs = append(errs, fmt.Errorf("replace %s track: %w", kind, err))
			continue
		}
		c.tracks[kind] = want
	}
	return errors.Join(errs...)
}

// SetSending pauses or resumes outgoing packets of kind without
// renegotiating; the track stays bound to its sender.
func (c *Connection) SetSending(kind webrtc.RTPCodecType, enabled bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	on, ok := c.sending[kind]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no %s sender", kind)
	}
	on.Store(enabled)
	return nil
}

// Sending reports whether packets of kind currently go out.
func (c *Connection) Sending(kind webrtc.RTPCodecType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	on, ok := c.sending[kind]
	return ok && on.Load()
}

func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
	} else {
		c.log.Info().Msg("closed")
	}
}

func (c *Connection) IsClosed() bool { return c.closed.Load() }

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnTrack sets application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(ctx context.Context, track core.RemoteTrack)) { c.onTrack = fn }

func (c *Connection) OnStateChange(fn func(webrtc.PeerConnectionState)) { c.onState = fn }
