// Package session owns the lifecycle of one live call: negotiation over the
// session's signaling topic, the local-preview fallback, bounded
// renegotiation after drops, and teardown.
//
// All transitions run on a single goroutine. Public methods, transport
// callbacks, signaling frames and timers are all posted to that loop, so
// no two transitions are ever in flight at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/app/signaling"
	"github.com/dkeye/Telecare/internal/app/stream"
	"github.com/dkeye/Telecare/internal/config"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	inboxSize      = 128
	eventBuffer    = 256
	earlyCandidate = 128
	hangupTimeout  = 2 * time.Second
)

// Auditor receives compliance events. It must not block.
type Auditor interface {
	Log(sid domain.SessionID, uid domain.UserID, typ domain.AuditType, metadata map[string]any)
}

type Deps struct {
	Identity     domain.SessionIdentity
	Signaling    core.SignalingChannel
	Devices      *media.Controller
	NewTransport core.PeerTransportFactory
	Audit        Auditor
	Config       config.Session
}

// Manager is the SessionConnectionManager of one session identity.
type Manager struct {
	id           domain.SessionIdentity
	sig          core.SignalingChannel
	devices      *media.Controller
	newTransport core.PeerTransportFactory
	audit        Auditor
	cfg          config.Session
	log          zerolog.Logger
	streams      *stream.Manager

	ctx    context.Context
	cancel context.CancelFunc

	inbox   chan func()
	quit    chan struct{}
	started atomic.Bool
	ending  atomic.Bool

	subMu      sync.Mutex
	subs       map[chan Event]struct{}
	subsClosed bool

	snapMu   sync.RWMutex
	snapshot ConnectionState

	// Everything below is owned by the loop goroutine.
	state    ConnectionState
	stopped  bool
	role     domain.Role
	attempt  int
	retries  int
	muted    bool
	videoOff bool
	unsub    func()

	local  *media.StreamHandle
	screen *media.StreamHandle

	transport     core.PeerTransport
	gen           int
	negotiationID string
	lastOffer     *webrtc.SessionDescription
	lastAnswer    *webrtc.SessionDescription
	completed     bool
	transportUp   bool
	firstFrame    bool
	remoteTracks  []core.RemoteTrack
	early         []signaling.Message

	negTimer    *time.Timer
	resendTimer *time.Timer
	retryTimer  *time.Timer
}

// New builds a manager in the Idle state. Call Subscribe before Start to
// observe every transition. Cancelling ctx ends the session.
func New(ctx context.Context, d Deps) (*Manager, error) {
	if err := d.Identity.Validate(); err != nil {
		return nil, fmt.Errorf("session identity: %w", err)
	}
	if d.Signaling == nil || d.Devices == nil || d.NewTransport == nil {
		return nil, errors.New("session: signaling, devices and transport factory are required")
	}
	if d.Config.NegotiationTimeout <= 0 || d.Config.RetryBackoff <= 0 || d.Config.OfferResendInterval <= 0 {
		return nil, errors.New("session: timeouts must be positive")
	}
	if d.Config.RetryBackoffMax < d.Config.RetryBackoff {
		d.Config.RetryBackoffMax = d.Config.RetryBackoff
	}

	mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m := &Manager{
		id:           d.Identity,
		sig:          d.Signaling,
		devices:      d.Devices,
		newTransport: d.NewTransport,
		audit:        d.Audit,
		cfg:          d.Config,
		log: log.With().
			Str("module", "app.session").
			Str("session", string(d.Identity.SessionID)).
			Str("user", string(d.Identity.LocalUserID())).
			Logger(),
		streams:  stream.NewManager(),
		ctx:      mctx,
		cancel:   cancel,
		inbox:    make(chan func(), inboxSize),
		quit:     make(chan struct{}),
		subs:     make(map[chan Event]struct{}),
		snapshot: Idle{},
		state:    Idle{},
		role:     d.Identity.Role,
	}
	go m.run()
	go func() {
		select {
		case <-ctx.Done():
			m.EndSession()
		case <-m.quit:
		}
	}()
	return m, nil
}

func (m *Manager) run() {
	for fn := range m.inbox {
		fn()
		if m.stopped {
			close(m.quit)
			return
		}
	}
}

// post queues fn on the loop. It is dropped once the loop has exited.
func (m *Manager) post(fn func()) {
	select {
	case m.inbox <- fn:
	case <-m.quit:
	}
}

// call runs fn on the loop and waits for it. It reports false when the
// session ended before fn could run.
func (m *Manager) call(fn func()) bool {
	done := make(chan struct{})
	select {
	case m.inbox <- func() { fn(); close(done) }:
	case <-m.quit:
		return false
	}
	select {
	case <-done:
		return true
	case <-m.quit:
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
}

// Start moves Idle to Negotiating. An initiator publishes its offer right
// away; a responder waits for one.
func (m *Manager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("session: already started")
	}
	if !m.call(m.begin) {
		return domain.ErrSessionEnded
	}
	return nil
}

// Subscribe returns a channel of events and an idempotent cancel.
// The channel is closed when the session ends.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBuffer)
	m.subMu.Lock()
	if m.subsClosed {
		m.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subs[ch] = struct{}{}
	m.subMu.Unlock()

	cancel := func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.snapMu.RLock()
	defer m.snapMu.RUnlock()
	return m.snapshot
}

// Done is closed once the session has ended.
func (m *Manager) Done() <-chan struct{} { return m.quit }

// AttachSink delivers the RTP packets of a remote track to sink.
func (m *Manager) AttachSink(trackID, sinkID string, sink stream.Sink) bool {
	return m.streams.AddSink(trackID, sinkID, sink)
}

// EndSession tears the session down: it stops all owned media, cancels
// timers, tells the peer, unsubscribes from signaling and records exactly
// one session_ended audit event. Later calls are no-ops.
func (m *Manager) EndSession() {
	if !m.ending.CompareAndSwap(false, true) {
		<-m.quit
		return
	}
	// Unblocks device acquisition and publishes in flight on the loop.
	m.cancel()
	m.post(m.end)
	<-m.quit
}

func (m *Manager) begin() {
	if m.stopped || m.state.Kind() != KindIdle {
		return
	}
	ch, unsub := m.sig.Subscribe()
	m.unsub = unsub
	go m.readSignals(ch)

	m.auditLog(domain.AuditSessionStarted, map[string]any{"role": string(m.role)})

	if err := m.acquireLocal(media.FacingUser); err != nil {
		m.log.Warn().Err(err).Msg("starting without local media")
	}
	m.attempt = 1
	m.transition(Negotiating{Attempt: m.attempt})
	m.startAttempt()
}

func (m *Manager) end() {
	if m.stopped {
		return
	}
	prev := m.state
	m.stopTimers()
	m.closeTransport()

	if m.screen != nil {
		m.release(m.screen, media.OwnerSession)
		m.screen = nil
	}
	if m.local != nil {
		m.release(m.local, media.OwnerSession)
		m.local = nil
	}

	if m.state.Kind() != KindIdle {
		ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
		m.publish(ctx, signaling.Message{Type: signaling.TypeHangup, NegotiationID: m.negotiationID})
		cancel()
	}
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}

	m.transition(Ended{})
	m.auditLog(domain.AuditSessionEnded, map[string]any{"from": prev.Kind().String()})
	m.log.Info().Str("from", prev.Kind().String()).Msg("session ended")

	m.stopped = true
	m.subMu.Lock()
	for ch := range m.subs {
		close(ch)
	}
	m.subs = map[chan Event]struct{}{}
	m.subsClosed = true
	m.subMu.Unlock()
}

// transition applies next if the move is legal and emits StateChanged.
func (m *Manager) transition(next ConnectionState) bool {
	from := m.state
	if !canTransition(from.Kind(), next.Kind()) {
		m.log.Debug().Str("from", from.Kind().String()).Str("to", next.Kind().String()).Msg("transition refused")
		return false
	}
	m.setState(next)
	m.log.Info().Str("from", from.Kind().String()).Str("to", next.Kind().String()).Msg("connection state changed")
	m.emit(StateChanged{From: from, To: next})
	meta := map[string]any{"from": from.Kind().String(), "to": next.Kind().String()}
	if f, ok := next.(Failed); ok && f.Cause != nil {
		meta["cause"] = f.Cause.Error()
	}
	m.auditLog(domain.AuditStateChanged, meta)
	return true
}

func (m *Manager) setState(s ConnectionState) {
	m.state = s
	m.snapMu.Lock()
	m.snapshot = s
	m.snapMu.Unlock()
}

// replaceLocalInState swaps the local handle carried by the current state
// without a transition.
func (m *Manager) replaceLocalInState(h *media.StreamHandle) {
	switch s := m.state.(type) {
	case Connected:
		s.Local = h
		m.setState(s)
	case Degraded:
		s.Local = h
		m.setState(s)
	case Failed:
		s.Local = h
		m.setState(s)
	}
}

func (m *Manager) emit(ev Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
			m.log.Warn().Msgf("event subscriber full, dropping %T", ev)
		}
	}
}

func (m *Manager) nonFatal(op string, err error) {
	if m.ending.Load() && errors.Is(err, context.Canceled) {
		return
	}
	m.log.Warn().Err(err).Str("op", op).Msg("recovered error")
	m.emit(NonFatalError{Op: op, Err: err})
}

func (m *Manager) auditLog(typ domain.AuditType, meta map[string]any) {
	if m.audit == nil {
		return
	}
	m.audit.Log(m.id.SessionID, m.id.LocalUserID(), typ, meta)
}

// acquireLocal gets a camera stream when none is held and takes ownership of it.
func (m *Manager) acquireLocal(facing media.FacingMode) error {
	if m.local != nil && !m.local.Released() {
		return nil
	}
	h, err := m.devices.Acquire(m.ctx, media.Constraints{Audio: true, Video: true, Facing: facing})
	if err != nil {
		m.nonFatal("acquire local media", err)
		return err
	}
	if err := h.Transfer(media.OwnerDevices, media.OwnerSession); err != nil {
		m.release(h, media.OwnerDevices)
		return err
	}
	m.local = h
	m.applyEnabled()
	m.sendTracks()
	m.emit(LocalStreamReplaced{Local: h})
	return nil
}

// release stops h as by. The session only releases handles it owns, so a
// refusal means the ownership bookkeeping is wrong.
func (m *Manager) release(h *media.StreamHandle, by media.Owner) {
	if err := m.devices.Release(h, by); err != nil {
		m.log.Error().Err(err).Str("handle", h.ID()).Msg("release local media")
	}
}

// sendTracks hands the current outgoing tracks to the transport. A screen
// share replaces the camera video while it lasts.
func (m *Manager) sendTracks() {
	if m.transport == nil {
		return
	}
	var tracks []core.LocalTrack
	if m.local != nil {
		for _, t := range m.local.Tracks() {
			if m.screen != nil && t.Kind() == webrtc.RTPCodecTypeVideo {
				continue
			}
			tracks = append(tracks, t)
		}
	}
	if m.screen != nil {
		tracks = append(tracks, m.screen.Tracks()...)
	}
	if err := m.transport.SetLocalTracks(tracks); err != nil {
		m.nonFatal("set local tracks", err)
	}
}

// applyEnabled pushes the mute flags to the local handle and the senders.
func (m *Manager) applyEnabled() {
	if m.local != nil {
		m.local.SetEnabled(webrtc.RTPCodecTypeAudio, !m.muted)
		m.local.SetEnabled(webrtc.RTPCodecTypeVideo, !m.videoOff)
	}
	if m.transport == nil {
		return
	}
	if err := m.transport.SetSending(webrtc.RTPCodecTypeAudio, !m.muted); err != nil {
		m.log.Debug().Err(err).Msg("set audio sending")
	}
	if m.screen == nil {
		if err := m.transport.SetSending(webrtc.RTPCodecTypeVideo, !m.videoOff); err != nil {
			m.log.Debug().Err(err).Msg("set video sending")
		}
	}
}

func (m *Manager) stopTimers() {
	for _, t := range []**time.Timer{&m.negTimer, &m.resendTimer, &m.retryTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

// after runs fn on the loop once d has elapsed, unless the timer stored in
// slot has been replaced or stopped meanwhile.
func (m *Manager) after(slot **time.Timer, d time.Duration, fn func()) {
	if *slot != nil {
		(*slot).Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.post(func() {
			if *slot != t {
				return
			}
			*slot = nil
			fn()
		})
	})
	*slot = t
}
