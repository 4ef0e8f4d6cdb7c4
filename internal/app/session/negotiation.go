package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/app/signaling"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

func (m *Manager) readSignals(ch <-chan core.Frame) {
	local := m.id.LocalUserID()
	remote := m.id.RemoteUserID()
	for f := range ch {
		msg, err := signaling.Decode(f)
		if err != nil {
			m.log.Warn().Err(err).Msg("dropping malformed signal")
			continue
		}
		if msg.From == local && local != remote {
			continue
		}
		if msg.From != remote {
			m.log.Warn().Str("from", string(msg.From)).Msg("signal from outside the session")
			continue
		}
		m.post(func() { m.onSignal(msg) })
	}
}

func (m *Manager) onSignal(msg signaling.Message) {
	if m.stopped {
		return
	}
	if msg.Type == signaling.TypeReaction {
		if msg.Emoji != "" {
			m.emit(ReactionReceived{From: msg.From, Emoji: msg.Emoji})
		}
		return
	}
	if m.state.Kind() == KindFailed || m.state.Kind() == KindIdle {
		m.log.Debug().Str("type", string(msg.Type)).Str("state", m.state.Kind().String()).Msg("signal ignored")
		return
	}

	switch msg.Type {
	case signaling.TypeOffer:
		m.onOffer(msg)
	case signaling.TypeAnswer:
		m.onAnswer(msg)
	case signaling.TypeCandidate:
		m.onCandidate(msg)
	case signaling.TypeHangup:
		m.onHangup(msg)
	default:
		m.log.Warn().Str("type", string(msg.Type)).Msg("unknown signal type")
	}
}

// shouldYield resolves two initiators: the side whose user id sorts first
// becomes the responder. With equal ids the practitioner keeps the offer.
func (m *Manager) shouldYield() bool {
	local, remote := m.id.LocalUserID(), m.id.RemoteUserID()
	if local == remote {
		return m.id.Self != domain.Practitioner
	}
	return local < remote
}

func (m *Manager) onOffer(msg signaling.Message) {
	if msg.NegotiationID == "" || msg.SDP == "" {
		m.log.Warn().Msg("offer without negotiation id or sdp")
		return
	}
	if m.role == domain.RoleInitiator {
		if !m.shouldYield() {
			// The peer yields once it sees our offer.
			m.log.Info().Str("negotiation", msg.NegotiationID).Msg("competing offer ignored, keeping initiator role")
			if m.lastOffer != nil && !m.completed {
				m.publishOffer()
			}
			return
		}
		m.log.Info().Str("negotiation", msg.NegotiationID).Msg("competing offer, yielding to responder role")
		m.role = domain.RoleResponder
		m.stopTimer(&m.resendTimer)
		m.lastOffer = nil
		m.negotiationID = ""
		if err := m.resetTransport(); err != nil {
			m.nonFatal("reset transport", err)
			return
		}
	}

	if msg.NegotiationID == m.negotiationID {
		if m.lastAnswer != nil {
			m.publish(m.ctx, signaling.Message{Type: signaling.TypeAnswer, NegotiationID: m.negotiationID, SDP: m.lastAnswer.SDP})
		}
		return
	}

	if _, ok := m.state.(Connected); ok {
		// The peer restarted negotiation before we saw the drop.
		m.attempt++
		m.transition(Negotiating{Attempt: m.attempt})
		m.armNegotiationTimer()
	}
	if m.negotiationID != "" || m.transport == nil || m.transport.IsClosed() {
		if err := m.resetTransport(); err != nil {
			m.nonFatal("reset transport", err)
			return
		}
	}

	m.negotiationID = msg.NegotiationID
	answer, err := m.transport.AcceptOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP})
	if err != nil {
		m.nonFatal("accept offer", err)
		m.negotiationID = ""
		return
	}
	m.lastAnswer = answer
	m.completed = true
	// The peer renegotiated first; a pending retry would tear this down.
	m.stopTimer(&m.retryTimer)
	m.publish(m.ctx, signaling.Message{Type: signaling.TypeAnswer, NegotiationID: m.negotiationID, SDP: answer.SDP})

	early := m.early
	m.early = nil
	for _, c := range early {
		if c.NegotiationID == m.negotiationID {
			m.addCandidate(c)
		}
	}
	m.maybeConnected()
}

func (m *Manager) onAnswer(msg signaling.Message) {
	if m.role != domain.RoleInitiator || m.transport == nil {
		return
	}
	if msg.NegotiationID != m.negotiationID || m.completed {
		m.log.Debug().Str("negotiation", msg.NegotiationID).Msg("stale answer ignored")
		return
	}
	if err := m.transport.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
		m.nonFatal("apply answer", err)
		return
	}
	m.completed = true
	m.stopTimer(&m.resendTimer)
	m.log.Info().Str("negotiation", m.negotiationID).Msg("answer applied")
	m.maybeConnected()
}

func (m *Manager) onCandidate(msg signaling.Message) {
	if msg.Candidate == nil {
		return
	}
	if msg.NegotiationID == m.negotiationID && m.transport != nil {
		m.addCandidate(msg)
		return
	}
	if m.role == domain.RoleResponder && len(m.early) < earlyCandidate {
		m.early = append(m.early, msg)
	}
}

func (m *Manager) addCandidate(msg signaling.Message) {
	if err := m.transport.AddICECandidate(*msg.Candidate); err != nil {
		m.log.Debug().Err(err).Msg("add remote candidate")
	}
}

func (m *Manager) onHangup(msg signaling.Message) {
	m.log.Info().Str("negotiation", msg.NegotiationID).Msg("remote hangup")
	if _, ok := m.state.(Connected); ok {
		m.onDrop(fmt.Errorf("%w: remote hung up", domain.ErrConnectionDropped))
	}
}

// startAttempt builds a fresh transport and arms the negotiation timeout.
// An initiator publishes a new offer.
func (m *Manager) startAttempt() {
	m.negotiationID = ""
	m.armNegotiationTimer()
	if err := m.resetTransport(); err != nil {
		m.nonFatal("create transport", err)
		return
	}
	if m.role == domain.RoleInitiator {
		m.sendNewOffer()
	}
}

func (m *Manager) armNegotiationTimer() {
	m.after(&m.negTimer, m.cfg.NegotiationTimeout, m.onNegotiationTimeout)
}

func (m *Manager) resetTransport() error {
	m.closeTransport()
	m.gen++
	gen := m.gen

	t, err := m.newTransport()
	if err != nil {
		return err
	}
	t.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.post(func() {
			if gen != m.gen || m.negotiationID == "" {
				return
			}
			cand := c
			m.publish(m.ctx, signaling.Message{Type: signaling.TypeCandidate, NegotiationID: m.negotiationID, Candidate: &cand})
		})
	})
	t.OnTrack(func(ctx context.Context, track core.RemoteTrack) {
		m.post(func() { m.onTrack(gen, ctx, track) })
	})
	t.OnStateChange(func(s webrtc.PeerConnectionState) {
		m.post(func() { m.onTransportState(gen, s) })
	})
	if err := t.Start(m.ctx); err != nil {
		t.Close()
		return err
	}
	m.transport = t
	m.sendTracks()
	m.applyEnabled()
	return nil
}

func (m *Manager) closeTransport() {
	m.streams.StopAll()
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.gen++
	m.completed = false
	m.transportUp = false
	m.firstFrame = false
	m.remoteTracks = nil
	m.lastOffer = nil
	m.lastAnswer = nil
}

func (m *Manager) sendNewOffer() {
	if m.transport == nil {
		return
	}
	offer, err := m.transport.CreateOffer()
	if err != nil {
		m.nonFatal("create offer", err)
		return
	}
	m.negotiationID = uuid.NewString()
	m.lastOffer = offer
	m.publishOffer()
	m.after(&m.resendTimer, m.cfg.OfferResendInterval, m.onResend)
}

func (m *Manager) publishOffer() {
	m.publish(m.ctx, signaling.Message{Type: signaling.TypeOffer, NegotiationID: m.negotiationID, SDP: m.lastOffer.SDP})
}

// onResend republishes the outstanding offer. Signaling keeps no history,
// so a responder that joins late still receives one.
func (m *Manager) onResend() {
	if m.role != domain.RoleInitiator || m.completed {
		return
	}
	switch m.state.(type) {
	case Negotiating, Degraded:
	default:
		return
	}
	if m.transport == nil || m.transport.IsClosed() {
		if err := m.resetTransport(); err != nil {
			m.nonFatal("create transport", err)
			m.after(&m.resendTimer, m.cfg.OfferResendInterval, m.onResend)
			return
		}
		m.sendNewOffer()
		return
	}
	if m.lastOffer == nil {
		m.sendNewOffer()
		return
	}
	m.log.Debug().Str("negotiation", m.negotiationID).Msg("resending offer")
	m.publishOffer()
	m.after(&m.resendTimer, m.cfg.OfferResendInterval, m.onResend)
}

func (m *Manager) onTrack(gen int, ctx context.Context, track core.RemoteTrack) {
	if gen != m.gen || m.stopped {
		return
	}
	m.log.Info().Str("track", track.ID()).Str("kind", track.Kind().String()).Msg("remote track")
	m.remoteTracks = append(m.remoteTracks, track)
	m.streams.StartRelay(ctx, track, func() {
		m.post(func() { m.onFirstFrame(gen) })
	})
}

func (m *Manager) onFirstFrame(gen int) {
	if gen != m.gen || m.firstFrame {
		return
	}
	m.firstFrame = true
	m.emit(RemoteStreamArrived{Stream: m.remoteStream()})
	m.maybeConnected()
}

func (m *Manager) remoteStream() RemoteStream {
	rs := RemoteStream{Tracks: append([]core.RemoteTrack(nil), m.remoteTracks...)}
	if len(rs.Tracks) > 0 {
		rs.ID = rs.Tracks[0].StreamID()
	}
	return rs
}

func (m *Manager) onTransportState(gen int, s webrtc.PeerConnectionState) {
	if gen != m.gen {
		return
	}
	m.log.Debug().Str("transport", s.String()).Msg("transport state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		m.transportUp = true
		m.maybeConnected()
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
		m.transportUp = false
		switch st := m.state.(type) {
		case Connected:
			m.onDrop(fmt.Errorf("%w: transport %s", domain.ErrConnectionDropped, s))
		case Negotiating:
			if st.Attempt > 1 && s == webrtc.PeerConnectionStateFailed {
				m.stopTimer(&m.negTimer)
				m.scheduleRetry(fmt.Errorf("%w: transport failed during renegotiation", domain.ErrConnectionDropped))
			}
		case Degraded:
			if s == webrtc.PeerConnectionStateFailed {
				// The resend timer rebuilds the transport for an initiator;
				// a responder rebuilds on the next offer.
				m.closeTransport()
				if m.role == domain.RoleInitiator {
					m.after(&m.resendTimer, m.cfg.OfferResendInterval, m.onResend)
				}
			}
		}
	}
}

// maybeConnected promotes to Connected once the exchange completed, the
// transport is up and a remote frame has arrived.
func (m *Manager) maybeConnected() {
	if !m.completed || !m.transportUp || !m.firstFrame {
		return
	}
	switch m.state.(type) {
	case Negotiating, Degraded:
	default:
		return
	}
	m.stopTimer(&m.negTimer)
	m.stopTimer(&m.resendTimer)
	m.stopTimer(&m.retryTimer)
	if m.transition(Connected{Local: m.local, Remote: m.remoteStream()}) {
		m.retries = 0
	}
}

func (m *Manager) onNegotiationTimeout() {
	st, ok := m.state.(Negotiating)
	if !ok {
		return
	}
	if st.Attempt > 1 {
		m.scheduleRetry(fmt.Errorf("%w: renegotiation attempt %d", domain.ErrNegotiationTimeout, st.Attempt))
		return
	}
	m.log.Warn().Dur("timeout", m.cfg.NegotiationTimeout).Msg("negotiation timed out, falling back to local preview")
	m.nonFatal("negotiate", domain.ErrNegotiationTimeout)
	_ = m.acquireLocal(media.FacingUser)
	m.transition(Degraded{Local: m.local})
}

func (m *Manager) onDrop(cause error) {
	m.log.Warn().Err(cause).Msg("connection dropped")
	m.scheduleRetry(cause)
}

// scheduleRetry moves to Negotiating and starts a new attempt after
// backoff, or fails once the retry budget is spent.
func (m *Manager) scheduleRetry(cause error) {
	m.stopTimer(&m.resendTimer)
	m.closeTransport()
	if m.retries >= m.cfg.RetryBudget {
		m.fail(cause)
		return
	}
	m.retries++
	m.attempt++
	if _, ok := m.state.(Negotiating); ok {
		m.setState(Negotiating{Attempt: m.attempt})
	} else {
		m.transition(Negotiating{Attempt: m.attempt})
	}
	backoff := m.backoff(m.retries)
	m.log.Info().Int("retry", m.retries).Int("budget", m.cfg.RetryBudget).Dur("backoff", backoff).Msg("renegotiating")
	m.after(&m.retryTimer, backoff, m.startAttempt)
}

func (m *Manager) backoff(retry int) time.Duration {
	d := m.cfg.RetryBackoff
	for i := 1; i < retry && d < m.cfg.RetryBackoffMax; i++ {
		d *= 2
	}
	return min(d, m.cfg.RetryBackoffMax)
}

func (m *Manager) fail(cause error) {
	m.stopTimers()
	m.closeTransport()
	if err := m.acquireLocal(media.FacingUser); err != nil {
		m.log.Warn().Err(err).Msg("failed without a fallback stream")
	}
	m.log.Error().Err(cause).Int("retries", m.retries).Msg("retry budget exhausted")
	m.transition(Failed{Local: m.local, Cause: cause})
}

func (m *Manager) stopTimer(slot **time.Timer) {
	if *slot != nil {
		(*slot).Stop()
		*slot = nil
	}
}

func (m *Manager) publish(ctx context.Context, msg signaling.Message) {
	msg.From = m.id.LocalUserID()
	msg.Role = m.role
	f, err := msg.Encode()
	if err != nil {
		m.log.Error().Err(err).Msg("encode signal")
		return
	}
	if err := m.sig.Publish(ctx, f); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		m.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("publish signal failed")
	}
}
