package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/app/signaling"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ToggleMute flips the local audio track, whether it is sent over the peer
// connection or only previewed, and returns the new muted state.
func (m *Manager) ToggleMute() bool {
	var muted bool
	if !m.call(func() {
		m.muted = !m.muted
		muted = m.muted
		m.applyEnabled()
		m.auditLog(domain.AuditAudioToggled, map[string]any{"muted": muted})
		m.log.Info().Bool("muted", muted).Msg("audio toggled")
	}) {
		return m.muted
	}
	return muted
}

// ToggleVideo flips the local video track and returns the new disabled state.
func (m *Manager) ToggleVideo() bool {
	var off bool
	if !m.call(func() {
		m.videoOff = !m.videoOff
		off = m.videoOff
		m.applyEnabled()
		m.auditLog(domain.AuditVideoToggled, map[string]any{"disabled": off})
		m.log.Info().Bool("disabled", off).Msg("video toggled")
	}) {
		return m.videoOff
	}
	return off
}

// SwitchCamera re-acquires the local stream with the opposite facing mode
// and replaces the preview and the outgoing tracks. The new stream is
// acquired before the current one is stopped, so on failure the current
// stream is kept and a NonFatalError is emitted.
func (m *Manager) SwitchCamera() error {
	var err error
	if !m.call(func() { err = m.switchCamera() }) {
		return domain.ErrSessionEnded
	}
	return err
}

func (m *Manager) switchCamera() error {
	facing := media.FacingUser
	if m.local != nil {
		facing = m.local.Facing()
	}
	next := facing.Opposite()

	h, err := m.devices.Acquire(m.ctx, media.Constraints{Audio: true, Video: true, Facing: next})
	if err == nil && !h.HasTrack(webrtc.RTPCodecTypeVideo) {
		m.release(h, media.OwnerDevices)
		err = fmt.Errorf("switch camera: %w: no %s camera", domain.ErrDeviceUnavailable, next)
	}
	if err != nil {
		m.nonFatal("switch camera", err)
		return err
	}
	if err := h.Transfer(media.OwnerDevices, media.OwnerSession); err != nil {
		m.release(h, media.OwnerDevices)
		return err
	}

	old := m.local
	m.local = h
	m.replaceLocalInState(h)
	m.applyEnabled()
	m.sendTracks()
	if old != nil {
		m.release(old, media.OwnerSession)
	}
	m.emit(LocalStreamReplaced{Local: h})
	m.auditLog(domain.AuditCameraSwitched, map[string]any{"facing": string(next)})
	m.log.Info().Str("facing", string(next)).Msg("camera switched")
	return nil
}

// StartScreenShare captures the screen and sends it instead of the camera
// video. A second call while sharing is a no-op.
func (m *Manager) StartScreenShare() error {
	var err error
	if !m.call(func() { err = m.startScreenShare() }) {
		return domain.ErrSessionEnded
	}
	return err
}

func (m *Manager) startScreenShare() error {
	if m.screen != nil {
		return nil
	}
	if m.state.Kind() == KindIdle {
		return errors.New("screen share: session not started")
	}
	h, err := m.devices.StartScreenShare(m.ctx)
	if err != nil {
		m.nonFatal("screen share", err)
		return err
	}
	if err := h.Transfer(media.OwnerDevices, media.OwnerSession); err != nil {
		m.release(h, media.OwnerDevices)
		return err
	}
	m.screen = h
	m.sendTracks()
	m.emit(ScreenShareStarted{Handle: h})
	m.auditLog(domain.AuditScreenShareStarted, nil)
	m.log.Info().Str("handle", h.ID()).Msg("screen share started")

	go func() {
		<-h.Done()
		m.post(func() { m.screenStopped(h, false) })
	}()
	return nil
}

// StopScreenShare stops sharing and restores the camera video.
func (m *Manager) StopScreenShare() {
	m.call(func() {
		if m.screen != nil {
			m.screenStopped(m.screen, true)
		}
	})
}

// screenStopped handles both the user stopping the share and the source
// ending on its own. Only the first of the two has an effect.
func (m *Manager) screenStopped(h *media.StreamHandle, byUser bool) {
	if m.screen != h {
		return
	}
	m.screen = nil
	m.release(h, media.OwnerSession)
	m.sendTracks()
	m.applyEnabled()
	by := "source"
	if byUser {
		by = "user"
	}
	m.emit(ScreenShareStopped{ByUser: byUser})
	m.auditLog(domain.AuditScreenShareStopped, map[string]any{"by": by})
	m.log.Info().Str("by", by).Msg("screen share stopped")
}

// SendReaction publishes an ephemeral emoji reaction to the peer.
func (m *Manager) SendReaction(ctx context.Context, emoji string) error {
	if emoji == "" {
		return domain.ErrInvalidMessage
	}
	if m.ending.Load() {
		return domain.ErrSessionEnded
	}
	msg := signaling.Message{
		Type:  signaling.TypeReaction,
		From:  m.id.LocalUserID(),
		Emoji: emoji,
	}
	f, err := msg.Encode()
	if err != nil {
		return err
	}
	return m.sig.Publish(ctx, f)
}
