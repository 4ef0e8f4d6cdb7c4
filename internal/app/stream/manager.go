package stream

import (
	"context"
	"sync"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/rs/zerolog/log"
)

// Manager keeps one relay per remote track of a peer connection.
type Manager struct {
	mu     sync.RWMutex
	relays map[string]*Relay
}

func NewManager() *Manager {
	return &Manager{
		relays: make(map[string]*Relay),
	}
}

// StartRelay creates a relay for track and starts its loop. onFirst runs
// once, from the relay goroutine, when the first packet is read.
func (m *Manager) StartRelay(ctx context.Context, track core.RemoteTrack, onFirst func()) *Relay {
	logger := log.With().
		Str("module", "app.stream").
		Str("track", track.ID()).
		Str("kind", track.Kind().String()).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(track, cancel)

	m.mu.Lock()
	if old, ok := m.relays[track.ID()]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[track.ID()] = relay
	m.mu.Unlock()

	logger.Info().Str("stream", track.StreamID()).Msg("starting relay loop")

	go relay.loop(relayCtx, onFirst, &logger)
	return relay
}

// AddSink attaches sink to the relay of trackID. It reports false when the
// track has no relay.
func (m *Manager) AddSink(trackID, sinkID string, sink Sink) bool {
	relay, ok := m.relay(trackID)
	if !ok {
		return false
	}
	relay.AddOutput(sinkID, NewOutput(sink))
	return true
}

// SetSinkMuted pauses or resumes delivery to one sink.
func (m *Manager) SetSinkMuted(trackID, sinkID string, muted bool) bool {
	o, ok := m.output(trackID, sinkID)
	if !ok || o.State() == SinkDelete {
		return false
	}
	if muted {
		o.MarkMuted()
	} else {
		o.MarkOk()
	}
	return true
}

// RemoveSink marks a sink for removal on the next packet.
func (m *Manager) RemoveSink(trackID, sinkID string) {
	if o, ok := m.output(trackID, sinkID); ok {
		o.MarkDelete()
	}
}

// StopRelay stops a relay and removes it from the manager.
func (m *Manager) StopRelay(trackID string) {
	m.mu.Lock()
	relay, ok := m.relays[trackID]
	if ok {
		delete(m.relays, trackID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

// StopAll stops every relay, e.g. when the peer connection is replaced.
func (m *Manager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[string]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.markAllDelete()
		r.cancel()
	}
}

// HasRelay reports whether a relay exists for trackID.
func (m *Manager) HasRelay(trackID string) bool {
	_, ok := m.relay(trackID)
	return ok
}

// Tracks returns the source of every running relay.
func (m *Manager) Tracks() []core.RemoteTrack {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.RemoteTrack, 0, len(m.relays))
	for _, r := range m.relays {
		out = append(out, r.Src)
	}
	return out
}

func (m *Manager) relay(trackID string) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relays[trackID]
	return r, ok
}

func (m *Manager) output(trackID, sinkID string) (*Output, bool) {
	relay, ok := m.relay(trackID)
	if !ok {
		return nil, false
	}
	return relay.output(sinkID)
}
