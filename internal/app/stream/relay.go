// Package stream relays inbound remote media to local sinks and reports
// when the first remote frame has arrived.
package stream

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

type Relay struct {
	Src core.RemoteTrack

	mu      sync.RWMutex
	outputs map[string]*Output

	packets    atomic.Uint64
	firstOnce  sync.Once
	firstFrame chan struct{}
	done       chan struct{}

	cancel context.CancelFunc
}

func NewRelay(src core.RemoteTrack, cancel context.CancelFunc) *Relay {
	return &Relay{
		Src:        src,
		outputs:    make(map[string]*Output),
		firstFrame: make(chan struct{}),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
}

// FirstFrame is closed when the first RTP packet has been read.
func (r *Relay) FirstFrame() <-chan struct{} { return r.firstFrame }

// Done is closed when the read loop has exited.
func (r *Relay) Done() <-chan struct{} { return r.done }

// Packets reports how many packets have been read from the source.
func (r *Relay) Packets() uint64 { return r.packets.Load() }

// loop reads RTP packets from the source track and forwards them to all outputs.
// ReadRTP only unblocks when the underlying transport is closed.
func (r *Relay) loop(ctx context.Context, onFirst func(), logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all outputs for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("relay read RTP ended, stopping")
			r.markAllDelete()
			return
		}
		r.packets.Add(1)
		r.firstOnce.Do(func() {
			close(r.firstFrame)
			logger.Info().Msg("first remote frame")
			if onFirst != nil {
				onFirst()
			}
		})
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := make(map[string]*Output, len(r.outputs))
	maps.Copy(snapshot, r.outputs)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for id, o := range snapshot {
		switch o.State() {
		case SinkDelete:
			dirty = append(dirty, id)
		case SinkMuted:
		case SinkOk:
			if err := o.Sink.WriteRTP(pkt); err != nil {
				logger.Warn().
					Err(err).
					Str("sink", id).
					Msg("sink write RTP error, marking output as delete")
				o.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if o, ok := r.outputs[id]; ok && o.State() == SinkDelete {
			delete(r.outputs, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outputs {
		o.MarkDelete()
	}
}

func (r *Relay) AddOutput(id string, o *Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[id] = o
}

func (r *Relay) output(id string) (*Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outputs[id]
	return o, ok
}

// Outputs reports how many sinks are attached.
func (r *Relay) Outputs() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}
