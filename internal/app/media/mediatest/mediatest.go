// Package mediatest provides in-memory device fakes for tests.
package mediatest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Track is a LocalTrack that records how often it was closed.
type Track struct {
	id     string
	kind   webrtc.RTPCodecType
	closes atomic.Int32

	mu      sync.Mutex
	onEnded func(error)
}

func NewTrack(kind webrtc.RTPCodecType) *Track {
	return &Track{id: uuid.NewString(), kind: kind}
}

func (t *Track) ID() string                { return t.id }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }
func (t *Track) Local() webrtc.TrackLocal  { return nil }
func (t *Track) Closes() int               { return int(t.closes.Load()) }

func (t *Track) Close() error {
	t.closes.Add(1)
	return nil
}

func (t *Track) OnEnded(fn func(error)) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// End simulates the source stopping on its own.
func (t *Track) End(err error) {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Backend is a scriptable media.Backend.
type Backend struct {
	mu sync.Mutex
	// Err, when set, is returned by GetUserMedia.
	Err error
	// DisplayErr, when set, is returned by GetDisplayMedia.
	DisplayErr error
	// NoCamera makes every request that includes video fail with Unavailable.
	NoCamera bool
	// Requests records every GetUserMedia constraint in order.
	Requests []media.Constraints
	// Issued records every track handed out.
	Issued []*Track
}

func (b *Backend) SetErr(err error) {
	b.mu.Lock()
	b.Err = err
	b.mu.Unlock()
}

func (b *Backend) GetUserMedia(ctx context.Context, c media.Constraints) ([]core.LocalTrack, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Requests = append(b.Requests, c)
	if b.Err != nil {
		return nil, b.Err
	}
	if b.NoCamera && c.Video {
		return nil, errNoCamera
	}
	var out []core.LocalTrack
	if c.Audio {
		t := NewTrack(webrtc.RTPCodecTypeAudio)
		b.Issued = append(b.Issued, t)
		out = append(out, t)
	}
	if c.Video {
		t := NewTrack(webrtc.RTPCodecTypeVideo)
		b.Issued = append(b.Issued, t)
		out = append(out, t)
	}
	return out, nil
}

func (b *Backend) GetDisplayMedia(ctx context.Context) ([]core.LocalTrack, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DisplayErr != nil {
		return nil, b.DisplayErr
	}
	t := NewTrack(webrtc.RTPCodecTypeVideo)
	b.Issued = append(b.Issued, t)
	return []core.LocalTrack{t}, nil
}

// LastRequest returns the most recent constraints.
func (b *Backend) LastRequest() media.Constraints {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Requests) == 0 {
		return media.Constraints{}
	}
	return b.Requests[len(b.Requests)-1]
}

// IssuedTracks returns a copy of every track handed out.
func (b *Backend) IssuedTracks() []*Track {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Track, len(b.Issued))
	copy(out, b.Issued)
	return out
}
