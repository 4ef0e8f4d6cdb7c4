package media

import (
	"fmt"
	"sync"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Owner tags which component may stop a handle's tracks.
type Owner string

const (
	OwnerDevices Owner = "devices"
	OwnerSession Owner = "session"
)

type StreamKind string

const (
	KindCamera StreamKind = "camera"
	KindScreen StreamKind = "screen"
)

// StreamHandle wraps a set of local tracks with exactly one owner.
// Tracks are stopped exactly once, by Release or when the source ends.
type StreamHandle struct {
	id     string
	kind   StreamKind
	facing FacingMode

	mu      sync.Mutex
	owner   Owner
	tracks  []core.LocalTrack
	enabled map[webrtc.RTPCodecType]bool
	ended   error

	once sync.Once
	done chan struct{}
}

func newHandle(id string, kind StreamKind, facing FacingMode, tracks []core.LocalTrack) *StreamHandle {
	h := &StreamHandle{
		id:      id,
		kind:    kind,
		facing:  facing,
		owner:   OwnerDevices,
		tracks:  tracks,
		enabled: make(map[webrtc.RTPCodecType]bool, len(tracks)),
		done:    make(chan struct{}),
	}
	for _, t := range tracks {
		h.enabled[t.Kind()] = true
	}
	return h
}

func (h *StreamHandle) ID() string         { return h.id }
func (h *StreamHandle) Kind() StreamKind   { return h.kind }
func (h *StreamHandle) Facing() FacingMode { return h.facing }

// Done is closed once the tracks have been stopped, whichever side stopped them.
func (h *StreamHandle) Done() <-chan struct{} { return h.done }

func (h *StreamHandle) Released() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// EndedErr reports why the source ended on its own, if it did.
func (h *StreamHandle) EndedErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ended
}

func (h *StreamHandle) Owner() Owner {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.owner
}

// Tracks returns the live tracks. Callers borrow them and must not close them.
func (h *StreamHandle) Tracks() []core.LocalTrack {
	if h.Released() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]core.LocalTrack, len(h.tracks))
	copy(out, h.tracks)
	return out
}

// HasTrack reports whether the handle carries a track of kind.
func (h *StreamHandle) HasTrack(kind webrtc.RTPCodecType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.enabled[kind]
	return ok
}

func (h *StreamHandle) Enabled(kind webrtc.RTPCodecType) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled[kind]
}

// SetEnabled flips the enabled flag of the track of kind. It reports false
// when the handle has no such track.
func (h *StreamHandle) SetEnabled(kind webrtc.RTPCodecType, on bool) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.enabled[kind]; !ok {
		return false
	}
	h.enabled[kind] = on
	return true
}

// Transfer hands ownership from one component to another. References move,
// they are never duplicated.
func (h *StreamHandle) Transfer(from, to Owner) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owner != from {
		return fmt.Errorf("transfer %s from %s: %w (owner is %s)", h.id, from, domain.ErrNotOwner, h.owner)
	}
	h.owner = to
	return nil
}

// Release stops every track. Only the current owner may release; repeated
// calls by the owner are no-ops.
func (h *StreamHandle) Release(by Owner) error {
	h.mu.Lock()
	owner := h.owner
	h.mu.Unlock()
	if owner != by {
		return fmt.Errorf("release %s by %s: %w (owner is %s)", h.id, by, domain.ErrNotOwner, owner)
	}
	h.stop(nil)
	return nil
}

// stop closes the tracks exactly once.
func (h *StreamHandle) stop(cause error) {
	h.once.Do(func() {
		h.mu.Lock()
		tracks := h.tracks
		h.tracks = nil
		if cause != nil {
			h.ended = cause
		}
		h.mu.Unlock()
		for _, t := range tracks {
			_ = t.Close()
		}
		close(h.done)
	})
}
