// Package media owns every interaction with camera, microphone and
// screen-capture hardware.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FacingMode selects the front ("user") or back ("environment") camera.
type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

func (f FacingMode) Opposite() FacingMode {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

// Constraints describe a user-media request.
type Constraints struct {
	Audio  bool
	Video  bool
	Facing FacingMode
}

// DefaultConstraints asks for audio and the front camera.
func DefaultConstraints() Constraints {
	return Constraints{Audio: true, Video: true, Facing: FacingUser}
}

// Backend is the platform device layer. Implementations report
// domain.ErrPermissionDenied or domain.ErrDeviceUnavailable.
type Backend interface {
	GetUserMedia(ctx context.Context, c Constraints) ([]core.LocalTrack, error)
	GetDisplayMedia(ctx context.Context) ([]core.LocalTrack, error)
}

type Controller struct {
	backend Backend
	log     zerolog.Logger

	mu   sync.Mutex
	live map[string]*StreamHandle
}

func NewController(backend Backend) *Controller {
	return &Controller{
		backend: backend,
		log:     log.With().Str("module", "app.media").Logger(),
		live:    make(map[string]*StreamHandle),
	}
}

// Acquire requests local media. If the full request cannot be met because a
// device is missing, it degrades to video-only and then audio-only, the
// same order a browser user would accept. A permission denial is final.
// The caller owns the handle and must Release it on every exit path.
func (c *Controller) Acquire(ctx context.Context, cons Constraints) (*StreamHandle, error) {
	if cons.Facing == "" {
		cons.Facing = FacingUser
	}
	if !cons.Audio && !cons.Video {
		return nil, fmt.Errorf("acquire: %w: empty constraints", domain.ErrDeviceUnavailable)
	}

	var lastErr error
	for _, attempt := range fallbackChain(cons) {
		tracks, err := c.backend.GetUserMedia(ctx, attempt)
		if err == nil && len(tracks) == 0 {
			err = domain.ErrDeviceUnavailable
		}
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Bool("audio", attempt.Audio).Bool("video", attempt.Video).Msg("get user media failed")
			if errors.Is(err, domain.ErrPermissionDenied) || ctx.Err() != nil {
				break
			}
			continue
		}
		h := newHandle(uuid.NewString(), KindCamera, attempt.Facing, tracks)
		c.track(h)
		c.log.Info().Str("handle", h.ID()).Int("tracks", len(tracks)).Str("facing", string(attempt.Facing)).Msg("local media acquired")
		return h, nil
	}
	return nil, classify("acquire", lastErr)
}

// StartScreenShare requests a screen-capture stream. When the user stops
// sharing from the OS chrome the handle's Done channel closes; owners must
// observe it as well as their own stop requests.
func (c *Controller) StartScreenShare(ctx context.Context) (*StreamHandle, error) {
	tracks, err := c.backend.GetDisplayMedia(ctx)
	if err == nil && len(tracks) == 0 {
		err = domain.ErrDeviceUnavailable
	}
	if err != nil {
		return nil, classify("screen share", err)
	}
	h := newHandle(uuid.NewString(), KindScreen, "", tracks)
	for _, t := range tracks {
		t.OnEnded(func(cause error) {
			c.log.Info().Str("handle", h.ID()).AnErr("cause", cause).Msg("screen share ended by source")
			if cause == nil {
				cause = errSourceEnded
			}
			h.stop(cause)
			c.untrack(h)
		})
	}
	c.track(h)
	c.log.Info().Str("handle", h.ID()).Msg("screen share started")
	return h, nil
}

// Release stops every track in h on behalf of by, which must own it.
// A refused release leaves the tracks running. Idempotent for the owner.
func (c *Controller) Release(h *StreamHandle, by Owner) error {
	if h == nil {
		return nil
	}
	if err := h.Release(by); err != nil {
		c.log.Warn().Err(err).Str("handle", h.ID()).Msg("release refused")
		return err
	}
	if c.untrack(h) {
		c.log.Info().Str("handle", h.ID()).Str("by", string(by)).Msg("local media released")
	}
	return nil
}

// Live reports how many handles are acquired and not yet released.
func (c *Controller) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, h := range c.live {
		if h.Released() {
			delete(c.live, id)
			continue
		}
		n++
	}
	return n
}

var errSourceEnded = errors.New("source ended")

func (c *Controller) track(h *StreamHandle) {
	c.mu.Lock()
	c.live[h.ID()] = h
	c.mu.Unlock()
}

func (c *Controller) untrack(h *StreamHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live[h.ID()]; !ok {
		return false
	}
	delete(c.live, h.ID())
	return true
}

func fallbackChain(c Constraints) []Constraints {
	out := []Constraints{c}
	if c.Audio && c.Video {
		out = append(out,
			Constraints{Video: true, Facing: c.Facing},
			Constraints{Audio: true, Facing: c.Facing},
		)
	}
	return out
}

// classify keeps taxonomy errors and maps everything else to DeviceUnavailable.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return fmt.Errorf("%s: %w", op, domain.ErrDeviceUnavailable)
	case errors.Is(err, domain.ErrPermissionDenied), errors.Is(err, domain.ErrDeviceUnavailable):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w", op, errors.Join(domain.ErrDeviceUnavailable, err))
	}
}
