//go:build !linux

package devices

import (
	"context"

	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Backend has no capture drivers on this platform; every request reports
// an unavailable device so sessions run receive-only.
type Backend struct{}

func New() (*Backend, error) {
	log.Warn().Str("module", "adapters.devices").Msg("no capture drivers on this platform, running receive-only")
	return &Backend{}, nil
}

func (b *Backend) Populate(me *webrtc.MediaEngine) {
	if err := me.RegisterDefaultCodecs(); err != nil {
		log.Error().Err(err).Str("module", "adapters.devices").Msg("register codecs")
	}
}

func (b *Backend) GetUserMedia(context.Context, media.Constraints) ([]core.LocalTrack, error) {
	return nil, domain.ErrDeviceUnavailable
}

func (b *Backend) GetDisplayMedia(context.Context) ([]core.LocalTrack, error) {
	return nil, domain.ErrDeviceUnavailable
}
