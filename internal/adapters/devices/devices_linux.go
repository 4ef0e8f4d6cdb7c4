//go:build linux

package devices

import (
	"context"
	"fmt"

	"github.com/dkeye/Telecare/internal/app/media"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend is a media.Backend over V4L2 cameras, malgo microphones and X11
// screen capture, encoding VP8 and Opus.
type Backend struct {
	selector *mediadevices.CodecSelector
	log      zerolog.Logger
}

func New() (*Backend, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	b := &Backend{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: log.With().Str("module", "adapters.devices").Logger(),
	}
	for _, d := range mediadevices.EnumerateDevices() {
		b.log.Debug().Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("media device")
	}
	return b, nil
}

// Populate registers the encoder codecs on a pion media engine.
func (b *Backend) Populate(me *webrtc.MediaEngine) {
	b.selector.Populate(me)
}

func (b *Backend) GetUserMedia(ctx context.Context, c media.Constraints) ([]core.LocalTrack, error) {
	if !c.Audio && !c.Video {
		return nil, domain.ErrDeviceUnavailable
	}
	cons := mediadevices.MediaStreamConstraints{Codec: b.selector}
	if c.Video {
		deviceID, ok := pickCamera(mediadevices.EnumerateDevices(), c.Facing == media.FacingEnvironment)
		if !ok {
			return nil, fmt.Errorf("camera %s: %w", c.Facing, domain.ErrDeviceUnavailable)
		}
		cons.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.DeviceID = prop.StringExact(deviceID)
			// Raw formats only; some MJPEG nodes emit frames the encoder rejects.
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if c.Audio {
		cons.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}

	tracks, err := acquire(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(cons)
	})
	if err != nil {
		b.log.Warn().Err(err).Bool("audio", c.Audio).Bool("video", c.Video).Msg("GetUserMedia failed")
		return nil, err
	}
	b.log.Info().Int("tracks", len(tracks)).Str("facing", string(c.Facing)).Msg("local media captured")
	return tracks, nil
}

func (b *Backend) GetDisplayMedia(ctx context.Context) ([]core.LocalTrack, error) {
	cons := mediadevices.MediaStreamConstraints{
		Codec: b.selector,
		Video: func(*mediadevices.MediaTrackConstraints) {},
	}
	tracks, err := acquire(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(cons)
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("GetDisplayMedia failed")
		return nil, err
	}
	return tracks, nil
}
