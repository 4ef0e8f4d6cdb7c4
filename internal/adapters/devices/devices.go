// Package devices captures camera, microphone and screen through
// pion/mediadevices.
package devices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// track adapts a mediadevices track to core.LocalTrack.
type track struct {
	mediadevices.Track
}

func (t track) Local() webrtc.TrackLocal { return t.Track }

func wrap(ts []mediadevices.Track) []core.LocalTrack {
	out := make([]core.LocalTrack, 0, len(ts))
	for _, t := range ts {
		out = append(out, track{t})
	}
	return out
}

// acquire runs a blocking capture call and gives up when ctx ends first.
// Tracks that arrive after ctx ended are closed.
func acquire(ctx context.Context, get func() (mediadevices.MediaStream, error)) ([]core.LocalTrack, error) {
	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := get()
		ch <- result{s, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, classify(r.err)
		}
		tracks := r.stream.GetTracks()
		if len(tracks) == 0 {
			return nil, domain.ErrDeviceUnavailable
		}
		return wrap(tracks), nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				for _, t := range r.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, os.ErrPermission), strings.Contains(strings.ToLower(err.Error()), "permission"):
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrDeviceUnavailable, err)
	}
}

// pickCamera maps a facing mode onto the enumerated video inputs. Labels
// mentioning the back or rear camera count as "environment"; otherwise
// the first camera is "user" and the second "environment".
func pickCamera(devices []mediadevices.MediaDeviceInfo, environment bool) (string, bool) {
	var cams []mediadevices.MediaDeviceInfo
	for _, d := range devices {
		if d.Kind == mediadevices.VideoInput {
			cams = append(cams, d)
		}
	}
	if len(cams) == 0 {
		return "", false
	}
	for _, c := range cams {
		label := strings.ToLower(c.Label)
		back := strings.Contains(label, "back") || strings.Contains(label, "rear")
		if back == environment {
			return c.DeviceID, true
		}
	}
	if environment {
		if len(cams) < 2 {
			return "", false
		}
		return cams[1].DeviceID, true
	}
	return cams[0].DeviceID, true
}
