package rtc

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// gatedTrack wraps a local track and drops its packets while on is false.
type gatedTrack struct {
	webrtc.TrackLocal
	on *atomic.Bool

	mu    sync.Mutex
	bound map[string]webrtc.TrackLocalContext
}

func (g *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	gc := &gatedContext{TrackLocalContext: ctx, writer: &gatedWriter{TrackLocalWriter: ctx.WriteStream(), on: g.on}}
	g.mu.Lock()
	if g.bound == nil {
		g.bound = make(map[string]webrtc.TrackLocalContext)
	}
	g.bound[ctx.ID()] = gc
	g.mu.Unlock()
	return g.TrackLocal.Bind(gc)
}

func (g *gatedTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	g.mu.Lock()
	gc, ok := g.bound[ctx.ID()]
	delete(g.bound, ctx.ID())
	g.mu.Unlock()
	if !ok {
		gc = ctx
	}
	return g.TrackLocal.Unbind(gc)
}

type gatedContext struct {
	webrtc.TrackLocalContext
	writer webrtc.TrackLocalWriter
}

func (c *gatedContext) WriteStream() webrtc.TrackLocalWriter { return c.writer }

type gatedWriter struct {
	webrtc.TrackLocalWriter
	on *atomic.Bool
}

func (w *gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.on.Load() {
		return header.MarshalSize() + len(payload), nil
	}
	return w.TrackLocalWriter.WriteRTP(header, payload)
}

func (w *gatedWriter) Write(b []byte) (int, error) {
	if !w.on.Load() {
		return len(b), nil
	}
	return w.TrackLocalWriter.Write(b)
}
