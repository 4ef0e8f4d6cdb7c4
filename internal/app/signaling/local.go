package signaling

import (
	"context"
	"sync"

	"github.com/dkeye/Telecare/internal/app"
	"github.com/dkeye/Telecare/internal/app/orch"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const localBuffer = 64

// NewHub wires an orchestrator for in-process use.
func NewHub(policy app.Policy, audit orch.Auditor) *orch.Orchestrator {
	return &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Topics:   app.NewTopicManager(),
		Policy:   policy,
		Audit:    audit,
	}
}

// pipeConn is the in-process SignalConnection the hub writes into.
type pipeConn struct {
	mu     sync.RWMutex
	ch     chan core.Frame
	closed bool
}

func (c *pipeConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.ch <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *pipeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// LocalChannel is a SignalingChannel joined to a hub topic in the same process.
type LocalChannel struct {
	hub   *orch.Orchestrator
	cid   core.ConnID
	topic domain.TopicName
	conn  *pipeConn
	log   zerolog.Logger

	listenerMu sync.RWMutex
	listeners  map[chan core.Frame]struct{}
	drained    bool

	closeOnce sync.Once
	done      chan struct{}
}

// Join binds a new connection for member on the hub and joins topic.
func Join(hub *orch.Orchestrator, topic domain.TopicName, member *domain.Member) *LocalChannel {
	cid := core.ConnID("local-" + uuid.NewString())
	conn := &pipeConn{ch: make(chan core.Frame, localBuffer)}
	c := &LocalChannel{
		hub:       hub,
		cid:       cid,
		topic:     topic,
		conn:      conn,
		log:       log.With().Str("module", "app.signaling").Str("cid", string(cid)).Str("topic", string(topic)).Logger(),
		listeners: make(map[chan core.Frame]struct{}),
		done:      make(chan struct{}),
	}
	hub.Registry.BindSignal(cid, core.NewMemberSession(member, conn), nil)
	hub.Join(cid, topic)
	go c.forward()
	return c
}

func (c *LocalChannel) Publish(ctx context.Context, payload core.Frame) error {
	select {
	case <-c.done:
		return core.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	frame, err := Wrap(c.topic, payload)
	if err != nil {
		return err
	}
	if !c.hub.Publish(c.cid, frame) {
		return core.ErrClosed
	}
	return nil
}

func (c *LocalChannel) Subscribe() (<-chan core.Frame, func()) {
	ch := make(chan core.Frame, localBuffer)

	c.listenerMu.Lock()
	if c.drained {
		c.listenerMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.listeners[ch] = struct{}{}
	c.listenerMu.Unlock()

	cancel := func() {
		c.listenerMu.Lock()
		if _, ok := c.listeners[ch]; ok {
			delete(c.listeners, ch)
			close(ch)
		}
		c.listenerMu.Unlock()
	}
	return ch, cancel
}

func (c *LocalChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.OnDisconnect(c.cid)
		c.conn.Close()
	})
	return nil
}

func (c *LocalChannel) forward() {
	defer func() {
		c.listenerMu.Lock()
		for ch := range c.listeners {
			close(ch)
		}
		c.listeners = map[chan core.Frame]struct{}{}
		c.drained = true
		c.listenerMu.Unlock()
	}()
	for frame := range c.conn.ch {
		_, payload, err := Unwrap(frame)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.listenerMu.RLock()
		for ch := range c.listeners {
			select {
			case ch <- payload:
			default:
				c.log.Debug().Msg("listener full, frame dropped")
			}
		}
		c.listenerMu.RUnlock()
	}
}
