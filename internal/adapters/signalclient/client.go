// Package signalclient joins a session topic on a remote signaling server
// and exposes it as a core.SignalingChannel.
package signalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Telecare/internal/app/signaling"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	writeWait = 5 * time.Second
	buffer    = 64
)

// Channel is a websocket connection joined to one session topic.
type Channel struct {
	conn  *websocket.Conn
	topic domain.TopicName
	log   zerolog.Logger

	writeMu sync.Mutex

	mu        sync.RWMutex
	listeners map[chan core.Frame]struct{}
	drained   bool

	joined    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to serverURL (the /api/ws/signal endpoint), identifies as
// user and joins the topic of sid. It returns once the server confirmed
// the join.
func Dial(ctx context.Context, serverURL string, sid domain.SessionID, user domain.UserID, role domain.Participant) (*Channel, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("signal url: %w", err)
	}
	header := http.Header{}
	header.Set("X-User-ID", string(user))
	header.Set("X-User-Role", string(role))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial signal: %w", err)
	}
	c := &Channel{
		conn:      conn,
		topic:     domain.SessionTopic(sid),
		log:       log.With().Str("module", "adapters.signalclient").Str("session", string(sid)).Logger(),
		listeners: make(map[chan core.Frame]struct{}),
		joined:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go c.readLoop()

	if err := c.write(map[string]any{"type": "join", "session": string(sid)}); err != nil {
		_ = c.Close()
		return nil, err
	}
	select {
	case <-c.joined:
		c.log.Info().Str("topic", string(c.topic)).Msg("joined topic")
		return c, nil
	case <-c.done:
		return nil, fmt.Errorf("join %s: %w", c.topic, core.ErrClosed)
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

func (c *Channel) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *Channel) Publish(ctx context.Context, payload core.Frame) error {
	select {
	case <-c.done:
		return core.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !json.Valid(payload) {
		return domain.ErrInvalidMessage
	}
	return c.write(struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{"publish", json.RawMessage(payload)})
}

func (c *Channel) Subscribe() (<-chan core.Frame, func()) {
	ch := make(chan core.Frame, buffer)

	c.mu.Lock()
	if c.drained {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	c.listeners[ch] = struct{}{}
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		if _, ok := c.listeners[ch]; ok {
			delete(c.listeners, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
}

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.write(map[string]any{"type": "leave"})
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
		close(c.done)
	})
	return err
}

func (c *Channel) readLoop() {
	defer func() {
		c.mu.Lock()
		for ch := range c.listeners {
			close(ch)
		}
		c.listeners = map[chan core.Frame]struct{}{}
		c.drained = true
		c.mu.Unlock()
		c.closeOnce.Do(func() {
			_ = c.conn.Close()
			close(c.done)
		})
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("read loop ended")
			}
			return
		}
		c.handle(data)
	}
}

func (c *Channel) handle(data []byte) {
	var head struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		c.log.Warn().Err(err).Msg("bad frame from server")
		return
	}
	switch head.Type {
	case signaling.EnvelopeType:
		topic, payload, err := signaling.Unwrap(data)
		if err != nil || topic != c.topic {
			c.log.Debug().Str("topic", string(topic)).Msg("frame for another topic dropped")
			return
		}
		c.fanOut(payload)
	case "topic_state":
		select {
		case <-c.joined:
		default:
			close(c.joined)
		}
	case "error":
		c.log.Warn().Str("error", head.Error).Msg("server rejected request")
	default:
		c.log.Debug().Str("type", head.Type).Msg("server event")
	}
}

func (c *Channel) fanOut(payload core.Frame) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for ch := range c.listeners {
		select {
		case ch <- payload:
		default:
			c.log.Debug().Msg("listener full, frame dropped")
		}
	}
}
