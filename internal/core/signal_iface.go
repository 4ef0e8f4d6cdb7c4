package core

import (
	"context"
	"errors"
)

// Frame is a raw signaling payload.
type Frame []byte

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalingChannel is a session-scoped, best-effort publish/subscribe topic.
// Frames published while a subscriber is offline are lost.
type SignalingChannel interface {
	Publish(ctx context.Context, payload Frame) error
	// Subscribe returns a channel of payloads published by other members.
	// cancel is idempotent and closes the channel.
	Subscribe() (ch <-chan Frame, cancel func())
	Close() error
}
