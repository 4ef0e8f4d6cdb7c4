// Package chat keeps the ordered message history of a session and streams
// new messages to subscribers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const listenerBuffer = 256

// Store is the ChatSyncStore. Delivery to subscribers is at-least-once:
// a message may be seen both in the history and live, and a subscriber that
// falls behind is resynced from the full history. Consumers dedupe by id,
// e.g. with a Timeline.
type Store struct {
	repo core.ChatRepository
	log  zerolog.Logger

	mu        sync.RWMutex
	listeners map[domain.SessionID]map[*listener]struct{}
}

type listener struct {
	ch     chan domain.ChatMessage
	resync atomic.Bool
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func NewStore(repo core.ChatRepository) *Store {
	return &Store{
		repo:      repo,
		log:       log.With().Str("module", "app.chat").Logger(),
		listeners: make(map[domain.SessionID]map[*listener]struct{}),
	}
}

// Send persists msg and, once stored, makes it visible to every current
// subscriber of the session. Resending an id that is already stored is not
// an error and is not delivered again.
func (s *Store) Send(ctx context.Context, msg domain.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}
	if msg.ID == "" || msg.CreatedAt.IsZero() {
		return fmt.Errorf("send chat message: %w: missing id or timestamp", domain.ErrInvalidMessage)
	}
	inserted, err := s.repo.AppendMessage(ctx, msg)
	if err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = domain.Persistence(err)
		}
		s.log.Warn().Err(err).Str("session", string(msg.SessionID)).Msg("chat message not stored")
		return fmt.Errorf("send chat message: %w", err)
	}
	if !inserted {
		s.log.Debug().Str("id", string(msg.ID)).Msg("duplicate chat message ignored")
		return nil
	}
	s.fanOut(msg)
	return nil
}

// History returns the stored messages of sid in render order.
func (s *Store) History(ctx context.Context, sid domain.SessionID) ([]domain.ChatMessage, error) {
	msgs, err := s.repo.MessagesBySession(ctx, sid)
	if err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = domain.Persistence(err)
		}
		return nil, fmt.Errorf("chat history: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	return msgs, nil
}

// Subscribe delivers the existing history of sid once, then every new
// message as it is stored. onMessage runs on a dedicated goroutine, one
// call at a time. The returned unsubscribe must be called on teardown;
// it is idempotent.
func (s *Store) Subscribe(ctx context.Context, sid domain.SessionID, onMessage func(domain.ChatMessage)) (func(), error) {
	l := &listener{
		ch:   make(chan domain.ChatMessage, listenerBuffer),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	// Register before reading history so nothing stored in between is missed.
	s.mu.Lock()
	set, ok := s.listeners[sid]
	if !ok {
		set = make(map[*listener]struct{})
		s.listeners[sid] = set
	}
	set[l] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		l.once.Do(func() {
			s.mu.Lock()
			if set, ok := s.listeners[sid]; ok {
				delete(set, l)
				if len(set) == 0 {
					delete(s.listeners, sid)
				}
			}
			s.mu.Unlock()
			close(l.done)
		})
	}

	history, err := s.History(ctx, sid)
	if err != nil {
		unsubscribe()
		return nil, err
	}

	go s.deliver(sid, l, history, onMessage)
	s.log.Debug().Str("session", string(sid)).Int("history", len(history)).Msg("chat subscriber added")
	return unsubscribe, nil
}

func (s *Store) deliver(sid domain.SessionID, l *listener, history []domain.ChatMessage, onMessage func(domain.ChatMessage)) {
	emit := func(msgs []domain.ChatMessage) bool {
		for _, m := range msgs {
			select {
			case <-l.done:
				return false
			default:
			}
			onMessage(m)
		}
		return true
	}
	if !emit(history) {
		return
	}
	for {
		select {
		case <-l.done:
			return
		case m := <-l.ch:
			onMessage(m)
		case <-l.wake:
			if !l.resync.Swap(false) {
				continue
			}
			msgs, err := s.History(context.Background(), sid)
			if err != nil {
				s.log.Warn().Err(err).Str("session", string(sid)).Msg("chat resync failed")
				l.resync.Store(true)
				continue
			}
			if !emit(msgs) {
				return
			}
		}
	}
}

func (s *Store) fanOut(msg domain.ChatMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for l := range s.listeners[msg.SessionID] {
		select {
		case l.ch <- msg:
		default:
			// Slow subscriber: replay the full history instead of dropping.
			l.resync.Store(true)
			select {
			case l.wake <- struct{}{}:
			default:
			}
			s.log.Warn().Str("session", string(msg.SessionID)).Msg("chat subscriber behind, scheduling resync")
		}
	}
}

// Subscribers reports how many listeners sid has.
func (s *Store) Subscribers(sid domain.SessionID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[sid])
}
