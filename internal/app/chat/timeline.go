package chat

import (
	"sort"
	"sync"

	"github.com/dkeye/Telecare/internal/domain"
)

// Timeline is the consumer side of a chat subscription: it drops duplicate
// ids and keeps messages in creation order whatever order they arrive in.
type Timeline struct {
	mu   sync.RWMutex
	seen map[domain.MessageID]struct{}
	msgs []domain.ChatMessage
}

func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[domain.MessageID]struct{})}
}

// Add inserts m in order. It reports false if m.ID was already present.
func (t *Timeline) Add(m domain.ChatMessage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.seen[m.ID]; dup {
		return false
	}
	t.seen[m.ID] = struct{}{}
	i := sort.Search(len(t.msgs), func(i int) bool { return m.Before(t.msgs[i]) })
	t.msgs = append(t.msgs, domain.ChatMessage{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = m
	return true
}

// Messages returns a copy in render order.
func (t *Timeline) Messages() []domain.ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.ChatMessage, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}
