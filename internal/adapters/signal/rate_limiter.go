package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Telecare/internal/domain"
)

type limitKey struct {
	topic domain.TopicName
	user  domain.UserID
}

// TopicRateLimiter is a sliding-window limit on publishes per user per topic.
type TopicRateLimiter struct {
	mu       sync.Mutex
	history  map[limitKey][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewTopicRateLimiter(limit int, interval time.Duration) *TopicRateLimiter {
	return &TopicRateLimiter{
		history:  make(map[limitKey][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *TopicRateLimiter) Allow(topic domain.TopicName, uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)
	key := limitKey{topic, uid}

	attempts := rl.history[key]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[key] = fresh
		return false
	}

	rl.history[key] = append(fresh, now)
	return true
}

// Forget drops the history of a topic, e.g. when it is stopped.
func (rl *TopicRateLimiter) Forget(topic domain.TopicName) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for k := range rl.history {
		if k.topic == topic {
			delete(rl.history, k)
		}
	}
}
