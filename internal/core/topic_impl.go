package core

import (
	"sync"

	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog/log"
)

// topicImpl is a threadsafe in-memory session topic.
// It never closes adapter-owned resources. Publishes are best-effort:
// members that join later never see earlier frames.
type topicImpl struct {
	topic  *domain.Topic
	mu     sync.RWMutex
	byCID  map[ConnID]MemberSession
	byUser map[domain.UserID]ConnID
}

func NewTopicService(topic *domain.Topic) TopicService {
	return &topicImpl{
		topic:  topic,
		byCID:  make(map[ConnID]MemberSession),
		byUser: make(map[domain.UserID]ConnID),
	}
}

func (t *topicImpl) Topic() *domain.Topic { return t.topic }

func (t *topicImpl) MemberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byCID)
}

func (t *topicImpl) AddMember(cid ConnID, ms MemberSession) {
	u := ms.Meta().User
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byCID[cid] = ms
	t.byUser[u] = cid
	log.Info().Str("module", "core.topic").Str("topic", string(t.topic.Name)).Str("cid", string(cid)).Str("user", string(u)).Msg("member added")
}

func (t *topicImpl) RemoveMember(cid ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ms, ok := t.byCID[cid]; ok {
		u := ms.Meta().User
		if t.byUser[u] == cid {
			delete(t.byUser, u)
		}
	}
	delete(t.byCID, cid)
	log.Info().Str("module", "core.topic").Str("topic", string(t.topic.Name)).Str("cid", string(cid)).Msg("member removed")
}

func (t *topicImpl) Broadcast(from ConnID, data Frame) PublishResult {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := PublishResult{}
	for cid, m := range t.byCID {
		if cid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.topic").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (t *topicImpl) MembersSnapshot() []MemberDTO {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]MemberDTO, 0, len(t.byCID))
	for _, ms := range t.byCID {
		m := ms.Meta()
		out = append(out, MemberDTO{ID: m.User, Role: m.Role})
	}
	return out
}
