package app

import (
	"sync"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog/log"
)

type TopicManagerImpl struct {
	mu     sync.RWMutex
	topics map[domain.TopicName]core.TopicService
}

func NewTopicManager() core.TopicManager {
	return &TopicManagerImpl{topics: make(map[domain.TopicName]core.TopicService)}
}

func (f *TopicManagerImpl) GetOrCreate(name domain.TopicName) core.TopicService {
	f.mu.RLock()
	topic, ok := f.topics[name]
	f.mu.RUnlock()
	if ok {
		return topic
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic, ok = f.topics[name]; ok {
		return topic
	}
	sid, _ := name.SessionOf()
	topic = core.NewTopicService(&domain.Topic{Name: name, Session: sid})
	f.topics[name] = topic
	log.Info().Str("module", "app.topics").Str("topic", string(name)).Msg("topic created")
	return topic
}

func (f *TopicManagerImpl) Get(name domain.TopicName) (core.TopicService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.topics[name]
	return t, ok
}

func (f *TopicManagerImpl) List() []core.TopicInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.TopicInfo, 0, len(f.topics))
	for name, t := range f.topics {
		out = append(out, core.TopicInfo{Name: name, MemberCount: t.MemberCount()})
	}
	return out
}

func (f *TopicManagerImpl) StopTopic(name domain.TopicName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.topics, name)
	log.Info().Str("module", "app.topics").Str("topic", string(name)).Msg("topic stopped")
}
