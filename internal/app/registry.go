package app

import (
	"context"
	"sync"

	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Topic   domain.TopicName
	Session core.MemberSession
	Cancel  context.CancelFunc
}

// Registry tracks every live signaling connection and the topic it joined.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[core.ConnID]*connEntry),
	}
}

func (r *Registry) BindSignal(cid core.ConnID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[cid] = &connEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("bound signal")
}

func (r *Registry) GetSession(cid core.ConnID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[cid]; ok {
		return e.Session, true
	}
	return nil, false
}

// UpdateMember replaces the member meta of a bound connection (set on join).
func (r *Registry) UpdateMember(cid core.ConnID, meta *domain.Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[cid]
	if !ok {
		return false
	}
	e.Session = core.NewMemberSession(meta, e.Session.Signal())
	return true
}

func (r *Registry) Unbind(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("unbind connection")
}

func (r *Registry) TopicOf(cid core.ConnID) (domain.TopicName, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.conns[cid]
	if !ok || entry.Topic == "" {
		return "", nil, false
	}
	return entry.Topic, entry.Session, true
}

func (r *Registry) UpdateTopic(cid core.ConnID, topic domain.TopicName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[cid]
	if !ok {
		return false
	}
	entry.Topic = topic
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("topic", string(topic)).Msg("updated topic")
	return true
}

func (r *Registry) RemoveTopic(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.conns[cid]; ok {
		entry.Topic = ""
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("removed topic association")
}

type RegSnap struct {
	CID     core.ConnID
	Session core.MemberSession
}

func (r *Registry) MembersOfTopic(name domain.TopicName) []RegSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegSnap, 0, len(r.conns))
	for cid, e := range r.conns {
		if e.Topic == name {
			out = append(out, RegSnap{CID: cid, Session: e.Session})
		}
	}
	return out
}

func (r *Registry) Cancel(cid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.conns[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("canceled connection")
	return true
}
