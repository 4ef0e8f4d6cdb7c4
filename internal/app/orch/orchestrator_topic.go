package orch

import (
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join moves cid into the topic, leaving any previous one first.
func (o *Orchestrator) Join(cid core.ConnID, topicName domain.TopicName) bool {
	if prev, _, ok := o.Registry.TopicOf(cid); ok {
		o.Kick(cid)
		log.Info().Str("module", "app.orch").Str("cid", string(cid)).Str("from_topic", string(prev)).Msg("left previous topic")
	}
	session, ok := o.Registry.GetSession(cid)
	if !ok {
		return false
	}
	topic := o.Topics.GetOrCreate(topicName)
	topic.AddMember(cid, session)
	o.Registry.UpdateTopic(cid, topicName)
	log.Info().Str("module", "app.orch").Str("cid", string(cid)).Str("topic", string(topicName)).Msg("added to topic")
	o.audit(topicName, session, domain.AuditParticipantJoined)
	return true
}

// Kick removes cid from its topic but keeps the connection open.
func (o *Orchestrator) Kick(cid core.ConnID) {
	topicName, session, ok := o.Registry.TopicOf(cid)
	if !ok {
		return
	}
	if topic, ok := o.Topics.Get(topicName); ok {
		topic.RemoveMember(cid)
		if topic.MemberCount() == 0 {
			o.Topics.StopTopic(topicName)
		}
	}
	o.Registry.RemoveTopic(cid)
	o.audit(topicName, session, domain.AuditParticipantLeft)
}

// OnDisconnect forgets cid entirely.
func (o *Orchestrator) OnDisconnect(cid core.ConnID) {
	o.Kick(cid)
	o.Registry.Unbind(cid)
}

func (o *Orchestrator) EvictTopic(name domain.TopicName) {
	for _, snap := range o.Registry.MembersOfTopic(name) {
		o.Kick(snap.CID)
	}
	o.Topics.StopTopic(name)
}

func (o *Orchestrator) audit(topicName domain.TopicName, session core.MemberSession, typ domain.AuditType) {
	if o.Audit == nil || session == nil {
		return
	}
	sid, ok := topicName.SessionOf()
	if !ok {
		return
	}
	meta := session.Meta()
	o.Audit.Log(sid, meta.User, typ, map[string]any{"participant": string(meta.Role)})
}
