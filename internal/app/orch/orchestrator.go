package orch

import (
	"github.com/dkeye/Telecare/internal/app"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog/log"
)

// Auditor receives membership events. It must not block.
type Auditor interface {
	Log(sid domain.SessionID, uid domain.UserID, typ domain.AuditType, metadata map[string]any)
}

// Orchestrator routes signaling frames between the connections of a session topic.
type Orchestrator struct {
	Registry *app.Registry
	Topics   core.TopicManager
	Policy   app.Policy
	Audit    Auditor
}

// Publish fans data out to every other member of the sender's topic.
// It reports false when the sender has not joined a topic.
func (o *Orchestrator) Publish(cid core.ConnID, data core.Frame) bool {
	topicName, _, ok := o.Registry.TopicOf(cid)
	if !ok {
		return false
	}
	topic := o.Topics.GetOrCreate(topicName)

	res := topic.Broadcast(cid, data)
	if o.Policy == nil {
		return true
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(topic, slow) {
		case app.KickMember:
			for _, snap := range o.Registry.MembersOfTopic(topicName) {
				if snap.Session.Signal() == slow.Signal() {
					log.Warn().Str("module", "app.orch").Str("cid", string(snap.CID)).Msg("kicking slow member")
					o.Kick(snap.CID)
				}
			}
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
	return true
}
