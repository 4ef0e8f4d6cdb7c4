package signal

import (
	"encoding/json"

	"github.com/dkeye/Telecare/internal/app/signaling"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(
	cid core.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	type joinPayload struct {
		Type    string `json:"type"`
		Session string `json:"session"`
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn().Err(err).Str("module", "adapters.signal").Msg("bad join payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	sid := domain.SessionID(p.Session)
	if sid == "" || len(sid) > domain.MaxSessionIDLen {
		ctl.sendError(conn, "invalid_session")
		return
	}
	name := domain.SessionTopic(sid)

	if prev, _, ok := ctl.Orch.Registry.TopicOf(cid); ok && prev != name {
		ctl.leaveTopic(cid)
	}
	if !ctl.Orch.Join(cid, name) {
		ctl.sendError(conn, "not_bound")
		return
	}
	log.Info().Str("module", "adapters.signal").Str("cid", string(cid)).Str("topic", string(name)).Msg("join")

	topic := ctl.Orch.Topics.GetOrCreate(name)
	ctl.sendJSON(conn, struct {
		Type    string           `json:"type"`
		Topic   domain.TopicName `json:"topic"`
		Members []core.MemberDTO `json:"members"`
		Count   int              `json:"count"`
	}{
		Type:    "topic_state",
		Topic:   name,
		Members: topic.MembersSnapshot(),
		Count:   topic.MemberCount(),
	})
	ctl.broadcastMember(cid, name, "member_joined")
}

// handleLeave leaves the current topic; the connection stays open.
func (ctl *SignalWSController) handleLeave(
	cid core.ConnID,
	conn *WsSignalConn,
) {
	log.Info().Str("module", "adapters.signal").Str("cid", string(cid)).Msg("leave")
	ctl.leaveTopic(cid)
	ctl.sendJSON(conn, map[string]any{
		"type": "left",
	})
}

// leaveTopic kicks cid from its topic and tells the remaining members.
func (ctl *SignalWSController) leaveTopic(cid core.ConnID) {
	name, _, ok := ctl.Orch.Registry.TopicOf(cid)
	if !ok {
		return
	}
	ctl.broadcastMember(cid, name, "member_left")
	ctl.Orch.Kick(cid)
	if _, alive := ctl.Orch.Topics.Get(name); !alive {
		ctl.limiter.Forget(name)
	}
}

func (ctl *SignalWSController) handlePublish(
	cid core.ConnID,
	conn *WsSignalConn,
	data []byte,
) {
	var p struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &p); err != nil || len(p.Payload) == 0 {
		ctl.sendError(conn, "bad_payload")
		return
	}
	name, sess, ok := ctl.Orch.Registry.TopicOf(cid)
	if !ok {
		ctl.sendError(conn, "not_joined")
		return
	}
	if !ctl.limiter.Allow(name, sess.Meta().User) {
		log.Warn().Str("module", "adapters.signal").Str("cid", string(cid)).Str("topic", string(name)).Msg("publish rate limited")
		ctl.sendError(conn, "rate_limited")
		return
	}
	frame, err := signaling.Wrap(name, core.Frame(p.Payload))
	if err != nil {
		ctl.sendError(conn, "bad_payload")
		return
	}
	ctl.Orch.Publish(cid, frame)
}

func (ctl *SignalWSController) broadcastMember(from core.ConnID, name domain.TopicName, typ string) {
	sess, ok := ctl.Orch.Registry.GetSession(from)
	if !ok {
		return
	}
	meta := sess.Meta()
	msg := struct {
		Type   string           `json:"type"`
		Topic  domain.TopicName `json:"topic"`
		Member core.MemberDTO   `json:"member"`
	}{
		Type:   typ,
		Topic:  name,
		Member: core.MemberDTO{ID: meta.User, Role: meta.Role},
	}
	for _, snap := range ctl.Orch.Registry.MembersOfTopic(name) {
		if snap.CID == from {
			continue
		}
		ctl.sendJSON(snap.Session.Signal(), msg)
	}
}
