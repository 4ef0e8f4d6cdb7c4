package signal

import (
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
)

func (ctl *SignalWSController) handlePing(
	conn *WsSignalConn,
) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	ctl.sendJSON(conn, resp)
}

func (ctl *SignalWSController) handleWhoAmI(
	cid core.ConnID,
	conn *WsSignalConn,
) {
	sess, ok := ctl.Orch.Registry.GetSession(cid)
	if !ok {
		ctl.sendError(conn, "not_bound")
		return
	}
	meta := sess.Meta()
	resp := struct {
		Type  string             `json:"type"`
		User  domain.UserID      `json:"user"`
		Role  domain.Participant `json:"role"`
		Topic domain.TopicName   `json:"topic,omitempty"`
	}{
		Type: "whoami",
		User: meta.User,
		Role: meta.Role,
	}
	if name, _, ok := ctl.Orch.Registry.TopicOf(cid); ok {
		resp.Topic = name
	}
	ctl.sendJSON(conn, resp)
}
