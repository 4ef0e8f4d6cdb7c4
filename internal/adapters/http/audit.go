package http

import (
	"net/http"

	"github.com/dkeye/Telecare/internal/domain"
	"github.com/gin-gonic/gin"
)

type auditRequest struct {
	Type     string         `json:"type" binding:"required,oneof=session_started session_ended connection_state_changed audio_toggled video_toggled camera_switched screen_share_started screen_share_stopped chat_sent file_uploaded participant_joined participant_left"`
	Metadata map[string]any `json:"metadata"`
}

// postAudit records a client-side event. Well-formed events get 202
// whether or not the write later succeeds.
func (a *api) postAudit(c *gin.Context) {
	var req auditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	uid, _ := callerOf(c)
	if a.Audit != nil {
		a.Audit.Log(sessionOf(c), uid, domain.AuditType(req.Type), req.Metadata)
	}
	c.Status(http.StatusAccepted)
}
