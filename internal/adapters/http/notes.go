package http

import (
	"net/http"
	"time"

	"github.com/dkeye/Telecare/internal/domain"
	"github.com/gin-gonic/gin"
)

type notesRequest struct {
	ClientID string `json:"clientId" binding:"required,max=64"`
	Text     string `json:"text" binding:"max=100000"`
}

// practitionerOnly rejects callers that are not the practitioner side.
func practitionerOnly(c *gin.Context) bool {
	if _, role := callerOf(c); role != domain.Practitioner {
		writeError(c, domain.ErrForbidden)
		return false
	}
	return true
}

func (a *api) getNotes(c *gin.Context) {
	if !practitionerOnly(c) {
		return
	}
	doc, err := a.Notes.GetNotes(c.Request.Context(), sessionOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if uid, _ := callerOf(c); doc.TherapistID != uid {
		writeError(c, domain.ErrForbidden)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (a *api) putNotes(c *gin.Context) {
	if !practitionerOnly(c) {
		return
	}
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	uid, _ := callerOf(c)
	doc := domain.NotesDocument{
		SessionID:   sessionOf(c),
		TherapistID: uid,
		ClientID:    domain.UserID(req.ClientID),
		Text:        req.Text,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := a.Notes.UpsertNotes(c.Request.Context(), doc); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}
