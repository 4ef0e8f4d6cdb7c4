package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Telecare/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type chatRequest struct {
	// ID lets a client resend the same message without duplicating it.
	ID   string `json:"id" binding:"omitempty,uuid"`
	Text string `json:"text" binding:"required,max=4000"`
}

func (a *api) newMessage(c *gin.Context, req chatRequest) domain.ChatMessage {
	_, role := callerOf(c)
	msg := domain.NewChatMessage(sessionOf(c), role, req.Text)
	if req.ID != "" {
		msg.ID = domain.MessageID(req.ID)
	}
	return msg
}

func (a *api) postChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	msg := a.newMessage(c, req)
	if err := a.Chat.Send(c.Request.Context(), msg); err != nil {
		writeError(c, err)
		return
	}
	a.auditChat(c, msg)
	c.JSON(http.StatusCreated, msg)
}

func (a *api) getChat(c *gin.Context) {
	msgs, err := a.Chat.History(c.Request.Context(), sessionOf(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (a *api) auditChat(c *gin.Context, msg domain.ChatMessage) {
	if a.Audit == nil {
		return
	}
	uid, _ := callerOf(c)
	a.Audit.Log(msg.SessionID, uid, domain.AuditChatSent, map[string]any{"messageId": string(msg.ID)})
}

var chatUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// chatWS streams the history and then live messages as JSON frames. Text
// frames from the client of the form {"id","text"} are sent as chat.
func (a *api) chatWS(ctx context.Context, c *gin.Context) {
	sid := sessionOf(c)
	uid, _ := callerOf(c)
	logger := log.With().Str("module", "adapters.http").Str("session", string(sid)).Str("user", string(uid)).Logger()

	ws, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("chat ws upgrade")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return ws.WriteJSON(v)
	}

	unsubscribe, err := a.Chat.Subscribe(ctx, sid, func(m domain.ChatMessage) {
		if err := write(gin.H{"type": "message", "message": m}); err != nil {
			logger.Debug().Err(err).Msg("chat ws write")
			cancel()
		}
	})
	if err != nil {
		status, code := statusOf(err)
		logger.Warn().Err(err).Int("status", status).Msg("chat subscribe failed")
		_ = write(gin.H{"type": "error", "error": code})
		_ = ws.Close()
		return
	}
	defer unsubscribe()
	logger.Info().Msg("chat ws subscribed")

	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	for {
		var req chatRequest
		if err := ws.ReadJSON(&req); err != nil {
			logger.Debug().Err(err).Msg("chat ws closed")
			return
		}
		if err := binding.Validator.ValidateStruct(&req); err != nil {
			_ = write(gin.H{"type": "error", "error": "bad_payload", "fields": invalidFields(err)})
			continue
		}
		msg := a.newMessage(c, req)
		if err := a.Chat.Send(ctx, msg); err != nil {
			_, code := statusOf(err)
			_ = write(gin.H{"type": "error", "error": code, "id": string(msg.ID)})
			continue
		}
		a.auditChat(c, msg)
	}
}
