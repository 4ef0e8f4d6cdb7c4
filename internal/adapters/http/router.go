package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/dkeye/Telecare/internal/adapters/signal"
	"github.com/dkeye/Telecare/internal/app/chat"
	"github.com/dkeye/Telecare/internal/app/files"
	"github.com/dkeye/Telecare/internal/app/orch"
	"github.com/dkeye/Telecare/internal/config"
	"github.com/dkeye/Telecare/internal/core"
	"github.com/dkeye/Telecare/internal/domain"
	transporthttp "github.com/dkeye/Telecare/internal/transport/http"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Auditor receives events reported by clients. It must not block.
type Auditor interface {
	Log(sid domain.SessionID, uid domain.UserID, typ domain.AuditType, metadata map[string]any)
}

// Deps are the services the HTTP API exposes.
type Deps struct {
	Hub    *orch.Orchestrator
	Chat   *chat.Store
	Notes  core.NotesRepository
	Files  *files.Registry
	Audit  Auditor
	Blobs  afero.Fs
	Health []transporthttp.Check
}

type api struct {
	Deps
	signal *signal.SignalWSController
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	// Multipart parts above this spill to disk instead of memory.
	r.MaxMultipartMemory = 8 << 20

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TelecareSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(IdentityMiddleware())

	a := &api{
		Deps: deps,
		signal: signal.NewSignalWSController(deps.Hub, signal.Options{
			ReadLimit:    cfg.ReadLimit,
			PingPeriod:   cfg.PingPeriod,
			SendBuffer:   cfg.SendBuffer,
			RateLimit:    cfg.SignalRateLimit,
			RateInterval: cfg.SignalRateInterval,
		}),
	}

	r.GET("/healthz", transporthttp.Health(deps.Health...))

	rest := r.Group("/api")
	rest.POST("/identity", a.setIdentity)
	rest.GET("/identity", RequireIdentity(), a.getIdentity)

	rest.GET("/topics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"topics": deps.Hub.Topics.List()})
	})

	rest.GET("/ws/signal", RequireIdentity(), func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("user", c.GetString("user_id")).Msg("ws signal endpoint hit")
		a.signal.HandleSignal(ctx, c)
	})

	sess := rest.Group("/sessions/:sid", RequireIdentity(), sessionParam())
	sess.POST("/chat", a.postChat)
	sess.GET("/chat", a.getChat)
	sess.GET("/chat/ws", func(c *gin.Context) { a.chatWS(ctx, c) })
	sess.GET("/notes", a.getNotes)
	sess.PUT("/notes", a.putNotes)
	sess.POST("/files", a.postFile)
	sess.GET("/files", a.listFiles)
	sess.POST("/audit", a.postAudit)

	if deps.Blobs != nil {
		base := "/" + strings.Trim(cfg.Storage.BlobBaseURL, "/")
		r.Group(base, RequireIdentity()).StaticFS("/", afero.NewHttpFs(deps.Blobs))
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}

// sessionParam validates :sid and stores it as "sid".
func sessionParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := c.Param("sid")
		if sid == "" || len(sid) > domain.MaxSessionIDLen {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"type": "error", "error": "invalid_session"})
			return
		}
		c.Set("sid", sid)
		c.Next()
	}
}

func sessionOf(c *gin.Context) domain.SessionID { return domain.SessionID(c.GetString("sid")) }

func callerOf(c *gin.Context) (domain.UserID, domain.Participant) {
	return domain.UserID(c.GetString("user_id")), domain.Participant(c.GetString("role"))
}
