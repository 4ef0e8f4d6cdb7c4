package http

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware tags every browser with a long-lived token.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type identityRequest struct {
	UserID string `json:"userId" binding:"required,max=64"`
	Role   string `json:"role" binding:"required,oneof=practitioner client"`
}

// IdentityMiddleware resolves the caller from the X-User-ID/X-User-Role
// headers, falling back to the cookie session. Authentication itself is
// done upstream; this only carries the asserted identity.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		if uid := c.GetHeader("X-User-ID"); uid != "" {
			req := identityRequest{UserID: uid, Role: c.GetHeader("X-User-Role")}
			if err := binding.Validator.ValidateStruct(&req); err == nil {
				s.Set("user_id", req.UserID)
				s.Set("role", req.Role)
				_ = s.Save()
			}
		}
		if uid, ok := s.Get("user_id").(string); ok && uid != "" {
			c.Set("user_id", uid)
			if role, ok := s.Get("role").(string); ok {
				c.Set("role", role)
			}
		}
		c.Next()
	}
}

// RequireIdentity rejects callers without a user id.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("user_id") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"type": "error", "error": "identity_required"})
			return
		}
		c.Next()
	}
}

func (a *api) setIdentity(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badPayload(c, err)
		return
	}
	s := sessions.Default(c)
	s.Set("user_id", req.UserID)
	s.Set("role", req.Role)
	if err := s.Save(); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (a *api) getIdentity(c *gin.Context) {
	uid, role := callerOf(c)
	c.JSON(http.StatusOK, identityRequest{UserID: string(uid), Role: string(role)})
}
