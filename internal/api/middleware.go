package api

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-green-corridor/internal/auth"
	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/registry"
)

const (
	keyIdentity = "identity"
	keyToken    = "token"
	keyProfile  = "profile"
)

// requestToken reads the bearer header, or the access_token query
// parameter used by EventSource clients.
func requestToken(c *gin.Context) string {
	if t := auth.BearerToken(c.GetHeader("Authorization")); t != "" {
		return t
	}
	return c.Query("access_token")
}

func (h *Handler) verify(c *gin.Context) bool {
	token := requestToken(c)
	if token == "" {
		return false
	}
	id, err := h.Auth.Verify(c.Request.Context(), token)
	if err != nil {
		return false
	}
	c.Set(keyIdentity, id)
	c.Set(keyToken, token)
	return true
}

func (h *Handler) authenticate(c *gin.Context) {
	if !h.verify(c) {
		abort(c, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
		return
	}
	c.Next()
}

func (h *Handler) optionalAuth(c *gin.Context) {
	h.verify(c)
	c.Next()
}

// loadProfile attaches the caller's profile; callers without one are sent
// back to the entry route.
func (h *Handler) loadProfile(c *gin.Context) {
	id := identity(c)
	p, err := h.Registry.User(c.Request.Context(), id.UID)
	if errors.Is(err, registry.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "profile not found", "route": "/"})
		return
	}
	if err != nil {
		slog.Error("failed to load profile", "uid", id.UID, "error", err)
		abort(c, http.StatusInternalServerError, "failed to load profile")
		return
	}
	c.Set(keyProfile, p)
	c.Next()
}

// requireRole admits verified profiles whose role is listed; no roles admits
// every verified profile.
func (h *Handler) requireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := profile(c)
		if p.Status != models.StatusVerified {
			abort(c, http.StatusForbidden, "account is not verified")
			return
		}
		if len(roles) > 0 && !slices.Contains(roles, p.Role) {
			abort(c, http.StatusForbidden, "not allowed for role "+string(p.Role))
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) auth.Identity {
	v, _ := c.Get(keyIdentity)
	id, _ := v.(auth.Identity)
	return id
}

func authenticated(c *gin.Context) bool {
	_, ok := c.Get(keyIdentity)
	return ok
}

func profile(c *gin.Context) *models.UserProfile {
	v, _ := c.Get(keyProfile)
	p, _ := v.(*models.UserProfile)
	if p == nil {
		return &models.UserProfile{}
	}
	return p
}
