package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-green-corridor/internal/session"
	"github.com/mr1hm/go-green-corridor/internal/sse"
)

const eventDecision = "decision"

func (h *Handler) sessionDecision(c *gin.Context) {
	route := c.Query("route")
	if !authenticated(c) {
		c.JSON(http.StatusOK, session.Decide(false, session.ProfileUpdate{}, route))
		return
	}
	u := h.Profiles.Load(c.Request.Context(), identity(c).UID)
	c.JSON(http.StatusOK, session.Decide(true, u, route))
}

// sessionStream re-evaluates the access decision on every profile change.
func (h *Handler) sessionStream(c *gin.Context) {
	route := c.Query("route")
	if !authenticated(c) {
		w, err := sse.Start(c)
		if err != nil {
			abort(c, http.StatusInternalServerError, err.Error())
			return
		}
		w.Send(sse.Event{Name: eventDecision, Data: session.Decide(false, session.ProfileUpdate{}, route)})
		return
	}

	updates, err := h.Profiles.Watch(c.Request.Context(), identity(c).UID)
	if err != nil {
		abort(c, http.StatusInternalServerError, "failed to watch profile")
		return
	}
	sse.Serve(c, h.PingInterval, updates, func(u session.ProfileUpdate) (sse.Event, bool) {
		return sse.Event{Name: eventDecision, Data: session.Decide(true, u, route)}, true
	})
}

func (h *Handler) acquireLock(c *gin.Context) {
	token := h.Locks.Acquire(identity(c).UID)
	c.JSON(http.StatusOK, gin.H{"token": strconv.FormatUint(token, 10)})
}

func (h *Handler) releaseLock(c *gin.Context) {
	token, err := strconv.ParseUint(c.Param("token"), 10, 64)
	if err != nil {
		abort(c, http.StatusBadRequest, "invalid lock token")
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": h.Locks.Release(identity(c).UID, token)})
}

func (h *Handler) navigate(c *gin.Context) {
	var req struct {
		Action session.Navigation `json:"action"`
	}
	if !bind(c, &req) {
		return
	}
	switch req.Action {
	case session.NavigateBack, session.NavigateRoute, session.NavigateLogout:
	default:
		abort(c, http.StatusBadRequest, "unknown navigation action")
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": h.Locks.Allow(identity(c).UID, req.Action)})
}
