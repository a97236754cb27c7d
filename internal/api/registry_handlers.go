package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/registry"
	"github.com/mr1hm/go-green-corridor/internal/sse"
	"github.com/mr1hm/go-green-corridor/internal/store"
)

const eventSignals = "signals"

func registryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		abort(c, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrInvalidInput):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, registry.ErrNotFieldUnit):
		abort(c, http.StatusForbidden, err.Error())
	default:
		slog.Error("registry action failed", "error", err)
		abort(c, http.StatusInternalServerError, "request failed")
	}
}

func (h *Handler) listSignals(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registry.Signals(c.Request.Context()))
}

func (h *Handler) signalsGeoJSON(c *gin.Context) {
	fc := signalsToGeoJSON(h.Registry.Signals(c.Request.Context()))
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

// signalsStream sends the full list on connect and after every change.
func (h *Handler) signalsStream(c *gin.Context) {
	ctx := c.Request.Context()
	sub, err := h.Registry.Watch(ctx, store.CollectionSignals)
	if err != nil {
		slog.Error("failed to watch signals", "error", err)
		abort(c, http.StatusInternalServerError, "failed to watch signals")
		return
	}
	defer sub.Close()

	sse.Serve(c, h.PingInterval, sub.C, func(snap store.Snapshot) (sse.Event, bool) {
		if snap.Err != nil {
			slog.Warn("signal stream interrupted", "error", snap.Err)
			return sse.Event{}, false
		}
		return sse.Event{Name: eventSignals, Data: h.Registry.Signals(ctx)}, true
	})
}

func (h *Handler) listRequests(c *gin.Context) {
	requests := h.Registry.Requests(c.Request.Context())
	if c.Query("format") == "geojson" {
		c.Header("Content-Type", "application/geo+json")
		c.JSON(http.StatusOK, alertsToGeoJSON(requests))
		return
	}
	c.JSON(http.StatusOK, requests)
}

func (h *Handler) reportRequest(c *gin.Context) {
	var req struct {
		Type        string          `json:"type"`
		Location    models.GeoPoint `json:"location"`
		Description string          `json:"description"`
	}
	if !bind(c, &req) {
		return
	}
	t, err := models.ParseAlertType(req.Type)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	loc, err := models.NewGeoPoint(req.Location.Latitude, req.Location.Longitude)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.Registry.Report(c.Request.Context(), profile(c).Email, models.EmergencyAlert{
		Type:        t,
		Location:    loc,
		Description: req.Description,
	})
	if err != nil {
		registryError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) closeRequest(c *gin.Context) {
	if err := h.Registry.CloseRequest(c.Request.Context(), profile(c).Email, c.Param("id")); err != nil {
		registryError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listVehicles(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registry.Vehicles(c.Request.Context()))
}

func (h *Handler) setAvailability(c *gin.Context) {
	var req struct {
		Availability string `json:"availability"`
	}
	if !bind(c, &req) {
		return
	}
	a, err := models.ParseAvailability(req.Availability)
	if err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Registry.SetAvailability(c.Request.Context(), profile(c).UID, a); err != nil {
		registryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"availability": a})
}

func (h *Handler) listUsers(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registry.Users(c.Request.Context()))
}

func (h *Handler) verifyUser(c *gin.Context) {
	h.setStatus(c, models.StatusVerified)
}

func (h *Handler) suspendUser(c *gin.Context) {
	h.setStatus(c, models.StatusSuspended)
}

func (h *Handler) setStatus(c *gin.Context, status models.Status) {
	uid := c.Param("uid")
	if err := h.Registry.SetStatus(c.Request.Context(), profile(c).Email, uid, status); err != nil {
		registryError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"uid": uid, "status": status})
}

func (h *Handler) listLogs(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registry.Logs(c.Request.Context()))
}

func (h *Handler) overview(c *gin.Context) {
	c.JSON(http.StatusOK, h.Registry.Overview(c.Request.Context()))
}
