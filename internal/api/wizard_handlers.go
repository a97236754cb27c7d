package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-green-corridor/internal/device"
	"github.com/mr1hm/go-green-corridor/internal/heading"
	"github.com/mr1hm/go-green-corridor/internal/sse"
	"github.com/mr1hm/go-green-corridor/internal/wizard"
)

const (
	eventState = "state"
	// settleTimeout bounds how long a relayed event waits for the session
	// to apply it before the state is returned.
	settleTimeout = 500 * time.Millisecond
)

type workspaceHandler func(c *gin.Context, ws *wizard.Workspace)

func (h *Handler) withWorkspace(fn workspaceHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, ok := h.Wizards.Get(identity(c).UID)
		if !ok {
			abort(c, http.StatusNotFound, "no installation in progress")
			return
		}
		fn(c, ws)
	}
}

func wizardError(c *gin.Context, ws *wizard.Workspace, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wizard.ErrInvalidStep),
		errors.Is(err, wizard.ErrNotConfirming),
		errors.Is(err, wizard.ErrSubmitting),
		errors.Is(err, wizard.ErrNoHeading),
		errors.Is(err, device.ErrNoActiveScan),
		errors.Is(err, device.ErrNoPendingRequest),
		errors.Is(err, device.ErrNotListening):
		status = http.StatusConflict
	case errors.Is(err, device.ErrStaleFix):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, device.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, wizard.ErrClosed), errors.Is(err, wizard.ErrDiscarded):
		status = http.StatusGone
	default:
		slog.Error("wizard action failed", "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "state": ws.Session.State()})
}

func respondState(c *gin.Context, ws *wizard.Workspace, err error) {
	if err != nil {
		wizardError(c, ws, err)
		return
	}
	c.JSON(http.StatusOK, ws.Session.State())
}

// settle waits for the change signalled on changed, for relayed events the
// session applies asynchronously.
func settle(changed <-chan struct{}) {
	select {
	case <-changed:
	case <-time.After(settleTimeout):
	}
}

func (h *Handler) openWizard(c *gin.Context) {
	var req struct {
		OrientationRequiresPermission bool `json:"orientationRequiresPermission"`
	}
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}

	id := identity(c)
	name := id.DisplayName
	if strings.TrimSpace(name) == "" {
		name = profile(c).FullName
	}
	ws, err := h.Wizards.Open(id.UID, wizard.Installer{DisplayName: name, Email: id.Email})
	if err != nil {
		slog.Error("failed to open wizard", "uid", id.UID, "error", err)
		abort(c, http.StatusInternalServerError, "failed to start installation")
		return
	}
	ws.Devices.Orientation.SetRequiresPermission(req.OrientationRequiresPermission)
	c.JSON(http.StatusCreated, ws.Session.State())
}

func (h *Handler) closeWizard(c *gin.Context) {
	h.Wizards.Close(identity(c).UID)
	c.Status(http.StatusNoContent)
}

func (h *Handler) wizardState(c *gin.Context, ws *wizard.Workspace) {
	c.JSON(http.StatusOK, ws.Session.State())
}

// wizardStream pushes the state after every change until the session closes.
func (h *Handler) wizardStream(c *gin.Context, ws *wizard.Workspace) {
	w, err := sse.Start(c)
	if err != nil {
		abort(c, http.StatusInternalServerError, err.Error())
		return
	}
	interval := h.PingInterval
	if interval <= 0 {
		interval = sse.DefaultPingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	for {
		changed := ws.Session.Changes()
		if err := w.Send(sse.Event{Name: eventState, Data: ws.Session.State()}); err != nil {
			return
		}
		for waiting := true; waiting; {
			select {
			case <-c.Request.Context().Done():
				return
			case <-ping.C:
				if err := w.Ping(); err != nil {
					return
				}
			case <-changed:
				waiting = false
			}
		}
		if cur, ok := h.Wizards.Get(identity(c).UID); !ok || cur != ws {
			return
		}
	}
}

// wizardDevices tells the browser which devices it should be relaying.
func (h *Handler) wizardDevices(c *gin.Context, ws *wizard.Workspace) {
	resp := gin.H{
		"camera":      nil,
		"location":    nil,
		"orientation": gin.H{"listening": ws.Devices.Orientation.Listening() > 0, "requiresPermission": ws.Devices.Orientation.RequiresPermission()},
	}
	if cons, ok := ws.Devices.Decoder.Constraints(); ok {
		resp["camera"] = cons
	}
	if opts, ok := ws.Devices.Geolocator.Pending(); ok {
		resp["location"] = gin.H{
			"enableHighAccuracy": opts.HighAccuracy,
			"timeoutMs":          opts.Timeout.Milliseconds(),
			"maximumAgeMs":       opts.MaxAge.Milliseconds(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) scanDecode(c *gin.Context, ws *wizard.Workspace) {
	var req struct {
		Payload string `json:"payload"`
	}
	if !bind(c, &req) {
		return
	}
	respondState(c, ws, ws.Devices.Decoder.Feed(req.Payload))
}

// scanError relays a browser scanner error. Named media errors are camera
// failures; anything else is a per-frame decode miss.
func (h *Handler) scanError(c *gin.Context, ws *wizard.Workspace) {
	var req struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	}
	if !bind(c, &req) {
		return
	}
	var err error = errors.New(req.Message)
	if kind, ok := device.ParseCameraErrorKind(req.Name); ok {
		err = &device.CameraError{Kind: kind, Message: req.Message}
	}
	respondState(c, ws, ws.Devices.Decoder.Fault(err))
}

func (h *Handler) scanRetry(c *gin.Context, ws *wizard.Workspace) {
	respondState(c, ws, ws.Session.RetryScan())
}

func (h *Handler) scanStop(c *gin.Context, ws *wizard.Workspace) {
	respondState(c, ws, ws.Session.StopScan())
}

func (h *Handler) locationDeliver(c *gin.Context, ws *wizard.Workspace) {
	var fix device.Fix
	if !bind(c, &fix) {
		return
	}
	changed := ws.Session.Changes()
	if err := ws.Devices.Geolocator.Deliver(fix); err != nil {
		wizardError(c, ws, err)
		return
	}
	settle(changed)
	c.JSON(http.StatusOK, ws.Session.State())
}

func (h *Handler) locationReject(c *gin.Context, ws *wizard.Workspace) {
	var req struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if !bind(c, &req) {
		return
	}
	code := device.GeoErrorCode(req.Code)
	if code < device.GeoPermissionDenied || code > device.GeoUnsupported {
		code = device.GeoPositionUnavailable
	}
	changed := ws.Session.Changes()
	if err := ws.Devices.Geolocator.Reject(&device.GeoError{Code: code, Message: req.Message}); err != nil {
		wizardError(c, ws, err)
		return
	}
	settle(changed)
	c.JSON(http.StatusOK, ws.Session.State())
}

func (h *Handler) locationRetry(c *gin.Context, ws *wizard.Workspace) {
	respondState(c, ws, ws.Session.RetryLocate())
}

// orientationPermission relays the outcome of the browser permission prompt.
func (h *Handler) orientationPermission(c *gin.Context, ws *wizard.Workspace) {
	var req struct {
		Granted bool `json:"granted"`
	}
	if !bind(c, &req) {
		return
	}
	ws.Devices.Orientation.SetPermission(req.Granted)
	respondState(c, ws, ws.Session.RequestOrientationPermission(c.Request.Context()))
}

func (h *Handler) orientationSample(c *gin.Context, ws *wizard.Workspace) {
	var sample heading.Sample
	if !bind(c, &sample) {
		return
	}
	if _, ok := heading.Raw(sample); !ok {
		abort(c, http.StatusBadRequest, "sample carries no heading")
		return
	}
	respondState(c, ws, ws.Devices.Orientation.Push(sample))
}

func (h *Handler) orientationLock(c *gin.Context, ws *wizard.Workspace) {
	_, err := ws.Session.LockDirection()
	respondState(c, ws, err)
}

func (h *Handler) wizardConfirm(c *gin.Context, ws *wizard.Workspace) {
	id, err := ws.Session.Confirm(c.Request.Context())
	if err != nil {
		wizardError(c, ws, err)
		return
	}
	if h.Metrics != nil {
		h.Metrics.RecordSignalRegistered()
	}
	c.JSON(http.StatusCreated, ws.Session.State())
	slog.Info("installation committed", "uid", identity(c).UID, "signal_id", id)
}

func (h *Handler) wizardFinish(c *gin.Context, ws *wizard.Workspace) {
	respondState(c, ws, ws.Session.Finish())
}

func (h *Handler) cancelRequest(c *gin.Context, ws *wizard.Workspace) {
	respondState(c, ws, ws.Session.RequestCancel())
}

func (h *Handler) cancelConfirm(c *gin.Context, ws *wizard.Workspace) {
	respondState(c, ws, ws.Session.ConfirmCancel())
}

func (h *Handler) cancelDismiss(c *gin.Context, ws *wizard.Workspace) {
	respondState(c, ws, ws.Session.DismissCancel())
}
