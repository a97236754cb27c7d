// Package api serves the HTTP surface of the service: authentication,
// dashboard access decisions, the installation wizard relay, registry views
// and live streams.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-green-corridor/internal/auth"
	"github.com/mr1hm/go-green-corridor/internal/config"
	"github.com/mr1hm/go-green-corridor/internal/dispatch"
	internalgrpc "github.com/mr1hm/go-green-corridor/internal/grpc"
	"github.com/mr1hm/go-green-corridor/internal/metrics"
	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/registry"
	"github.com/mr1hm/go-green-corridor/internal/session"
	"github.com/mr1hm/go-green-corridor/internal/upload"
	"github.com/mr1hm/go-green-corridor/internal/wizard"
)

// Deps are the collaborators behind the handlers. Uploader and Metrics may be nil.
type Deps struct {
	Auth         auth.Provider
	Registry     *registry.Registry
	Profiles     *session.Resolver
	Locks        *session.NavigationLocks
	Wizards      *wizard.Manager
	Dispatcher   internalgrpc.Runner
	Monitor      *internalgrpc.Broadcaster[dispatch.Notification]
	Uploader     upload.Uploader
	Metrics      *metrics.Metrics
	Map          config.MapConfig
	PingInterval time.Duration
}

type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d}
}

var (
	fieldRoles     = []models.Role{models.RoleAmbulance, models.RoleFire, models.RoleDisaster, models.RolePolice, models.RoleInstaller}
	installerRoles = []models.Role{models.RoleInstaller, models.RoleAdmin}
	adminRoles     = []models.Role{models.RoleAdmin}
)

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.GET("/map/config", h.mapConfig)

	a := api.Group("/auth")
	a.POST("/signup", h.signUp)
	a.POST("/login", h.login)
	a.POST("/federated", h.federatedLogin)
	a.POST("/logout", h.authenticate, h.logout)
	a.GET("/me", h.authenticate, h.me)
	a.POST("/profile", h.authenticate, h.completeProfile)

	api.GET("/session", h.optionalAuth, h.sessionDecision)
	api.GET("/session/stream", h.optionalAuth, h.sessionStream)

	nav := api.Group("/navigation", h.authenticate)
	nav.POST("/lock", h.acquireLock)
	nav.DELETE("/lock/:token", h.releaseLock)
	nav.POST("", h.navigate)

	verified := api.Group("", h.authenticate, h.loadProfile)

	verified.GET("/signals", h.requireRole(), h.listSignals)
	verified.GET("/signals/geojson", h.requireRole(), h.signalsGeoJSON)
	verified.GET("/signals/stream", h.requireRole(), h.signalsStream)
	verified.GET("/requests", h.requireRole(), h.listRequests)
	verified.POST("/requests", h.requireRole(adminRoles...), h.reportRequest)
	verified.POST("/requests/:id/close", h.requireRole(adminRoles...), h.closeRequest)
	verified.GET("/vehicles", h.requireRole(), h.listVehicles)
	verified.PUT("/me/availability", h.requireRole(fieldRoles...), h.setAvailability)

	admin := verified.Group("/admin", h.requireRole(adminRoles...))
	admin.GET("/users", h.listUsers)
	admin.POST("/users/:uid/verify", h.verifyUser)
	admin.POST("/users/:uid/suspend", h.suspendUser)
	admin.GET("/logs", h.listLogs)
	admin.GET("/overview", h.overview)
	admin.GET("/dispatches/stream", h.monitorStream)

	verified.GET("/dispatch/stream", h.requireRole(fieldRoles...), h.dispatchStream)

	wz := verified.Group("/wizard", h.requireRole(installerRoles...))
	wz.POST("", h.openWizard)
	wz.GET("", h.withWorkspace(h.wizardState))
	wz.DELETE("", h.closeWizard)
	wz.GET("/stream", h.withWorkspace(h.wizardStream))
	wz.GET("/devices", h.withWorkspace(h.wizardDevices))
	wz.POST("/scan/decode", h.withWorkspace(h.scanDecode))
	wz.POST("/scan/error", h.withWorkspace(h.scanError))
	wz.POST("/scan/retry", h.withWorkspace(h.scanRetry))
	wz.POST("/scan/stop", h.withWorkspace(h.scanStop))
	wz.POST("/location", h.withWorkspace(h.locationDeliver))
	wz.POST("/location/error", h.withWorkspace(h.locationReject))
	wz.POST("/location/retry", h.withWorkspace(h.locationRetry))
	wz.POST("/orientation/permission", h.withWorkspace(h.orientationPermission))
	wz.POST("/orientation/sample", h.withWorkspace(h.orientationSample))
	wz.POST("/orientation/lock", h.withWorkspace(h.orientationLock))
	wz.POST("/confirm", h.withWorkspace(h.wizardConfirm))
	wz.POST("/finish", h.withWorkspace(h.wizardFinish))
	wz.POST("/cancel", h.withWorkspace(h.cancelRequest))
	wz.POST("/cancel/confirm", h.withWorkspace(h.cancelConfirm))
	wz.POST("/cancel/dismiss", h.withWorkspace(h.cancelDismiss))
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) mapConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tileUrl":     h.Map.TileURL,
		"attribution": h.Map.Attribution,
		"zoom":        h.Map.Zoom,
	})
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
