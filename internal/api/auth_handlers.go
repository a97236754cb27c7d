package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-green-corridor/internal/auth"
	"github.com/mr1hm/go-green-corridor/internal/models"
	"github.com/mr1hm/go-green-corridor/internal/registry"
	"github.com/mr1hm/go-green-corridor/internal/session"
	"github.com/mr1hm/go-green-corridor/internal/upload"
)

const signUpRoute = "/signup"

type authResponse struct {
	auth.Token
	Route        string              `json:"route"`
	Profile      *models.UserProfile `json:"profile,omitempty"`
	NeedsProfile bool                `json:"needsProfile,omitempty"`
	Prefill      *prefill            `json:"prefill,omitempty"`
}

type prefill struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

func authError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		abort(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrEmailInUse):
		abort(c, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidEmail):
		abort(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrFederationUnavailable):
		abort(c, http.StatusNotImplemented, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		abort(c, http.StatusUnauthorized, err.Error())
	default:
		slog.Error("authentication failed", "error", err)
		abort(c, http.StatusInternalServerError, "authentication failed")
	}
}

// signUp accepts a multipart form with an optional profile image.
func (h *Handler) signUp(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")
	fullName := strings.TrimSpace(c.PostForm("fullName"))

	if password != c.PostForm("confirmPassword") {
		abort(c, http.StatusBadRequest, "passwords do not match")
		return
	}
	role, err := models.ParseRole(c.PostForm("role"))
	if err != nil {
		abort(c, http.StatusBadRequest, "please select a role")
		return
	}

	ctx := c.Request.Context()
	id, err := h.Auth.SignUp(ctx, email, password, fullName)
	if err != nil {
		authError(c, err)
		return
	}

	p := models.UserProfile{UID: id.UID, FullName: fullName, Email: id.Email, Role: role}
	if url := h.uploadImage(c); url != "" {
		p.ProfileImage = &url
	}

	created, err := h.Registry.CreateProfile(ctx, p)
	if err != nil {
		slog.Error("failed to create profile", "uid", id.UID, "error", err)
		abort(c, http.StatusInternalServerError, "failed to create profile")
		return
	}

	token, err := h.Auth.IssueToken(id)
	if err != nil {
		authError(c, err)
		return
	}
	slog.Info("account created", "uid", id.UID, "role", role)
	c.JSON(http.StatusCreated, authResponse{Token: token, Route: role.Route(), Profile: created})
}

// uploadImage stores the optional image field. Failures leave the account
// without an image.
func (h *Handler) uploadImage(c *gin.Context) string {
	file, err := c.FormFile("image")
	if err != nil || h.Uploader == nil {
		return ""
	}
	f, err := file.Open()
	if err != nil {
		slog.Warn("failed to read profile image", "error", err)
		return ""
	}
	defer f.Close()

	res, err := h.Uploader.Upload(c.Request.Context(), file.Filename, f)
	if err != nil || !res.Success {
		if !errors.Is(err, upload.ErrNotConfigured) {
			slog.Warn("profile image upload failed", "error", err)
		}
		return ""
	}
	return res.URL
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !bind(c, &req) {
		return
	}

	id, err := h.Auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		authError(c, err)
		return
	}
	token, err := h.Auth.IssueToken(id)
	if err != nil {
		authError(c, err)
		return
	}

	resp := authResponse{Token: token, Route: session.EntryRoute}
	p, err := h.Registry.User(c.Request.Context(), id.UID)
	switch {
	case err == nil:
		resp.Route = p.Role.Route()
		resp.Profile = p
	case errors.Is(err, registry.ErrNotFound):
		slog.Warn("signed in without a profile", "uid", id.UID)
	default:
		slog.Error("failed to load profile", "uid", id.UID, "error", err)
	}
	c.JSON(http.StatusOK, resp)
}

// federatedLogin sends new identities to sign-up with their details prefilled.
func (h *Handler) federatedLogin(c *gin.Context) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if !bind(c, &req) {
		return
	}

	id, isNew, err := h.Auth.SignInFederated(c.Request.Context(), req.IDToken)
	if err != nil {
		authError(c, err)
		return
	}
	token, err := h.Auth.IssueToken(id)
	if err != nil {
		authError(c, err)
		return
	}

	resp := authResponse{Token: token}
	p, err := h.Registry.User(c.Request.Context(), id.UID)
	if err == nil {
		resp.Route = p.Role.Route()
		resp.Profile = p
	} else {
		if !errors.Is(err, registry.ErrNotFound) {
			slog.Error("failed to load profile", "uid", id.UID, "error", err)
		}
		resp.Route = signUpRoute
		resp.NeedsProfile = true
		resp.Prefill = &prefill{Email: id.Email, FullName: id.DisplayName}
	}
	slog.Info("federated sign-in", "uid", id.UID, "new", isNew, "route", resp.Route)
	c.JSON(http.StatusOK, resp)
}

// completeProfile creates the profile of an identity that has none yet.
func (h *Handler) completeProfile(c *gin.Context) {
	var req struct {
		FullName     string  `json:"fullName"`
		Role         string  `json:"role"`
		ProfileImage *string `json:"profileImage"`
	}
	if !bind(c, &req) {
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		abort(c, http.StatusBadRequest, "please select a role")
		return
	}

	id := identity(c)
	ctx := c.Request.Context()
	if _, err := h.Registry.User(ctx, id.UID); err == nil {
		abort(c, http.StatusConflict, "profile already exists")
		return
	}

	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		fullName = id.DisplayName
	}
	created, err := h.Registry.CreateProfile(ctx, models.UserProfile{
		UID:          id.UID,
		FullName:     fullName,
		Email:        id.Email,
		Role:         role,
		ProfileImage: req.ProfileImage,
	})
	if err != nil {
		slog.Error("failed to create profile", "uid", id.UID, "error", err)
		abort(c, http.StatusInternalServerError, "failed to create profile")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"route": role.Route(), "profile": created})
}

func (h *Handler) logout(c *gin.Context) {
	id := identity(c)
	if err := h.Auth.SignOut(c.Request.Context(), c.GetString(keyToken)); err != nil {
		slog.Warn("sign-out failed", "uid", id.UID, "error", err)
	}
	h.Locks.Allow(id.UID, session.NavigateLogout)
	c.JSON(http.StatusOK, gin.H{"route": session.EntryRoute})
}

func (h *Handler) me(c *gin.Context) {
	id := identity(c)
	resp := gin.H{"identity": id}
	if p, err := h.Registry.User(c.Request.Context(), id.UID); err == nil {
		resp["profile"] = p
	}
	c.JSON(http.StatusOK, resp)
}
