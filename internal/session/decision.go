package session

import "github.com/mr1hm/go-green-corridor/internal/models"

type View string

const (
	ViewRedirect             View = "redirect"
	ViewLoading              View = "loading"
	ViewAwaitingVerification View = "awaiting_verification"
	ViewSuspended            View = "suspended"
	ViewDashboard            View = "dashboard"
)

// EntryRoute is where unauthenticated visitors are sent.
const EntryRoute = "/"

type Decision struct {
	View       View                `json:"view"`
	RedirectTo string              `json:"redirectTo,omitempty"`
	Profile    *models.UserProfile `json:"profile,omitempty"`
}

// Decide applies the dashboard access policy to the latest profile
// observation for the route being viewed. The stored role always wins
// over the requested route, except for admins who may view any dashboard.
func Decide(authenticated bool, u ProfileUpdate, route string) Decision {
	if !authenticated {
		return Decision{View: ViewRedirect, RedirectTo: EntryRoute}
	}
	p := u.Profile
	if p == nil || u.Missing || u.Err != nil || !p.Role.Valid() {
		return Decision{View: ViewLoading}
	}

	routeRole, onDashboard := models.RoleFromRoute(route)
	if !onDashboard || (routeRole != p.Role && p.Role != models.RoleAdmin) {
		return Decision{View: ViewRedirect, RedirectTo: p.Role.Route(), Profile: p}
	}

	switch p.Status {
	case models.StatusPending, "":
		return Decision{View: ViewAwaitingVerification, Profile: p}
	case models.StatusSuspended:
		return Decision{View: ViewSuspended, Profile: p}
	default:
		return Decision{View: ViewDashboard, Profile: p}
	}
}
