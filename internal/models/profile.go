package models

import (
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleAmbulance Role = "ambulance"
	RoleFire      Role = "fire"
	RoleDisaster  Role = "disaster"
	RolePolice    Role = "police"
	RoleInstaller Role = "installer"
)

// Roles lists every role in dashboard menu order.
var Roles = []Role{RoleAdmin, RoleAmbulance, RoleFire, RoleDisaster, RolePolice, RoleInstaller}

var roleLabels = map[Role]string{
	RoleAdmin:     "Admin",
	RoleAmbulance: "Ambulance",
	RoleFire:      "Fire Engine",
	RoleDisaster:  "Disaster Management",
	RolePolice:    "Traffic Police",
	RoleInstaller: "Traffic Lights Installer",
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleLabels[r]; !ok {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := roleLabels[r]
	return ok
}

func (r Role) Label() string {
	return roleLabels[r]
}

// Route is the dashboard route owned by the role.
func (r Role) Route() string {
	return "/dashboard/" + string(r)
}

// IsField reports whether the role is an operational unit that toggles availability.
func (r Role) IsField() bool {
	return r.Valid() && r != RoleAdmin
}

// RoleFromRoute returns the role owning a /dashboard/{role} route.
func RoleFromRoute(route string) (Role, bool) {
	rest, ok := strings.CutPrefix(route, "/dashboard/")
	if !ok {
		return "", false
	}
	rest = strings.Trim(rest, "/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	r := Role(rest)
	return r, r.Valid()
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusSuspended Status = "suspended"
)

type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityOffline Availability = "offline"
)

func ParseAvailability(s string) (Availability, error) {
	switch a := Availability(strings.ToLower(strings.TrimSpace(s))); a {
	case AvailabilityOnline, AvailabilityOffline:
		return a, nil
	default:
		return "", fmt.Errorf("unknown availability: %q", s)
	}
}

// ProfileSchemaVersion is written into every profile created by this service.
const ProfileSchemaVersion = 1

type UserProfile struct {
	UID           string       `json:"uid"`
	FullName      string       `json:"fullName"`
	Email         string       `json:"email"`
	Role          Role         `json:"role"`
	Status        Status       `json:"status"`
	Availability  Availability `json:"availability,omitempty"`
	ProfileImage  *string      `json:"profileImage"`
	CreatedAt     time.Time    `json:"createdAt"`
	SchemaVersion int          `json:"schemaVersion,omitempty"`
}

// Online reports whether the profile is a field unit currently taking dispatches.
func (p *UserProfile) Online() bool {
	return p.Role.IsField() && p.Availability == AvailabilityOnline
}
