package dispatch

import "github.com/mr1hm/go-green-corridor/internal/models"

// responds lists the alert types each field role is dispatched to, besides
// disaster alerts which go to every field role.
var responds = map[models.Role][]models.AlertType{
	models.RoleAmbulance: {models.AlertTypeAmbulance},
	models.RoleFire:      {models.AlertTypeFire},
	models.RolePolice:    {models.AlertTypePolice},
	models.RoleDisaster:  {models.AlertTypeDisaster},
	models.RoleInstaller: nil,
}

// Relevant reports whether an alert of type t concerns a unit with role.
func Relevant(t models.AlertType, role models.Role) bool {
	if !role.IsField() {
		return false
	}
	if t == models.AlertTypeDisaster {
		return true
	}
	for _, candidate := range responds[role] {
		if candidate == t {
			return true
		}
	}
	return false
}
