package auth

import "context"

const (
	RolePatient    = "patient"
	RoleClinic     = "clinic"
	RolePharmacy   = "pharmacy"
	RoleSuperAdmin = "superadmin"
)

// Principal is the authenticated caller: a user acting for one facility.
type Principal struct {
	UserID       string   `json:"userId"`
	FacilityID   string   `json:"facilityId"`
	FacilityName string   `json:"facilityName,omitempty"`
	Roles        []string `json:"roles"`
}

func (p Principal) HasRole(role string) bool {
	return hasRole(p.Roles, role)
}

func (p Principal) IsSuperAdmin() bool {
	return hasRole(p.Roles, RoleSuperAdmin)
}

// PrincipalFromContext returns the caller stored by the auth middleware.
// ok is false when the request was not authenticated.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	uid, ok := ctx.Value(UserIDKey).(string)
	if !ok {
		return Principal{}, false
	}
	p := Principal{UserID: uid, Roles: RolesFromContext(ctx)}
	p.FacilityID, _ = ctx.Value(FacilityIDKey).(string)
	p.FacilityName, _ = ctx.Value(FacilityNameKey).(string)
	return p, true
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
