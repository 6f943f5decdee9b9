package auth

// Role is the caller's role as asserted by the identity provider.
type Role string

const (
	RoleClient     Role = "client"
	RoleSupplier   Role = "supplier"
	RoleVenueOwner Role = "venue_owner"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleSupplier, RoleVenueOwner, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller of a request. It is passed explicitly into every service
// call instead of being read from ambient state.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the actor has platform-wide read access.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Authenticated reports whether the actor carries a user id.
func (a Actor) Authenticated() bool {
	return a.UserID != ""
}
