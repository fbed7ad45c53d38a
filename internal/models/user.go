package models

// Role is the closed set of access levels assigned in the auth config file.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// CanManagePrompts reports whether the role may create, update, or delete
// prompt templates. Listing and export are open to every role.
func (r Role) CanManagePrompts() bool {
	return r == RoleAdmin || r == RoleEditor
}

// User identifies an authenticated caller. Credentials live in the auth
// config file; only identity and role travel with a request.
type User struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}
