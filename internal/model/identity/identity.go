package identity

// Role distinguishes the two care parties plus administrative staff.
type Role string

const (
	RolePatient   Role = "patient"
	RoleClinician Role = "clinician"
	RoleAdmin     Role = "admin"
)

// Valid reports whether the role is one the gateway accepts.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleClinician, RoleAdmin:
		return true
	}
	return false
}

// Identity is derived once from the validated credential at connection time
// and stays immutable for the connection's lifetime.
type Identity struct {
	UserID      string `json:"userId"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
}
