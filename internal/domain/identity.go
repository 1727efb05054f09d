package domain

// Identity is the authenticated user's profile as returned by the auth
// service. Older deployments report the role as userType.
type Identity struct {
	ID         string `json:"id,omitempty"`
	Email      string `json:"email"`
	FullName   string `json:"full_name,omitempty"`
	Role       string `json:"role,omitempty"`
	UserType   string `json:"userType,omitempty"`
	MatricNo   string `json:"matric_no,omitempty"`
	School     string `json:"school,omitempty"`
	Department string `json:"department,omitempty"`
	Level      string `json:"level,omitempty"`
}

// RoleName returns the role used for authorization decisions.
func (i Identity) RoleName() string {
	if i.Role != "" {
		return i.Role
	}
	return i.UserType
}

// Registration carries the sign-up form fields.
type Registration struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	MatricNo   string `json:"matric_no,omitempty"`
	School     string `json:"school,omitempty"`
	Department string `json:"department,omitempty"`
	Level      string `json:"level,omitempty"`
}

// Credentials carries the login form fields.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
