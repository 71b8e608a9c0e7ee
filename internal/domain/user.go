package domain

import "time"

// Role grants access to admin mutations
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is an account allowed to sign in to the API
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsAdmin reports whether the user may mutate players
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
