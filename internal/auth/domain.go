package auth

import "time"

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	// Role is the rbac role identifier loaded once at login.
	Role      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
