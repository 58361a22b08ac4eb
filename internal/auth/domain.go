package auth

import (
	"time"

	"github.com/atrium-cms/atrium/internal/authz"
)

// User represents an account able to authenticate.
type User struct {
	ID              int64
	Email           string
	Name            string
	PasswordHash    string
	Role            authz.Role
	IsActive        bool
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
