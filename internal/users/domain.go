package users

import (
	"time"

	"github.com/atrium-cms/atrium/internal/authz"
)

// User represents a user account for administration.
type User struct {
	ID              int64
	Email           string
	Name            string
	Role            authz.Role
	IsActive        bool
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
