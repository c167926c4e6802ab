package domain

import (
	"context"
	"time"
)

// User is the identity a chat connection acts as.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// DisplayName falls back to the email when no name was set.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// UserRepository defines the contract for user lookups. It lives in the
// domain because it's a requirement OF the domain, not of the database
// implementation.
type UserRepository interface {
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	CreateUser(ctx context.Context, user *User) (*User, error)
}
