package model

import (
	"errors"
	"time"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// ErrEmailTaken is returned when an account with the same email exists.
var ErrEmailTaken = errors.New("email already registered")

type Account struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// IsAdmin reports whether the account holds the admin role.
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}
