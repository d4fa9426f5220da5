package model

import "time"

// User is an account known to the built-in session authority. Passwords are
// stored as bcrypt hashes.
type User struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	PasswordHash string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	IsActive     bool       `json:"is_active" db:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Principal returns the identity view of the user.
func (u *User) Principal() Principal {
	return Principal{ID: u.ID, Email: u.Email}
}
