package model

// Principal is an authenticated identity as reported by a session authority.
// Principals are never constructed from client input alone.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
