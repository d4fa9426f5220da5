package model

import "time"

// StoredKey is the persisted form of an API key. It carries the bcrypt digest
// of the secret but never the secret itself; the plaintext only ever exists
// in a NewKey returned from the create path.
type StoredKey struct {
	ID        string     `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	OwnerID   string     `json:"owner" db:"owner_id"`
	KeyPrefix string     `json:"-" db:"key_prefix"` // first 8 hex chars, lookup index only
	KeyHash   string     `json:"-" db:"key_hash"`   // bcrypt digest, never expose
	CreatedAt time.Time  `json:"created" db:"created_at"`
	LastUsed  *time.Time `json:"last_used" db:"last_used"`
	RevokedAt *time.Time `json:"-" db:"revoked_at"`
}

// Active reports whether the key has not been revoked.
func (k *StoredKey) Active() bool {
	return k.RevokedAt == nil
}

// Summary returns the redacted listing view of the key.
func (k *StoredKey) Summary() KeySummary {
	return KeySummary{
		ID:       k.ID,
		Name:     k.Name,
		Created:  k.CreatedAt,
		LastUsed: k.LastUsed,
	}
}

// NewKey is the result of creating an API key. Key holds the plaintext secret
// and is handed to the owner exactly once.
type NewKey struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// KeySummary is the metadata-only view of an API key returned by listings.
type KeySummary struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Created  time.Time  `json:"created"`
	LastUsed *time.Time `json:"last_used"`
}
