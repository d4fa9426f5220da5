package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/keygate/keygate/internal/model"
)

// Store persists API keys and local user accounts. It runs on SQLite by
// default and on PostgreSQL or MySQL when configured.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore creates a SQLite-backed store in dataDir. Pass empty string for
// in-memory.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		return Open(DriverSQLite, "")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := filepath.Join(dataDir, "keygate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	return Open(DriverSQLite, dsn)
}

// Open connects to the store database for driver and applies migrations.
func Open(driver, dsn string) (*Store, error) {
	driver, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	dsn, err = prepareDSN(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Connect(sqlDriverName(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s store: %w", driver, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Driver returns the normalized driver name.
func (s *Store) Driver() string {
	return s.driver
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// now returns the current time at the precision every backend can store.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. KeyHash and KeyPrefix must
// already be set. ID and CreatedAt are populated when empty.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.StoredKey) error {
	if key.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		key.ID = id
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now()
	}

	const q = `INSERT INTO api_keys
		(id, name, owner_id, key_prefix, key_hash, created_at)
		VALUES
		(:id, :name, :owner_id, :key_prefix, :key_hash, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert api key: %w", ErrConflict)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey returns the key with id, revoked or not.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.StoredKey, error) {
	var key model.StoredKey
	q := s.db.Rebind("SELECT * FROM api_keys WHERE id = ?")
	if err := s.db.GetContext(ctx, &key, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeysByOwner returns the owner's active keys, newest first.
func (s *Store) ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]model.StoredKey, error) {
	keys := []model.StoredKey{}
	q := s.db.Rebind(`SELECT * FROM api_keys
		WHERE owner_id = ? AND revoked_at IS NULL
		ORDER BY created_at DESC, id DESC`)
	if err := s.db.SelectContext(ctx, &keys, q, ownerID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// FindActiveAPIKeysByPrefix returns the active keys whose secret starts
// with prefix. Prefixes are not unique, so callers must still compare
// digests.
func (s *Store) FindActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]model.StoredKey, error) {
	keys := []model.StoredKey{}
	q := s.db.Rebind("SELECT * FROM api_keys WHERE key_prefix = ? AND revoked_at IS NULL")
	if err := s.db.SelectContext(ctx, &keys, q, prefix); err != nil {
		return nil, fmt.Errorf("find api keys by prefix: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks the key revoked on behalf of ownerID. The ownership
// check and the update run in one transaction, and the update only applies
// to a key that is still active, so concurrent revocations of the same key
// succeed exactly once. Unknown and already-revoked keys yield ErrNotFound;
// a key owned by someone else yields ErrForbidden.
func (s *Store) RevokeAPIKey(ctx context.Context, id, ownerID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revoke: %w", err)
	}
	defer tx.Rollback()

	var current struct {
		OwnerID   string     `db:"owner_id"`
		RevokedAt *time.Time `db:"revoked_at"`
	}
	q := tx.Rebind("SELECT owner_id, revoked_at FROM api_keys WHERE id = ?")
	if err := tx.GetContext(ctx, &current, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("load api key: %w", err)
	}
	if current.RevokedAt != nil {
		return ErrNotFound
	}
	if current.OwnerID != ownerID {
		return ErrForbidden
	}

	result, err := tx.ExecContext(ctx,
		tx.Rebind("UPDATE api_keys SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL"),
		now(), id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revoke: %w", err)
	}
	return nil
}

// TouchAPIKey records a successful use of the key.
func (s *Store) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE api_keys SET last_used = ? WHERE id = ? AND revoked_at IS NULL"),
		at.UTC().Truncate(time.Microsecond), id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeRevokedAPIKeys deletes keys revoked before cutoff and returns how
// many were removed. Active keys are never touched.
func (s *Store) PurgeRevokedAPIKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("DELETE FROM api_keys WHERE revoked_at IS NOT NULL AND revoked_at < ?"),
		cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge revoked api keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge revoked api keys rows affected: %w", err)
	}
	return n, nil
}

// CountActiveAPIKeys returns the number of keys that have not been revoked.
func (s *Store) CountActiveAPIKeys(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM api_keys WHERE revoked_at IS NULL"); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. The ID, CreatedAt, and UpdatedAt fields on
// user are populated.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	id, err := newID()
	if err != nil {
		return err
	}
	ts := now()
	user.ID = id
	user.CreatedAt = ts
	user.UpdatedAt = ts

	const q = `INSERT INTO users
		(id, email, name, password_hash, is_active, created_at, updated_at)
		VALUES
		(:id, :email, :name, :password_hash, :is_active, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, user); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user %s: %w", user.Email, ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.db.Rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.db.Rebind("SELECT * FROM users WHERE email = ?"), email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &user, nil
}

// ListUsers returns all users ordered by email.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY email"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// TouchUserLogin sets the last_login_at timestamp for a user.
func (s *Store) TouchUserLogin(ctx context.Context, id string) error {
	ts := now()
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?"), ts, ts, id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserActive enables or disables a user. Disabled users cannot log in
// and their outstanding tokens stop verifying.
func (s *Store) SetUserActive(ctx context.Context, email string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE users SET is_active = ?, updated_at = ? WHERE email = ?"), active, now(), email)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasAnyUser reports whether at least one user exists.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}
