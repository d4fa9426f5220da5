package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/model"
)

const tokenIssuer = "keygate"

// DefaultTokenTTL is the lifetime of tokens issued by LocalAuthority.
const DefaultTokenTTL = 24 * time.Hour

// UserStore is the subset of the config store the local authority reads.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	TouchUserLogin(ctx context.Context, id string) error
}

// LocalAuthority issues and verifies HS256 tokens for users kept in the
// local store. Every Verify re-reads the user so that deactivating an
// account takes effect before its tokens expire.
type LocalAuthority struct {
	users  UserStore
	hasher credential.Hasher
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewLocalAuthority creates a LocalAuthority. A zero ttl selects
// DefaultTokenTTL.
func NewLocalAuthority(users UserStore, hasher credential.Hasher, secret string, ttl time.Duration) *LocalAuthority {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &LocalAuthority{
		users:  users,
		hasher: hasher,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Verify checks the token signature and expiry, then confirms the user
// still exists and is active.
func (a *LocalAuthority) Verify(ctx context.Context, token string) (*model.Principal, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	user, err := a.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.IsActive {
		return nil, ErrInvalidToken
	}

	p := user.Principal()
	return &p, nil
}

// Login checks the password of an active user and issues a token.
func (a *LocalAuthority) Login(ctx context.Context, email, password string) (*Envelope, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := a.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !user.IsActive || !a.hasher.Compare(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := a.Issue(user)
	if err != nil {
		return nil, err
	}

	// Login bookkeeping is best effort.
	_ = a.users.TouchUserLogin(ctx, user.ID)

	return &Envelope{Token: token, Principal: user.Principal()}, nil
}

// Issue signs a token for user.
func (a *LocalAuthority) Issue(user *model.User) (string, error) {
	now := a.now()
	claims := tokenClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TTL returns the lifetime of issued tokens.
func (a *LocalAuthority) TTL() time.Duration {
	return a.ttl
}
