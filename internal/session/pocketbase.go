package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// DefaultCollection is the PocketBase auth collection used when none is
// configured.
const DefaultCollection = "users"

// DefaultPocketBaseTimeout bounds each call to PocketBase when the caller
// supplies no client.
const DefaultPocketBaseTimeout = 10 * time.Second

// PocketBaseAuthority verifies tokens by asking a PocketBase server to
// refresh them. Refreshing is the cheapest call that both validates the
// token and returns the current record.
type PocketBaseAuthority struct {
	baseURL    string
	collection string
	client     *http.Client
}

// Timeout reports the per-call upper bound on PocketBase requests.
func (a *PocketBaseAuthority) Timeout() time.Duration {
	return a.client.Timeout
}

// NewPocketBaseAuthority creates an authority for the PocketBase instance at
// baseURL. A nil client gets a 10 second timeout.
func NewPocketBaseAuthority(baseURL, collection string, client *http.Client) *PocketBaseAuthority {
	if collection == "" {
		collection = DefaultCollection
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultPocketBaseTimeout}
	}
	return &PocketBaseAuthority{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		client:     client,
	}
}

type pbAuthResponse struct {
	Token  string `json:"token"`
	Record struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"record"`
}

// Verify calls auth-refresh with token. A 401, 403 or 404 answer means the
// token is not valid; any transport failure or other status is reported
// as ErrUnavailable. Failures are not retried.
func (a *PocketBaseAuthority) Verify(ctx context.Context, token string) (*model.Principal, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	resp, err := a.post(ctx, "auth-refresh", token, nil)
	if err != nil {
		return nil, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, ErrInvalidToken
	default:
		return nil, fmt.Errorf("%w: auth-refresh returned %d", ErrUnavailable, resp.status)
	}
	if resp.body.Record.ID == "" {
		return nil, fmt.Errorf("%w: auth-refresh returned no record", ErrUnavailable)
	}
	return &model.Principal{ID: resp.body.Record.ID, Email: resp.body.Record.Email}, nil
}

// Login calls auth-with-password.
func (a *PocketBaseAuthority) Login(ctx context.Context, email, password string) (*Envelope, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	body := map[string]string{"identity": strings.TrimSpace(email), "password": password}
	resp, err := a.post(ctx, "auth-with-password", "", body)
	if err != nil {
		return nil, err
	}
	switch resp.status {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, ErrInvalidCredentials
	default:
		return nil, fmt.Errorf("%w: auth-with-password returned %d", ErrUnavailable, resp.status)
	}
	if resp.body.Token == "" || resp.body.Record.ID == "" {
		return nil, fmt.Errorf("%w: auth-with-password returned an incomplete session", ErrUnavailable)
	}
	return &Envelope{
		Token:     resp.body.Token,
		Principal: model.Principal{ID: resp.body.Record.ID, Email: resp.body.Record.Email},
	}, nil
}

type pbResult struct {
	status int
	body   pbAuthResponse
}

func (a *PocketBaseAuthority) post(ctx context.Context, action, token string, payload interface{}) (*pbResult, error) {
	endpoint := fmt.Sprintf("%s/api/collections/%s/%s", a.baseURL, url.PathEscape(a.collection), action)

	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, action, err)
	}
	defer resp.Body.Close()

	result := &pbResult{status: resp.StatusCode}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&result.body); err != nil {
			return nil, fmt.Errorf("%w: decode %s response: %v", ErrUnavailable, action, err)
		}
	} else {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	}
	return result, nil
}
