package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/letterforge/letterforge/internal/provider/resilience"
)

// Password verification errors.
var (
	ErrInvalidPassword     = errors.New("invalid password")
	ErrIdentityUnavailable = errors.New("identity provider unavailable")
)

// PasswordVerifier re-checks a user's password out of band.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) error
}

// IdentityClientConfig configures the identity provider client.
type IdentityClientConfig struct {
	BaseURL string
	APIKey  string
	Client  *resilience.Client
}

// IdentityClient verifies passwords with the identity provider's
// password grant. A successful grant proves the password; the issued session
// is discarded.
type IdentityClient struct {
	baseURL string
	apiKey  string
	client  *resilience.Client
}

// NewIdentityClient creates an identity provider client.
func NewIdentityClient(cfg IdentityClientConfig) *IdentityClient {
	client := cfg.Client
	if client == nil {
		client = resilience.NewClient(resilience.DefaultClientConfig("identity"))
	}
	return &IdentityClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}
}

type passwordGrant struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyPassword returns nil when the credentials are accepted,
// ErrInvalidPassword when rejected, and ErrIdentityUnavailable otherwise.
func (c *IdentityClient) VerifyPassword(ctx context.Context, email, password string) error {
	body, err := json.Marshal(passwordGrant{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("encode password grant: %w", err)
	}

	url := c.baseURL + "/token?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build password grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIdentityUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return ErrInvalidPassword
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrIdentityUnavailable, resp.StatusCode)
	}
}

var _ PasswordVerifier = (*IdentityClient)(nil)
