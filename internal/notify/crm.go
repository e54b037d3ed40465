package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/letterforge/letterforge/internal/provider/resilience"
)

// CRMClientConfig configures the CRM contact client.
type CRMClientConfig struct {
	BaseURL string
	APIKey  string
	ListID  string
	Client  *resilience.Client
}

// CRMClient keeps the marketing contact list in step with account state.
type CRMClient struct {
	baseURL string
	apiKey  string
	listID  string
	client  *resilience.Client
}

// NewCRMClient creates a CRM client.
func NewCRMClient(cfg CRMClientConfig) *CRMClient {
	client := cfg.Client
	if client == nil {
		client = resilience.NewClient(resilience.DefaultClientConfig("crm"))
	}
	return &CRMClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		listID:  cfg.ListID,
		client:  client,
	}
}

type contactRequest struct {
	Email      string         `json:"email"`
	ExternalID string         `json:"external_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// UpsertContact creates or updates a contact on the configured list.
func (c *CRMClient) UpsertContact(ctx context.Context, contact Contact) error {
	body, err := json.Marshal(contactRequest{
		Email:      contact.Email,
		ExternalID: contact.UserID,
		Attributes: contact.Attributes,
	})
	if err != nil {
		return fmt.Errorf("encode contact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.contactsURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build contact request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, "upsert contact")
}

// DeleteContact removes a contact. A missing contact is not an error.
func (c *CRMClient) DeleteContact(ctx context.Context, email string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.contactsURL()+"/"+url.PathEscape(email), http.NoBody)
	if err != nil {
		return fmt.Errorf("build contact request: %w", err)
	}
	return c.do(req, "delete contact")
}

func (c *CRMClient) contactsURL() string {
	return c.baseURL + "/lists/" + url.PathEscape(c.listID) + "/contacts"
}

func (c *CRMClient) do(req *http.Request, op string) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound && req.Method == http.MethodDelete {
		return nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}
	return nil
}

var _ ContactStore = (*CRMClient)(nil)
