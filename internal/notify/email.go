package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/letterforge/letterforge/internal/provider/resilience"
)

// EmailClientConfig configures the transactional email client.
type EmailClientConfig struct {
	BaseURL     string
	APIKey      string
	FromAddress string
	Client      *resilience.Client
}

// EmailClient sends template emails through the provider's HTTP API. The
// provider owns template rendering; only the template id and data are sent.
type EmailClient struct {
	baseURL string
	apiKey  string
	from    string
	client  *resilience.Client
}

// NewEmailClient creates an email provider client.
func NewEmailClient(cfg EmailClientConfig) *EmailClient {
	client := cfg.Client
	if client == nil {
		client = resilience.NewClient(resilience.DefaultClientConfig("email"))
	}
	return &EmailClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		from:    cfg.FromAddress,
		client:  client,
	}
}

type emailRequest struct {
	From     string         `json:"from"`
	To       []string       `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
	Tags     []emailTag     `json:"tags,omitempty"`
}

type emailTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SendEmail posts one email to the provider.
func (c *EmailClient) SendEmail(ctx context.Context, msg Message) error {
	payload := emailRequest{
		From:     c.from,
		To:       []string{msg.To},
		Template: string(msg.Template),
		Data:     msg.Data,
		Tags:     []emailTag{{Name: "category", Value: string(msg.Template)}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if msg.DedupeKey != "" {
		req.Header.Set("Idempotency-Key", msg.DedupeKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("send email: unexpected status %d", resp.StatusCode)
	}
	return nil
}

var _ Mailer = (*EmailClient)(nil)
