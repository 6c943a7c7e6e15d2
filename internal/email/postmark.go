package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dukerupert/keygate/internal/model"
)

const defaultAPIURL = "https://api.postmarkapp.com/email"

// ErrNotConfigured is returned when no Postmark server token is set.
var ErrNotConfigured = errors.New("email client not configured: missing server token")

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithAPIURL points the client at a different Postmark endpoint.
func WithAPIURL(u string) Option {
	return func(cl *Client) {
		cl.apiURL = u
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		apiURL:      defaultAPIURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c != nil && c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendToken mails a freshly issued activation token to its recipient.
func (c *Client) SendToken(ctx context.Context, toEmail, token string, plan model.Plan, expiresAt *time.Time) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	validity := "It never expires."
	if expiresAt != nil {
		validity = fmt.Sprintf("Access ends %s.", expiresAt.UTC().Format("January 2, 2006 15:04 MST"))
	}
	link := c.baseURL + "/activate"

	textBody := fmt.Sprintf(
		"Your %s access token:\n\n%s\n\nSign in and enter it at %s to activate. %s\nThe token works once.",
		plan, token, link, validity,
	)
	htmlBody := fmt.Sprintf(
		`<p>Your %s access token:</p><p><code>%s</code></p><p>Sign in and enter it at <a href="%s">%s</a> to activate. %s</p><p>The token works once.</p>`,
		plan, token, link, link, validity,
	)

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  fmt.Sprintf("Your %s access token", plan),
		HtmlBody: htmlBody,
		TextBody: textBody,
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
