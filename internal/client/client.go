// Package client talks to a running keygate server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/keygate/internal/model"
)

const validatePath = "/api/tokens/validate"

// Validation is the server's view of a token.
type Validation struct {
	Valid     bool       `json:"valid"`
	Plan      model.Plan `json:"plan,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type validateRequest struct {
	Token string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client checks tokens against a keygate server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Validate asks the server whether token can still be activated. It never
// claims the token.
func (c *Client) Validate(ctx context.Context, token string) (Validation, error) {
	body, err := json.Marshal(validateRequest{Token: token})
	if err != nil {
		return Validation{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+validatePath, bytes.NewReader(body))
	if err != nil {
		return Validation{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Validation{}, fmt.Errorf("validate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
			return Validation{}, fmt.Errorf("validate: status %d: %s", resp.StatusCode, er.Error)
		}
		return Validation{}, fmt.Errorf("validate: status %d", resp.StatusCode)
	}

	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Validation{}, fmt.Errorf("decode response: %w", err)
	}
	return v, nil
}
