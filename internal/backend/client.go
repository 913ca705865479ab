// Package backend is the HTTP client of the authoritative backend: eligibility
// validation, rollback notification and the authoritative item query.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collectord/internal/model"
)

// ErrUnavailable marks transport failures and 5xx responses.
var ErrUnavailable = errors.New("backend unavailable")

// Client talks to the backend REST API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Bearer     string
}

// New creates a backend client.
func New(baseURL, bearer string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		Bearer:     bearer,
	}
}

// EligibilityRequest is the body of the eligibility check.
type EligibilityRequest struct {
	ItemID string           `json:"item_id"`
	Holder string           `json:"holder"`
	Action model.ActionKind `json:"action"`
}

// EligibilityResponse is the backend's verdict.
type EligibilityResponse struct {
	Eligible         bool                    `json:"eligible"`
	Message          string                  `json:"message"`
	ConversionParams *model.ConversionParams `json:"conversion_params,omitempty"`
}

// RollbackRequest notifies the backend that a provisional action failed.
type RollbackRequest struct {
	Holder string `json:"holder"`
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

// ItemsResponse is the authoritative item list of a holder.
type ItemsResponse struct {
	Items []model.Item `json:"items"`
}

// HTTPError is a non-2xx response that is not a server failure.
type HTTPError struct {
	StatusCode int
	Body       map[string]any
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %v", e.StatusCode, e.Body)
}

// VerifyEligibility calls the validation endpoint.
func (c *Client) VerifyEligibility(ctx context.Context, in EligibilityRequest) (*EligibilityResponse, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/v1/eligibility", in)
	if err != nil {
		return nil, err
	}
	return doJSON[EligibilityResponse](c, req)
}

// Rollback notifies the backend of a failed action. The backend treats it
// idempotently; idempotencyKey identifies the pending action.
func (c *Client) Rollback(ctx context.Context, in RollbackRequest, idempotencyKey string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/api/v1/rollback", in)
	if err != nil {
		return err
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	_, err = doJSON[map[string]any](c, req)
	return err
}

// Items returns the authoritative item list of holder.
func (c *Client) Items(ctx context.Context, holder string) ([]model.Item, error) {
	q := url.Values{}
	q.Set("holder", holder)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/items?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	out, err := doJSON[ItemsResponse](c, req)
	if err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func doJSON[T any](c *Client, req *http.Request) (*T, error) {
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: errBody}
	}

	var out T
	if resp.StatusCode == http.StatusNoContent {
		return &out, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return &out, nil
}
