// Package remote is the stateless HTTP wrapper around the POS backend API.
// It owns bearer-token injection, a fixed per-request timeout, and retries
// for transport-level failures only; explicit 4xx responses are never
// retried here.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TokenSource supplies the current bearer token for a request.
type TokenSource func(ctx context.Context) (string, error)

const (
	requestTimeout    = 30 * time.Second
	transportAttempts = 3
	transportBackoff  = 500 * time.Millisecond
)

// Client talks to the POS backend. It holds no sync state; callers own
// cursors and retry policy beyond the transport level.
type Client struct {
	BaseURL string
	Token   TokenSource
	HTTP    *http.Client

	logger *slog.Logger
}

// NewClient creates a remote client. Token may be nil for the login call
// only; every other endpoint requires it.
func NewClient(baseURL string, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

// do sends one JSON request and decodes the response into out (when out is
// non-nil). Transport failures are retried a bounded number of times; HTTP
// status errors are classified once and returned immediately.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < transportAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &TransportError{Err: ctx.Err()}
			case <-time.After(transportBackoff << (attempt - 1)):
			}
			c.logger.Debug("retrying request after transport failure",
				"method", method, "path", path, "attempt", attempt+1)
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.Token != nil {
			token, err := c.Token(ctx)
			if err != nil {
				return fmt.Errorf("failed to get bearer token: %w", err)
			}
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			// Outcome unknown: could have reached the server. Safe to
			// retry because uploads dedup on entity id.
			lastErr = &TransportError{Err: err}
			continue
		}

		err = c.decodeResponse(resp, out)
		resp.Body.Close()
		return err
	}
	return lastErr
}

func (c *Client) decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr apiError
	_ = json.Unmarshal(raw, &apiErr)
	if apiErr.Message == "" {
		apiErr.Message = string(raw)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrAuthExpired
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict && apiErr.Code == "invoice_number_taken":
		return &NumberingConflictError{Details: apiErr.Message}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ValidationError{Status: resp.StatusCode, Details: apiErr.Message}
	default:
		return &ServerError{Status: resp.StatusCode, Body: apiErr.Message}
	}
}

// Login authenticates and returns the bearer token plus the vendor profile.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", &LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
